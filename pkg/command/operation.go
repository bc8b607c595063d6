package command

import (
	"encoding/json"
	"fmt"
)

// Direction is the flow of data a role takes on: a source produces, a sink consumes.
type Direction int

const (
	DirectionUnknown Direction = iota
	Source
	Sink
)

func (d Direction) String() string {
	switch d {
	case Source:
		return "source"
	case Sink:
		return "sink"
	default:
		return "unknown"
	}
}

// Opposite returns the complementary direction. Unknown maps to itself.
func (d Direction) Opposite() Direction {
	switch d {
	case Source:
		return Sink
	case Sink:
		return Source
	default:
		return d
	}
}

// ParseDirection parses "source" or "sink".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "source":
		return Source, nil
	case "sink":
		return Sink, nil
	}
	return DirectionUnknown, fmt.Errorf("unknown direction %q", s)
}

func (d Direction) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Transport is the wire a session runs over. Only TCP exists today.
type Transport string

const TransportTCP Transport = "tcp"

// Kind tags an Operation with the handler that activates it.
type Kind int

const (
	KindInvalid Kind = iota
	KindServerSource
	KindServerSink
	KindClientSource
	KindClientSink
	KindShowConfig
	KindScan
	KindNetInfo
	KindHistory
)

var kindNames = map[Kind]string{
	KindServerSource: "server-source",
	KindServerSink:   "server-sink",
	KindClientSource: "client-source",
	KindClientSink:   "client-sink",
	KindShowConfig:   "show-config",
	KindScan:         "scan",
	KindNetInfo:      "netinfo",
	KindHistory:      "history",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsSession reports whether the kind opens a TCP session.
func (k Kind) IsSession() bool {
	switch k {
	case KindServerSource, KindServerSink, KindClientSource, KindClientSink:
		return true
	}
	return false
}

// Operation is the payload of a tree leaf.
type Operation struct {
	Kind      Kind
	Content   string
	Transport Transport
	Port      uint16
	Direction Direction
}

type operationJSON struct {
	Activate  string    `json:"activate"`
	Content   string    `json:"content,omitempty"`
	Transport Transport `json:"transport,omitempty"`
	Port      uint16    `json:"port,omitempty"`
	Direction string    `json:"direction,omitempty"`
}

func (op Operation) MarshalJSON() ([]byte, error) {
	out := operationJSON{Activate: op.Kind.String()}
	if op.Kind.IsSession() {
		out.Content = op.Content
		out.Transport = op.Transport
		out.Port = op.Port
		out.Direction = op.Direction.String()
	}
	return json.Marshal(out)
}

// server and client build the four session variants.
func server(content string, d Direction, port uint16) Operation {
	kind := KindServerSink
	if d == Source {
		kind = KindServerSource
	}
	return Operation{Kind: kind, Content: content, Transport: TransportTCP, Port: port, Direction: d}
}

func client(content string, d Direction, port uint16) Operation {
	kind := KindClientSink
	if d == Source {
		kind = KindClientSource
	}
	return Operation{Kind: kind, Content: content, Transport: TransportTCP, Port: port, Direction: d}
}
