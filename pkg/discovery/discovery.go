package discovery

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/udit2303/comp2/pkg/command"
)

// Every content, direction and transport shares this one service type; peers tell
// announcements apart by their TXT properties.
const (
	ServiceType = "_comp2._tcp"
	Domain      = "local."
)

// TXT property keys
const (
	PropContent   = "content"
	PropTransport = "transport"
	PropDirection = "direction"
	PropPort      = "port"
)

var ErrMalformedAnnouncement = errors.New("malformed announcement")

// Announcement describes a service one peer offers to the LAN.
type Announcement struct {
	Content   string
	Transport string
	Direction command.Direction
	Port      uint16
	Address   net.IP
}

// AnnouncementFor builds the announcement an advertise operation publishes.
func AnnouncementFor(op command.Operation, addr net.IP) Announcement {
	return Announcement{
		Content:   op.Content,
		Transport: string(op.Transport),
		Direction: op.Direction,
		Port:      op.Port,
		Address:   addr,
	}
}

// Text encodes the announcement as DNS-SD TXT strings.
func (a Announcement) Text() []string {
	return []string{
		PropContent + "=" + a.Content,
		PropTransport + "=" + a.Transport,
		PropDirection + "=" + a.Direction.String(),
		PropPort + "=" + strconv.FormatUint(uint64(a.Port), 10),
	}
}

// ComplementaryPath is the local command path that pairs with this announcement:
// the same content with the opposite direction.
func (a Announcement) ComplementaryPath() []string {
	return []string{command.KeyInteract, a.Content, a.Direction.Opposite().String()}
}

// Properties are decoded TXT key/value pairs.
type Properties map[string]string

// DecodeText turns TXT strings into Properties. A string without '=' is a key
// with an empty value. Keys and values must be valid UTF-8.
func DecodeText(txt []string) (Properties, error) {
	props := make(Properties, len(txt))
	for _, s := range txt {
		if !utf8.ValidString(s) {
			return nil, fmt.Errorf("%w: property %q is not UTF-8", ErrMalformedAnnouncement, s)
		}
		k, v, _ := strings.Cut(s, "=")
		if k == "" {
			continue
		}
		props[k] = v
	}
	return props, nil
}

// Announcement parses the four announcement properties.
func (p Properties) Announcement() (Announcement, error) {
	var a Announcement
	for _, k := range []string{PropContent, PropTransport, PropDirection, PropPort} {
		if _, ok := p[k]; !ok {
			return a, fmt.Errorf("%w: missing %s", ErrMalformedAnnouncement, k)
		}
	}
	dir, err := command.ParseDirection(p[PropDirection])
	if err != nil {
		return a, fmt.Errorf("%w: %v", ErrMalformedAnnouncement, err)
	}
	port, err := strconv.ParseUint(p[PropPort], 10, 16)
	if err != nil {
		return a, fmt.Errorf("%w: bad port %q", ErrMalformedAnnouncement, p[PropPort])
	}
	a.Content = p[PropContent]
	a.Transport = p[PropTransport]
	a.Direction = dir
	a.Port = uint16(port)
	return a, nil
}

func (p Properties) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + p[k]
	}
	return strings.Join(parts, " ")
}

// DiscoveredPeer is one announcement seen while scanning.
type DiscoveredPeer struct {
	ServiceName string
	Properties  Properties
	Address     net.IP
}

// Announcement decodes the peer's properties.
func (p DiscoveredPeer) Announcement() (Announcement, error) {
	a, err := p.Properties.Announcement()
	if err != nil {
		return a, fmt.Errorf("%s: %w", p.ServiceName, err)
	}
	a.Address = p.Address
	return a, nil
}

func (p DiscoveredPeer) String() string {
	addr := "?"
	if p.Address != nil {
		addr = p.Address.String()
	}
	return fmt.Sprintf("%s at %s %s", p.ServiceName, addr, p.Properties)
}

func (p DiscoveredPeer) equal(o DiscoveredPeer) bool {
	if p.ServiceName != o.ServiceName || !p.Address.Equal(o.Address) || len(p.Properties) != len(o.Properties) {
		return false
	}
	for k, v := range p.Properties {
		if ov, ok := o.Properties[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// AnnouncementError reports a failure to publish or withdraw an announcement.
type AnnouncementError struct {
	Op       string
	Instance string
	Err      error
}

func (e *AnnouncementError) Error() string {
	return fmt.Sprintf("announcement %s %s: %v", e.Op, e.Instance, e.Err)
}

func (e *AnnouncementError) Unwrap() error { return e.Err }

// InvalidSelectionError is an operator choice that does not name a candidate.
type InvalidSelectionError struct {
	Input string
	Count int
}

func (e *InvalidSelectionError) Error() string {
	if e.Count == 0 {
		return fmt.Sprintf("invalid selection %q: no candidates discovered yet", e.Input)
	}
	return fmt.Sprintf("invalid selection %q: choose 0-%d, empty line to list, q to quit", e.Input, e.Count-1)
}
