package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Top level keys of the default tree.
const (
	KeyShowConfig = "show_config"
	KeyScan       = "scan"
	KeyAdvertise  = "advertise"
	KeyInteract   = "interact"
	KeyNetInfo    = "netinfo"
	KeyHistory    = "history"
)

const (
	ContentText     = "text"
	DefaultTextPort = 2787
)

var (
	ErrUnknownKey          = errors.New("unknown key")
	ErrIncompleteTraversal = errors.New("incomplete command path")
)

// UnknownKeyError is returned when a path segment has no matching child.
type UnknownKeyError struct {
	Key       string
	Path      []string // segments consumed before Key
	Available []string
}

func (e *UnknownKeyError) Error() string {
	return fmt.Sprintf("invalid %s: %s (available keys: %s)",
		levelName(len(e.Path)), e.Key, strings.Join(e.Available, ", "))
}

func (e *UnknownKeyError) Is(target error) bool { return target == ErrUnknownKey }

// IncompleteTraversalError is returned when a path ends on an intermediate node.
type IncompleteTraversalError struct {
	Path      []string
	Remaining []string
}

func (e *IncompleteTraversalError) Error() string {
	return fmt.Sprintf("missing %s (available keys: %s)",
		levelName(len(e.Path)), strings.Join(e.Remaining, ", "))
}

func (e *IncompleteTraversalError) Is(target error) bool { return target == ErrIncompleteTraversal }

func levelName(depth int) string {
	switch depth {
	case 0:
		return "mode"
	case 1:
		return "content"
	case 2:
		return "direction"
	default:
		return "key"
	}
}

// Node is either an intermediate node with children or a leaf carrying an Operation.
// Nodes are immutable once built.
type Node struct {
	children map[string]*Node
	op       *Operation
}

// Branch builds an intermediate node. The map is copied.
func Branch(children map[string]*Node) *Node {
	n := &Node{children: make(map[string]*Node, len(children))}
	for k, c := range children {
		n.children[k] = c
	}
	return n
}

// Leaf builds a terminal node.
func Leaf(op Operation) *Node {
	return &Node{op: &op}
}

// Keys returns the child keys in sorted order.
func (n *Node) Keys() []string {
	keys := make([]string, 0, len(n.children))
	for k := range n.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Child returns the child under key.
func (n *Node) Child(key string) (*Node, bool) {
	c, ok := n.children[key]
	return c, ok
}

// Operation returns the leaf payload, if any.
func (n *Node) Operation() (Operation, bool) {
	if n.op == nil {
		return Operation{}, false
	}
	return *n.op, true
}

func (n *Node) MarshalJSON() ([]byte, error) {
	if n.op != nil {
		return json.Marshal(n.op)
	}
	// encoding/json sorts map keys
	return json.Marshal(n.children)
}

// Tree is the command hierarchy used by the Dispatcher.
type Tree struct {
	root *Node
}

func NewTree(root *Node) *Tree {
	return &Tree{root: root}
}

func (t *Tree) MarshalJSON() ([]byte, error) {
	return t.root.MarshalJSON()
}

// Resolve walks keys from the root and returns the Operation at the end of the path.
// It has no side effects.
func (t *Tree) Resolve(keys []string) (Operation, error) {
	node := t.root
	for i, key := range keys {
		child, ok := node.children[key]
		if !ok {
			return Operation{}, &UnknownKeyError{
				Key:       key,
				Path:      append([]string(nil), keys[:i]...),
				Available: node.Keys(),
			}
		}
		node = child
	}
	op, ok := node.Operation()
	if !ok {
		return Operation{}, &IncompleteTraversalError{
			Path:      append([]string(nil), keys...),
			Remaining: node.Keys(),
		}
	}
	return op, nil
}

// CheckPairing verifies that for every content type an advertised direction and the
// complementary interact direction agree on the port.
func (t *Tree) CheckPairing() error {
	adv, ok := t.root.Child(KeyAdvertise)
	if !ok {
		return nil
	}
	inter, ok := t.root.Child(KeyInteract)
	if !ok {
		return nil
	}
	for _, content := range adv.Keys() {
		advContent, _ := adv.Child(content)
		interContent, ok := inter.Child(content)
		if !ok {
			continue
		}
		for _, dir := range advContent.Keys() {
			leaf, _ := advContent.Child(dir)
			advOp, ok := leaf.Operation()
			if !ok {
				continue
			}
			peer, ok := interContent.Child(advOp.Direction.Opposite().String())
			if !ok {
				continue
			}
			peerOp, ok := peer.Operation()
			if !ok {
				continue
			}
			if advOp.Port != peerOp.Port {
				return fmt.Errorf("port mismatch for %s: advertise %s uses %d, interact %s uses %d",
					content, advOp.Direction, advOp.Port, peerOp.Direction, peerOp.Port)
			}
		}
	}
	return nil
}

// DefaultTree builds the standard hierarchy. ports maps content type to TCP port;
// a nil map yields text on DefaultTextPort.
func DefaultTree(ports map[string]uint16) *Tree {
	if len(ports) == 0 {
		ports = map[string]uint16{ContentText: DefaultTextPort}
	}
	advertise := make(map[string]*Node, len(ports))
	interact := make(map[string]*Node, len(ports))
	for content, port := range ports {
		advertise[content] = Branch(map[string]*Node{
			Source.String(): Leaf(server(content, Source, port)),
			Sink.String():   Leaf(server(content, Sink, port)),
		})
		interact[content] = Branch(map[string]*Node{
			Source.String(): Leaf(client(content, Source, port)),
			Sink.String():   Leaf(client(content, Sink, port)),
		})
	}
	return NewTree(Branch(map[string]*Node{
		KeyShowConfig: Leaf(Operation{Kind: KindShowConfig}),
		KeyScan:       Leaf(Operation{Kind: KindScan}),
		KeyNetInfo:    Leaf(Operation{Kind: KindNetInfo}),
		KeyHistory:    Leaf(Operation{Kind: KindHistory}),
		KeyAdvertise:  Branch(advertise),
		KeyInteract:   Branch(interact),
	}))
}
