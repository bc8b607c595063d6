package command

import (
	"context"
	"errors"
	"fmt"
)

var ErrNoHandler = errors.New("no handler registered")

// Request is what a handler receives on activation: the whole tree, the path that
// was resolved and the Operation found there.
type Request struct {
	Tree *Tree
	Path []string
	Op   Operation
}

type HandlerFunc func(ctx context.Context, req Request) error

// Handlers holds one handler per Kind.
type Handlers struct {
	ServerSource HandlerFunc
	ServerSink   HandlerFunc
	ClientSource HandlerFunc
	ClientSink   HandlerFunc
	ShowConfig   HandlerFunc
	Scan         HandlerFunc
	NetInfo      HandlerFunc
	History      HandlerFunc
}

func (h Handlers) lookup(k Kind) HandlerFunc {
	switch k {
	case KindServerSource:
		return h.ServerSource
	case KindServerSink:
		return h.ServerSink
	case KindClientSource:
		return h.ClientSource
	case KindClientSink:
		return h.ClientSink
	case KindShowConfig:
		return h.ShowConfig
	case KindScan:
		return h.Scan
	case KindNetInfo:
		return h.NetInfo
	case KindHistory:
		return h.History
	}
	return nil
}

// Dispatcher resolves key paths against a tree and activates the result.
type Dispatcher struct {
	tree     *Tree
	handlers Handlers
}

func NewDispatcher(tree *Tree, handlers Handlers) *Dispatcher {
	return &Dispatcher{tree: tree, handlers: handlers}
}

// Dispatch resolves keys and runs the matching handler until it returns.
func (d *Dispatcher) Dispatch(ctx context.Context, keys []string) error {
	op, err := d.tree.Resolve(keys)
	if err != nil {
		return err
	}
	return d.Activate(ctx, Request{Tree: d.tree, Path: keys, Op: op})
}

// Activate runs the handler for an already resolved request.
func (d *Dispatcher) Activate(ctx context.Context, req Request) error {
	h := d.handlers.lookup(req.Op.Kind)
	if h == nil {
		return fmt.Errorf("%w for %s", ErrNoHandler, req.Op.Kind)
	}
	return h(ctx, req)
}
