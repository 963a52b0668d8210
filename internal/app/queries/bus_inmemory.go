package queries

import (
	"context"
	"fmt"
)

type queryHandler func(ctx context.Context, q Query) (any, error)

type InMemoryBus struct {
	handlers map[Name]queryHandler
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{handlers: make(map[Name]queryHandler)}
}

func (b *InMemoryBus) RegisterRaw(name Name, handler queryHandler) {
	if name == "" {
		panic("queries: empty name registration")
	}
	if _, dup := b.handlers[name]; dup {
		panic(fmt.Sprintf("queries: %s registered twice", name))
	}
	b.handlers[name] = handler
}

func (b *InMemoryBus) Ask(ctx context.Context, query Query) (any, error) {
	h, ok := b.handlers[query.Name()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, query.Name())
	}
	return h(ctx, query)
}

// RegisterHandler registers handler under the name its query type reports.
func RegisterHandler[Q Query, R any](bus *InMemoryBus, handler Handler[Q, R]) {
	if bus == nil {
		panic("queries: nil bus")
	}
	var zero Q
	name := zero.Name()
	bus.RegisterRaw(name, func(ctx context.Context, raw Query) (any, error) {
		q, ok := raw.(Q)
		if !ok {
			return nil, fmt.Errorf("%w: %s got %T", ErrInvalidQuery, name, raw)
		}
		return handler.Handle(ctx, q)
	})
}
