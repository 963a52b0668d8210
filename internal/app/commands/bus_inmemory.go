package commands

import (
	"context"
	"fmt"
)

type commandHandler func(ctx context.Context, cmd Command) (any, error)

// InMemoryBus routes commands to handlers registered in process.
type InMemoryBus struct {
	handlers map[Name]commandHandler
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{handlers: make(map[Name]commandHandler)}
}

// RegisterRaw attaches handler to name. Registering a name twice is a wiring
// bug and panics.
func (b *InMemoryBus) RegisterRaw(name Name, handler commandHandler) {
	if name == "" {
		panic("commands: empty name registration")
	}
	if _, dup := b.handlers[name]; dup {
		panic(fmt.Sprintf("commands: %s registered twice", name))
	}
	b.handlers[name] = handler
}

func (b *InMemoryBus) Dispatch(ctx context.Context, cmd Command) (any, error) {
	h, ok := b.handlers[cmd.Name()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, cmd.Name())
	}
	return h(ctx, cmd)
}

// RegisterHandler registers handler under the name its command type reports.
func RegisterHandler[C Command, R any](bus *InMemoryBus, handler Handler[C, R]) {
	if bus == nil {
		panic("commands: nil bus")
	}
	var zero C
	name := zero.Name()
	bus.RegisterRaw(name, func(ctx context.Context, raw Command) (any, error) {
		cmd, ok := raw.(C)
		if !ok {
			return nil, fmt.Errorf("%w: %s got %T", ErrInvalidCommand, name, raw)
		}
		return handler.Handle(ctx, cmd)
	})
}
