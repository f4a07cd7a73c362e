package chat

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"Syncline/internal/event"
)

// Handler consumes one published envelope. Handlers run synchronously in the
// publishing goroutine and must not block.
type Handler func(event.Envelope)

// Token identifies a subscription for later removal.
type Token struct {
	category event.Type
	id       string
}

type subscriber struct {
	id      string
	handler Handler
}

// Dispatcher is a typed publish/subscribe bus. It owns no state beyond its
// subscriber lists; unknown categories are inert rather than an error.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   map[event.Type][]subscriber
	logger *zap.Logger
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		subs:   make(map[event.Type][]subscriber),
		logger: logger,
	}
}

// Subscribe registers a handler for one category. Handlers for the same
// category run in registration order.
func (d *Dispatcher) Subscribe(t event.Type, h Handler) Token {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := uuid.NewString()
	d.subs[t] = append(d.subs[t], subscriber{id: id, handler: h})
	return Token{category: t, id: id}
}

// Unsubscribe removes a previously registered handler. Unknown tokens are a
// no-op.
func (d *Dispatcher) Unsubscribe(tok Token) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.subs[tok.category]
	for i, s := range subs {
		if s.id == tok.id {
			d.subs[tok.category] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish invokes every handler registered for the envelope's category,
// synchronously and in registration order. A panicking handler is logged and
// does not prevent the remaining handlers from running.
func (d *Dispatcher) Publish(env event.Envelope) {
	d.mu.RLock()
	subs := make([]subscriber, len(d.subs[env.Type]))
	copy(subs, d.subs[env.Type])
	d.mu.RUnlock()

	for _, s := range subs {
		d.invoke(s, env)
	}
}

func (d *Dispatcher) invoke(s subscriber, env event.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked",
				zap.String("type", string(env.Type)),
				zap.Any("panic", r),
			)
		}
	}()
	s.handler(env)
}
