package indexer

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mdao/lm-indexer/internal/domain/event"
)

type Handler interface {
	Handle(ctx context.Context, evt event.Decoded) error
}

type HandlerFunc func(ctx context.Context, evt event.Decoded) error

func (f HandlerFunc) Handle(ctx context.Context, evt event.Decoded) error {
	return f(ctx, evt)
}

// Router maps each event name to exactly one handler.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRouter() *Router {
	return &Router{handlers: map[string]Handler{}}
}

// Register fails with ErrDuplicateHandler when name already has a handler.
func (r *Router) Register(name string, h Handler) error {
	if name == "" {
		return fmt.Errorf("register handler: empty event name")
	}
	if h == nil {
		return fmt.Errorf("register handler for %s: nil handler", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[name]; ok {
		return fmt.Errorf("register handler for %s: %w", name, ErrDuplicateHandler)
	}
	r.handlers[name] = h
	return nil
}

// Route returns the handler for name, or false when the event is not handled.
func (r *Router) Route(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
