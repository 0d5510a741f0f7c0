// Package event implements a small named-event registry with set semantics
// and per-subscriber panic isolation.
package event

import (
	"log"
	"sync"
)

// HandlerFunc receives the arguments passed to Emit.
type HandlerFunc func(args ...any)

// Handler is a subscription token. Registration identity is the pointer, so
// the same *Handler registered twice for one event is kept once.
type Handler struct {
	fn HandlerFunc
}

// NewHandler wraps fn in a registrable handler.
func NewHandler(fn HandlerFunc) *Handler {
	return &Handler{fn: fn}
}

// Logger is satisfied by logging.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

type handlerSet struct {
	order []*Handler
	index map[*Handler]struct{}
}

// Emitter maps event names to handler sets.
type Emitter struct {
	mu     sync.RWMutex
	events map[string]*handlerSet
	logger Logger
}

// NewEmitter constructs an empty emitter. A nil logger falls back to the
// standard logger.
func NewEmitter(logger Logger) *Emitter {
	return &Emitter{
		events: make(map[string]*handlerSet),
		logger: logger,
	}
}

// On registers h under event. Registering the same handler again is a no-op.
func (e *Emitter) On(event string, h *Handler) {
	if h == nil || h.fn == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.events[event]
	if !ok {
		set = &handlerSet{index: make(map[*Handler]struct{})}
		e.events[event] = set
	}
	if _, dup := set.index[h]; dup {
		return
	}
	set.index[h] = struct{}{}
	set.order = append(set.order, h)
}

// Off removes h from event. The event key is dropped once it has no handlers.
func (e *Emitter) Off(event string, h *Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.events[event]
	if !ok {
		return
	}
	if _, ok := set.index[h]; !ok {
		return
	}
	delete(set.index, h)
	for i, cur := range set.order {
		if cur == h {
			set.order = append(set.order[:i:i], set.order[i+1:]...)
			break
		}
	}
	if len(set.order) == 0 {
		delete(e.events, event)
	}
}

// Emit calls every handler registered for event with args. A panicking
// handler is logged and skipped; Emit itself never panics because of one.
func (e *Emitter) Emit(event string, args ...any) {
	e.mu.RLock()
	set, ok := e.events[event]
	var handlers []*Handler
	if ok {
		handlers = append(handlers, set.order...)
	}
	e.mu.RUnlock()

	for _, h := range handlers {
		e.invoke(event, h, args)
	}
}

func (e *Emitter) invoke(event string, h *Handler, args []any) {
	defer func() {
		if r := recover(); r != nil {
			e.logf("error in event handler for %s: %v", event, r)
		}
	}()
	h.fn(args...)
}

// RemoveAllListeners clears the named events, or every event when none are given.
func (e *Emitter) RemoveAllListeners(events ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(events) == 0 {
		e.events = make(map[string]*handlerSet)
		return
	}
	for _, name := range events {
		delete(e.events, name)
	}
}

// ListenerCount reports how many handlers are registered for event.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if set, ok := e.events[event]; ok {
		return len(set.order)
	}
	return 0
}

// EventNames lists events that currently have handlers.
func (e *Emitter) EventNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.events))
	for name := range e.events {
		names = append(names, name)
	}
	return names
}

func (e *Emitter) logf(format string, v ...any) {
	if e.logger != nil {
		e.logger.Printf(format, v...)
	} else {
		log.Printf(format, v...)
	}
}
