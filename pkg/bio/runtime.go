package bio

import (
	"log"
	"sync"
)

// GlobalName is the well-known name the provider is published under.
const GlobalName = "bio"

// Runtime is the application context a frame's scripts share. It owns the
// provider singleton and a small registry of published globals.
type Runtime struct {
	win    Window
	logger Logger
	opts   []Option

	mu       sync.Mutex
	provider *Provider
	globals  map[string]any
}

// NewRuntime creates a runtime for win. opts apply to the provider it creates.
func NewRuntime(win Window, logger Logger, opts ...Option) *Runtime {
	if logger == nil {
		logger = log.Default()
	}
	return &Runtime{
		win:     win,
		logger:  logger,
		opts:    opts,
		globals: make(map[string]any),
	}
}

// InitBioProvider returns the runtime's provider, creating it on first use.
// Later calls log a warning and return the existing instance unchanged.
func (r *Runtime) InitBioProvider(targetOrigin string) (*Provider, error) {
	if r == nil || r.win == nil {
		return nil, ErrNoWindow
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.provider != nil {
		r.logger.Printf("bio: provider already initialized")
		return r.provider, nil
	}
	opts := append([]Option{WithLogger(r.logger)}, r.opts...)
	opts = append(opts, WithTargetOrigin(targetOrigin))
	p, err := NewProvider(r.win, opts...)
	if err != nil {
		return nil, err
	}
	r.provider = p
	r.globals[GlobalName] = p
	return p, nil
}

// AutoInit initializes the provider now, or once the window finishes loading.
// Initialization errors are logged.
func (r *Runtime) AutoInit() {
	if r == nil || r.win == nil {
		return
	}
	initialize := func() {
		if _, err := r.InitBioProvider(DefaultTargetOrigin); err != nil {
			r.logger.Printf("bio: auto init: %v", err)
		}
	}
	if r.win.ReadyState() == ReadyStateLoading {
		r.win.OnContentLoaded(initialize)
		return
	}
	initialize()
}

// Provider returns the initialized provider, if any.
func (r *Runtime) Provider() (*Provider, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.provider, r.provider != nil
}

// Global looks up a published value such as GlobalName.
func (r *Runtime) Global(name string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.globals[name]
	return v, ok
}

// SetGlobal publishes v under name. The provider's name is reserved.
func (r *Runtime) SetGlobal(name string, v any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == GlobalName {
		return false
	}
	r.globals[name] = v
	return true
}
