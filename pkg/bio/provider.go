package bio

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mitchellh/mapstructure"

	"github.com/rexliu/biosdk/pkg/event"
)

const (
	// DefaultRequestTimeout bounds how long a request waits for its response.
	DefaultRequestTimeout = 5 * time.Minute
	// DefaultTargetOrigin applies no origin restriction to outbound messages.
	DefaultTargetOrigin = "*"
	// ConnectMethod is sent once when a provider is constructed.
	ConnectMethod = "bio_connect"

	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// Logger is satisfied by logging.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// RequestArgs names the host method and its positional params.
type RequestArgs struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// Call is one request in flight. Done receives the call exactly once.
type Call struct {
	ID     string
	Method string
	Params []any
	Result any
	Error  error
	Done   chan *Call
}

type pendingRequest struct {
	call    *Call
	timer   *clock.Timer
	settled bool
}

// Provider bridges the current window and its parent frame.
type Provider struct {
	win          Window
	targetOrigin string
	timeout      time.Duration
	clock        clock.Clock
	logger       Logger
	emitter      *event.Emitter

	mu        sync.Mutex
	pending   map[string]*pendingRequest
	counter   uint64
	connected atomic.Bool
}

// Option configures a Provider.
type Option func(*Provider)

// WithTargetOrigin restricts outbound messages to origin.
func WithTargetOrigin(origin string) Option {
	return func(p *Provider) {
		if origin != "" {
			p.targetOrigin = origin
		}
	}
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithClock swaps the time source, typically for clock.NewMock in tests.
func WithClock(c clock.Clock) Option {
	return func(p *Provider) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithLogger sets the warning sink.
func WithLogger(l Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProvider attaches a provider to win, subscribes to its messages for the
// lifetime of the window and posts the initial bio_connect request.
func NewProvider(win Window, opts ...Option) (*Provider, error) {
	if win == nil {
		return nil, ErrNoWindow
	}
	p := &Provider{
		win:          win,
		targetOrigin: DefaultTargetOrigin,
		timeout:      DefaultRequestTimeout,
		clock:        clock.New(),
		logger:       log.Default(),
		pending:      make(map[string]*pendingRequest),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.emitter = event.NewEmitter(p.logger)
	win.AddMessageListener(p.handleMessage)

	// Connectivity follows the connect/disconnect events; this call's
	// outcome is not consulted.
	p.Go(RequestArgs{Method: ConnectMethod, Params: []any{}})
	return p, nil
}

// TargetOrigin reports the origin outbound messages are restricted to.
func (p *Provider) TargetOrigin() string {
	return p.targetOrigin
}

func (p *Provider) generateID() string {
	p.counter++
	return fmt.Sprintf("bio_%d_%d", p.clock.Now().UnixMilli(), p.counter)
}

// Go starts a request and returns immediately. The call settles with the
// host's response or with a timeout error, whichever comes first.
func (p *Provider) Go(args RequestArgs) *Call {
	params := args.Params
	if params == nil {
		params = []any{}
	}
	call := &Call{Method: args.Method, Params: params, Done: make(chan *Call, 1)}

	p.mu.Lock()
	call.ID = p.generateID()
	id := call.ID
	entry := &pendingRequest{call: call}
	p.pending[id] = entry
	entry.timer = p.clock.AfterFunc(p.timeout, func() {
		p.settle(id, nil, NewProviderError(CodeInternalError, "Request timeout", nil))
	})
	p.mu.Unlock()

	p.post(&Request{ID: id, Method: args.Method, Params: params})
	return call
}

// Request sends a request and blocks until it settles.
func (p *Provider) Request(args RequestArgs) (any, error) {
	call := <-p.Go(args).Done
	return call.Result, call.Error
}

// RequestInto sends a request and decodes the result into out.
func (p *Provider) RequestInto(args RequestArgs, out any) error {
	result, err := p.Request(args)
	if err != nil {
		return err
	}
	cfg := &mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return err
	}
	if err := decoder.Decode(result); err != nil {
		return fmt.Errorf("decode %s result: %w", args.Method, err)
	}
	return nil
}

func (p *Provider) post(req *Request) {
	if !IsEmbedded(p.win) {
		p.logger.Printf("bio: not running inside a frame, %s request %s not sent", req.Method, req.ID)
		return
	}
	data, err := Encode(req)
	if err != nil {
		p.logger.Printf("bio: encode request %s: %v", req.ID, err)
		return
	}
	if err := p.win.Parent().PostMessage(data, p.targetOrigin); err != nil {
		p.logger.Printf("bio: post request %s: %v", req.ID, err)
	}
}

// settle completes the call for id once. Later attempts find no entry.
func (p *Provider) settle(id string, result any, err error) bool {
	p.mu.Lock()
	entry, ok := p.pending[id]
	if !ok || entry.settled {
		p.mu.Unlock()
		return false
	}
	entry.settled = true
	delete(p.pending, id)
	if entry.timer != nil {
		entry.timer.Stop()
	}
	p.mu.Unlock()

	entry.call.Result = result
	entry.call.Error = err
	entry.call.Done <- entry.call
	return true
}

// Pending reports how many requests are awaiting a response.
func (p *Provider) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// On subscribes h to a host event.
func (p *Provider) On(name string, h *event.Handler) {
	p.emitter.On(name, h)
}

// Off removes h from a host event.
func (p *Provider) Off(name string, h *event.Handler) {
	p.emitter.Off(name, h)
}

// IsConnected reports the last connect/disconnect event seen.
func (p *Provider) IsConnected() bool {
	return p.connected.Load()
}

func (p *Provider) handleMessage(ev MessageEvent) {
	msg, err := Decode(ev.Data)
	if err != nil {
		return
	}
	switch m := msg.(type) {
	case *Response:
		if m.Success {
			p.settle(m.ID, m.Result, nil)
		} else {
			p.settle(m.ID, nil, m.Error.ProviderError())
		}
	case *Event:
		switch m.Event {
		case EventConnect:
			p.connected.Store(true)
		case EventDisconnect:
			p.connected.Store(false)
		}
		p.emitter.Emit(m.Event, m.Args...)
	}
}
