package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rexliu/biosdk/pkg/bio"
	"github.com/rexliu/biosdk/pkg/ipc"
	"github.com/rexliu/biosdk/pkg/metrics"
	"github.com/rexliu/biosdk/pkg/miniapp"
)

// DisconnectMethod asks the host to end the session's connected state.
const DisconnectMethod = "bio_disconnect"

// DefaultLocalOrigin is the origin assigned to unix socket sessions.
const DefaultLocalOrigin = "bio-cli://local"

// ErrServerClosed is returned by operations on a shut down server.
var ErrServerClosed = errors.New("host: server closed")

// Logger is satisfied by logging.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// Server answers bio_request messages and pushes bio_event messages to
// connected sessions.
type Server struct {
	logger      Logger
	metrics     *metrics.Host
	journal     Journal
	allowed     map[string]struct{}
	localOrigin string
	connOpts    []ipc.ConnOption

	mu        sync.RWMutex
	handlers  map[string]HandlerFunc
	sessions  map[*Session]struct{}
	listeners []net.Listener
	closed    bool

	slots    *miniapp.SlotRegistry[*Session]
	inflight sync.WaitGroup
	upgrader websocket.Upgrader
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l Logger) Option { return func(s *Server) { s.logger = l } }

func WithMetrics(m *metrics.Host) Option { return func(s *Server) { s.metrics = m } }

func WithJournal(j Journal) Option { return func(s *Server) { s.journal = j } }

// WithAllowedOrigins rejects requests from any other origin. An empty list
// allows all origins.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		for _, o := range origins {
			if o = strings.TrimSpace(o); o != "" {
				s.allowed[o] = struct{}{}
			}
		}
	}
}

// WithLocalOrigin sets the origin reported for unix socket sessions. An
// empty origin keeps DefaultLocalOrigin.
func WithLocalOrigin(origin string) Option {
	return func(s *Server) {
		if origin != "" {
			s.localOrigin = origin
		}
	}
}

// WithCompression enables zstd frames on unix socket sessions.
func WithCompression(enabled bool) Option {
	return func(s *Server) { s.connOpts = append(s.connOpts, ipc.WithCompression(enabled)) }
}

// NewServer constructs a host with the built-in connect methods installed.
func NewServer(opts ...Option) *Server {
	s := &Server{
		allowed:     make(map[string]struct{}),
		localOrigin: DefaultLocalOrigin,
		handlers:    make(map[string]HandlerFunc),
		sessions:    make(map[*Session]struct{}),
		slots:       miniapp.NewSlotRegistry[*Session](),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	// origins are enforced per request so the client sees a bio error
	s.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	s.Register(bio.ConnectMethod, s.handleConnect)
	s.Register(DisconnectMethod, s.handleDisconnect)
	return s
}

// Register installs a handler for a method, replacing any previous one.
func (s *Server) Register(method string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
}

// LocalOrigin is the origin assigned to unix socket sessions.
func (s *Server) LocalOrigin() string {
	return s.localOrigin
}

// Slots exposes the app slot registry sessions are placed into.
func (s *Server) Slots() *miniapp.SlotRegistry[*Session] {
	return s.slots
}

// ListenUnix accepts sessions on a unix socket at path until ctx is done or
// the server shuts down. A stale socket file is removed first.
func (s *Server) ListenUnix(ctx context.Context, path string) error {
	if s.isClosed() {
		return ErrServerClosed
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()
	context.AfterFunc(ctx, func() { _ = ln.Close() })
	go s.acceptLoop(ctx, ln)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Printf("host: accept error: %v", err)
			continue
		}
		go func() {
			_ = s.Serve(ctx, ipc.NewFramedConn(conn, s.connOpts...), s.localOrigin)
		}()
	}
}

// WebSocketHandler upgrades HTTP requests into sessions. The session origin
// is the request's Origin header.
func (s *Server) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.isClosed() {
			http.Error(w, ErrServerClosed.Error(), http.StatusServiceUnavailable)
			return
		}
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Printf("host: websocket upgrade: %v", err)
			return
		}
		_ = s.Serve(r.Context(), ipc.NewWebSocketConn(ws), r.Header.Get("Origin"))
	})
}

// Serve runs a session over conn until it closes. Requests are handled
// concurrently, so responses may be written out of order.
func (s *Server) Serve(ctx context.Context, conn ipc.Conn, origin string) error {
	sess := &Session{id: uuid.NewString(), origin: origin, conn: conn, server: s}
	if !s.addSession(sess) {
		_ = conn.Close()
		return ErrServerClosed
	}
	defer s.removeSession(sess)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		payload, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		msg, err := bio.Decode(payload)
		if err != nil {
			s.logger.Printf("host: session %s: ignoring message: %v", sess.id, err)
			continue
		}
		req, ok := msg.(*bio.Request)
		if !ok {
			continue
		}
		r := &Request{
			Session:   sess,
			SessionID: sess.id,
			Origin:    origin,
			ID:        req.ID,
			Method:    req.Method,
			Params:    req.Params,
			received:  time.Now(),
		}
		if !s.begin() {
			return ErrServerClosed
		}
		go func() {
			defer s.inflight.Done()
			s.dispatch(ctx, r)
		}()
	}
}

func (s *Server) dispatch(ctx context.Context, r *Request) {
	result, perr := s.call(ctx, r)
	resp := &bio.Response{ID: r.ID, Success: true, Result: result}
	if perr != nil {
		resp = &bio.Response{ID: r.ID, Error: &bio.ErrorObject{Code: perr.Code, Message: perr.Message, Data: perr.Data}}
	}
	data, err := bio.Encode(resp)
	if err != nil {
		s.logger.Printf("host: encode response %s: %v", r.ID, err)
		perr = bio.NewProviderError(bio.CodeInternalError, "Result not serializable", nil)
		data, _ = bio.Encode(&bio.Response{ID: r.ID, Error: &bio.ErrorObject{Code: perr.Code, Message: perr.Message}})
	}
	if err := r.Session.conn.WriteMessage(data); err != nil && !isConnErr(err) {
		s.logger.Printf("host: write response %s: %v", r.ID, err)
	}
	for _, fn := range r.after {
		fn()
	}
	s.record(ctx, r, perr)
}

func (s *Server) call(ctx context.Context, r *Request) (result any, perr *bio.ProviderError) {
	if !s.originAllowed(r.Origin) {
		return nil, bio.NewProviderError(bio.CodeUnauthorized, "Origin not allowed", map[string]any{"origin": r.Origin})
	}
	handler := s.lookupHandler(r.Method)
	if handler == nil {
		if strings.HasPrefix(r.Method, "bio_") {
			return nil, bio.NewProviderError(bio.CodeUnsupportedMethod, "Unsupported method: "+r.Method, nil)
		}
		return nil, bio.NewProviderError(bio.CodeMethodNotFound, "Method not found: "+r.Method, nil)
	}
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Printf("host: handler %s panicked: %v", r.Method, rec)
			result = nil
			perr = bio.NewProviderError(bio.CodeInternalError, fmt.Sprint(rec), nil)
		}
	}()
	return handler(ctx, r)
}

func (s *Server) record(ctx context.Context, r *Request, perr *bio.ProviderError) {
	answered := time.Now()
	outcome := "ok"
	entry := JournalEntry{
		SessionID:  r.SessionID,
		Origin:     r.Origin,
		RequestID:  r.ID,
		Method:     r.Method,
		Params:     r.Params,
		Success:    perr == nil,
		ReceivedAt: r.received,
		AnsweredAt: answered,
	}
	if perr != nil {
		outcome = "error"
		entry.ErrorCode = perr.Code
	}
	s.metrics.ObserveRequest(r.Method, outcome, answered.Sub(r.received))
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Printf("host: journal %s: %v", r.ID, err)
	}
}

func (s *Server) handleConnect(_ context.Context, r *Request) (any, *bio.ProviderError) {
	if len(r.Params) > 0 {
		var p struct {
			AppID string `json:"appId"`
		}
		if err := r.Bind(0, &p); err != nil {
			return nil, InvalidParams(err)
		}
		if p.AppID != "" {
			s.occupy(r.Session, p.AppID)
		}
	}
	r.AfterResponse(func() { s.emit(r.Session, bio.EventConnect) })
	return map[string]any{"connected": true}, nil
}

func (s *Server) handleDisconnect(_ context.Context, r *Request) (any, *bio.ProviderError) {
	s.vacate(r.Session)
	r.AfterResponse(func() { s.emit(r.Session, bio.EventDisconnect) })
	return map[string]any{"connected": false}, nil
}

func (s *Server) occupy(sess *Session, appID string) {
	if prev := sess.setAppID(appID); prev != "" && prev != appID {
		s.slots.UnregisterDesktopAppSlot(prev, sess)
	}
	s.slots.RegisterDesktopAppSlot(appID, sess)
}

func (s *Server) vacate(sess *Session) {
	if appID := sess.setAppID(""); appID != "" {
		s.slots.UnregisterDesktopAppSlot(appID, sess)
	}
}

// Broadcast pushes an event to every session and reports how many received it.
func (s *Server) Broadcast(name string, args ...any) int {
	sent := 0
	for _, sess := range s.snapshot() {
		if s.emit(sess, name, args...) {
			sent++
		}
	}
	return sent
}

// Notify pushes an event to the session occupying appID's slot.
func (s *Server) Notify(appID, name string, args ...any) error {
	sess, ok := s.slots.DesktopAppSlot(appID)
	if !ok {
		return fmt.Errorf("host: no session for app %q", appID)
	}
	return sess.Emit(name, args...)
}

func (s *Server) emit(sess *Session, name string, args ...any) bool {
	if err := sess.Emit(name, args...); err != nil {
		if !isConnErr(err) {
			s.logger.Printf("host: push %s to %s: %v", name, sess.id, err)
		}
		return false
	}
	return true
}

// SessionCount returns the number of connected sessions.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Shutdown stops accepting sessions, pushes disconnect to every session and
// closes them, then waits for in-flight handlers or ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	for _, ln := range listeners {
		_ = ln.Close()
	}
	for _, sess := range s.snapshot() {
		s.emit(sess, bio.EventDisconnect)
		_ = sess.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) addSession(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess] = struct{}{}
	s.metrics.SessionOpened()
	return true
}

// begin registers an in-flight request unless the server is shutting down.
func (s *Server) begin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *Server) removeSession(sess *Session) {
	s.mu.Lock()
	_, ok := s.sessions[sess]
	delete(s.sessions, sess)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.vacate(sess)
	_ = sess.conn.Close()
	s.metrics.SessionClosed()
}

func (s *Server) snapshot() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

func (s *Server) lookupHandler(method string) HandlerFunc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handlers[method]
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.allowed) == 0 {
		return true
	}
	_, ok := s.allowed[origin]
	return ok
}

func (s *Server) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func isConnErr(err error) bool {
	return errors.Is(err, ipc.ErrClosed) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, websocket.ErrCloseSent)
}
