package window

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/rexliu/biosdk/pkg/bio"
	"github.com/rexliu/biosdk/pkg/ipc"
)

// Remote is an embedded window whose parent frame lives at the other end of
// an ipc connection. Messages read from the connection are delivered in
// order on the goroutine running Run.
type Remote struct {
	conn         ipc.Conn
	origin       string
	parentOrigin string

	mu        sync.Mutex
	listeners []bio.MessageListener
}

// NewRemote wraps conn. origin is this window's origin and parentOrigin is
// the origin stamped on inbound messages.
func NewRemote(conn ipc.Conn, origin, parentOrigin string) *Remote {
	return &Remote{conn: conn, origin: origin, parentOrigin: parentOrigin}
}

// Parent returns the connection-backed parent frame.
func (r *Remote) Parent() bio.Frame {
	return remoteParent{r}
}

// PostMessage delivers data to this window's own listeners.
func (r *Remote) PostMessage(data json.RawMessage, targetOrigin string) error {
	if targetOrigin != "*" && targetOrigin != r.origin {
		return nil
	}
	r.dispatch(bio.MessageEvent{Data: data, Origin: r.origin})
	return nil
}

// AddMessageListener subscribes fn for the lifetime of the window.
func (r *Remote) AddMessageListener(fn bio.MessageListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// ReadyState is always complete; there is no document to load.
func (r *Remote) ReadyState() string {
	return bio.ReadyStateComplete
}

// OnContentLoaded never fires because the window is already loaded.
func (r *Remote) OnContentLoaded(func()) {}

// Run reads messages until the connection closes or ctx is done. A clean
// close returns nil.
func (r *Remote) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = r.conn.Close() })
	defer stop()
	for {
		payload, err := r.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, ipc.ErrClosed) {
				return nil
			}
			return err
		}
		r.dispatch(bio.MessageEvent{Data: payload, Origin: r.parentOrigin})
	}
}

// Close closes the underlying connection.
func (r *Remote) Close() error {
	return r.conn.Close()
}

func (r *Remote) dispatch(ev bio.MessageEvent) {
	r.mu.Lock()
	listeners := append([]bio.MessageListener(nil), r.listeners...)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

type remoteParent struct {
	r *Remote
}

// PostMessage forwards data to the far end. Messages addressed to another
// origin are dropped, as a browser would.
func (p remoteParent) PostMessage(data json.RawMessage, targetOrigin string) error {
	if targetOrigin != "*" && p.r.parentOrigin != "" && targetOrigin != p.r.parentOrigin {
		return nil
	}
	return p.r.conn.WriteMessage(data)
}
