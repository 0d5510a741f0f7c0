// Package window provides bio.Window implementations: an in-process frame
// tree and a child window whose parent is reached over an ipc connection.
package window

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rexliu/biosdk/pkg/bio"
)

// ErrWindowClosed is returned when posting to a closed window.
var ErrWindowClosed = errors.New("window: closed")

// Memory is an in-process window. Posted messages are queued and delivered
// to listeners in FIFO order on the window's own goroutine.
type Memory struct {
	origin string
	parent *Memory

	mu         sync.Mutex
	cond       *sync.Cond
	queue      []bio.MessageEvent
	listeners  []bio.MessageListener
	readyState string
	onLoaded   []func()
	closed     bool
	done       chan struct{}
}

// NewTop creates a top-level window. Its Parent is itself.
func NewTop(origin string) *Memory {
	return newMemory(origin, nil)
}

// Embed creates a child window of m, like an iframe.
func (m *Memory) Embed(origin string) *Memory {
	return newMemory(origin, m)
}

func newMemory(origin string, parent *Memory) *Memory {
	m := &Memory{
		origin:     origin,
		parent:     parent,
		readyState: bio.ReadyStateComplete,
		done:       make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	go m.dispatchLoop()
	return m
}

// Origin reports the window's origin.
func (m *Memory) Origin() string {
	return m.origin
}

// Parent returns the embedding window or m itself.
func (m *Memory) Parent() bio.Frame {
	if m.parent == nil {
		return m
	}
	return &frameRef{target: m.parent, source: m}
}

// From returns a handle for posting into m with source's origin, which is
// how a parent reaches its child.
func (m *Memory) From(source *Memory) bio.Frame {
	return &frameRef{target: m, source: source}
}

// PostMessage posts to m from m itself.
func (m *Memory) PostMessage(data json.RawMessage, targetOrigin string) error {
	return m.deliver(data, targetOrigin, m.origin)
}

// Dispatch queues ev as if it arrived from another frame.
func (m *Memory) Dispatch(ev bio.MessageEvent) error {
	return m.enqueue(ev)
}

// AddMessageListener subscribes fn for the lifetime of the window.
func (m *Memory) AddMessageListener(fn bio.MessageListener) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// ReadyState reports "loading" until FinishLoading is called on a window
// marked with SetLoading.
func (m *Memory) ReadyState() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readyState
}

// SetLoading marks the document as still loading.
func (m *Memory) SetLoading() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readyState = bio.ReadyStateLoading
}

// FinishLoading completes loading and runs deferred content-loaded callbacks.
func (m *Memory) FinishLoading() {
	m.mu.Lock()
	if m.readyState != bio.ReadyStateLoading {
		m.mu.Unlock()
		return
	}
	m.readyState = bio.ReadyStateComplete
	callbacks := m.onLoaded
	m.onLoaded = nil
	m.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

// OnContentLoaded runs fn when loading finishes. Like the DOM event, a
// callback added after loading is never run.
func (m *Memory) OnContentLoaded(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readyState == bio.ReadyStateLoading {
		m.onLoaded = append(m.onLoaded, fn)
	}
}

// Close stops delivery. Queued messages are dropped.
func (m *Memory) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.queue = nil
	m.cond.Broadcast()
	m.mu.Unlock()
	<-m.done
}

func (m *Memory) deliver(data json.RawMessage, targetOrigin, sourceOrigin string) error {
	if targetOrigin != "*" && targetOrigin != m.origin {
		return nil
	}
	copied := make(json.RawMessage, len(data))
	copy(copied, data)
	return m.enqueue(bio.MessageEvent{Data: copied, Origin: sourceOrigin})
}

func (m *Memory) enqueue(ev bio.MessageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrWindowClosed
	}
	m.queue = append(m.queue, ev)
	m.cond.Signal()
	return nil
}

func (m *Memory) dispatchLoop() {
	defer close(m.done)
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.cond.Wait()
		}
		if m.closed {
			m.mu.Unlock()
			return
		}
		ev := m.queue[0]
		m.queue = m.queue[1:]
		listeners := append([]bio.MessageListener(nil), m.listeners...)
		m.mu.Unlock()

		for _, fn := range listeners {
			fn(ev)
		}
	}
}

type frameRef struct {
	target *Memory
	source *Memory
}

func (f *frameRef) PostMessage(data json.RawMessage, targetOrigin string) error {
	return f.target.deliver(data, targetOrigin, f.source.origin)
}
