package bio

import "encoding/json"

// Ready states reported by Window.ReadyState.
const (
	ReadyStateLoading  = "loading"
	ReadyStateComplete = "complete"
)

// MessageEvent is one delivered cross-frame message.
type MessageEvent struct {
	Data   json.RawMessage
	Origin string
}

// MessageListener receives messages posted to a window.
type MessageListener func(MessageEvent)

// Frame is anything a message can be posted to.
type Frame interface {
	// PostMessage delivers data if targetOrigin is "*" or matches the
	// receiving frame's origin.
	PostMessage(data json.RawMessage, targetOrigin string) error
}

// Window is the global context a provider lives in.
type Window interface {
	Frame
	// Parent returns the embedding frame, or the window itself when it is
	// top-level.
	Parent() Frame
	// AddMessageListener subscribes for the lifetime of the window.
	AddMessageListener(MessageListener)
	ReadyState() string
	// OnContentLoaded runs fn once the window finishes loading.
	OnContentLoaded(fn func())
}

// IsEmbedded reports whether w has a parent distinct from itself.
func IsEmbedded(w Window) bool {
	parent := w.Parent()
	return parent != nil && parent != Frame(w)
}
