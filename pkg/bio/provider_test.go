package bio

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexliu/biosdk/pkg/event"
)

type fakeWindow struct {
	mu        sync.Mutex
	embedded  bool
	listeners []MessageListener
	posted    []json.RawMessage
	selfPosts int
	ready     string
	onLoaded  []func()
}

func newFakeWindow(embedded bool) *fakeWindow {
	return &fakeWindow{embedded: embedded, ready: ReadyStateComplete}
}

type fakeParent struct {
	w *fakeWindow
}

func (p fakeParent) PostMessage(data json.RawMessage, targetOrigin string) error {
	p.w.mu.Lock()
	defer p.w.mu.Unlock()
	p.w.posted = append(p.w.posted, data)
	return nil
}

func (w *fakeWindow) PostMessage(data json.RawMessage, targetOrigin string) error {
	w.mu.Lock()
	w.selfPosts++
	w.mu.Unlock()
	return nil
}

func (w *fakeWindow) Parent() Frame {
	if w.embedded {
		return fakeParent{w}
	}
	return w
}

func (w *fakeWindow) AddMessageListener(fn MessageListener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

func (w *fakeWindow) ReadyState() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

func (w *fakeWindow) OnContentLoaded(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onLoaded = append(w.onLoaded, fn)
}

func (w *fakeWindow) deliver(t *testing.T, msg any) {
	t.Helper()
	var data []byte
	switch v := msg.(type) {
	case string:
		data = []byte(v)
	case Message:
		var err error
		data, err = Encode(v)
		require.NoError(t, err)
	default:
		var err error
		data, err = json.Marshal(v)
		require.NoError(t, err)
	}
	w.mu.Lock()
	listeners := append([]MessageListener(nil), w.listeners...)
	w.mu.Unlock()
	for _, fn := range listeners {
		fn(MessageEvent{Data: data, Origin: "https://host.example"})
	}
}

func (w *fakeWindow) requests(t *testing.T) []*Request {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*Request, 0, len(w.posted))
	for _, raw := range w.posted {
		msg, err := Decode(raw)
		require.NoError(t, err)
		req, ok := msg.(*Request)
		require.True(t, ok)
		out = append(out, req)
	}
	return out
}

func (w *fakeWindow) lastRequest(t *testing.T) *Request {
	t.Helper()
	reqs := w.requests(t)
	require.NotEmpty(t, reqs)
	return reqs[len(reqs)-1]
}

func newTestProvider(t *testing.T, embedded bool) (*Provider, *fakeWindow, *clock.Mock) {
	t.Helper()
	win := newFakeWindow(embedded)
	mock := clock.NewMock()
	p, err := NewProvider(win, WithClock(mock), WithLogger(nopLogger{}))
	require.NoError(t, err)
	return p, win, mock
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

func waitCall(t *testing.T, call *Call) *Call {
	t.Helper()
	select {
	case c := <-call.Done:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("call %s did not settle", call.ID)
		return nil
	}
}

func assertPending(t *testing.T, call *Call) {
	t.Helper()
	select {
	case <-call.Done:
		t.Fatalf("call %s settled unexpectedly", call.ID)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestNewProviderRequiresWindow(t *testing.T) {
	_, err := NewProvider(nil)
	assert.ErrorIs(t, err, ErrNoWindow)
}

func TestConstructorSendsConnect(t *testing.T) {
	p, win, _ := newTestProvider(t, true)

	reqs := win.requests(t)
	require.Len(t, reqs, 1)
	assert.Equal(t, ConnectMethod, reqs[0].Method)
	assert.Equal(t, []any{}, reqs[0].Params)
	assert.False(t, p.IsConnected())
	assert.Equal(t, "*", p.TargetOrigin())
}

func TestGeneratedIDsAreUnique(t *testing.T) {
	p, _, _ := newTestProvider(t, true)

	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		call := p.Go(RequestArgs{Method: "bio_ping"})
		_, dup := seen[call.ID]
		require.False(t, dup, "duplicate id %s", call.ID)
		seen[call.ID] = struct{}{}
	}
	assert.Regexp(t, `^bio_\d+_\d+$`, p.Go(RequestArgs{Method: "x"}).ID)
}

func TestRoundTripSuccess(t *testing.T) {
	p, win, _ := newTestProvider(t, true)

	call := p.Go(RequestArgs{Method: "foo", Params: []any{1}})
	req := win.lastRequest(t)
	assert.Equal(t, call.ID, req.ID)
	assert.Equal(t, "foo", req.Method)
	assert.Equal(t, []any{float64(1)}, req.Params)

	win.deliver(t, &Response{ID: req.ID, Success: true, Result: "bar"})

	got := waitCall(t, call)
	require.NoError(t, got.Error)
	assert.Equal(t, "bar", got.Result)
	assert.Equal(t, 1, p.Pending(), "only the connect request remains")
}

func TestRoundTripFailure(t *testing.T) {
	p, win, _ := newTestProvider(t, true)

	call := p.Go(RequestArgs{Method: "foo", Params: []any{1}})
	win.deliver(t, &Response{ID: call.ID, Success: false, Error: &ErrorObject{Code: 4001, Message: "rejected", Data: "ctx"}})

	got := waitCall(t, call)
	perr, ok := AsProviderError(got.Error)
	require.True(t, ok)
	assert.Equal(t, CodeUserRejected, perr.Code)
	assert.Equal(t, "rejected", perr.Message)
	assert.Equal(t, "ctx", perr.Data)
	assert.Equal(t, "USER_REJECTED", perr.CodeName())
}

func TestFailureWithoutErrorObject(t *testing.T) {
	p, win, _ := newTestProvider(t, true)

	call := p.Go(RequestArgs{Method: "foo"})
	win.deliver(t, fmt.Sprintf(`{"type":"bio_response","id":%q,"success":false}`, call.ID))

	perr, ok := AsProviderError(waitCall(t, call).Error)
	require.True(t, ok)
	assert.Equal(t, CodeInternalError, perr.Code)
	assert.Equal(t, "Unknown error", perr.Message)
}

func TestRequestTimesOut(t *testing.T) {
	p, _, mock := newTestProvider(t, true)

	call := p.Go(RequestArgs{Method: "slow"})
	mock.Add(DefaultRequestTimeout - time.Second)
	assertPending(t, call)

	mock.Add(time.Second)
	perr, ok := AsProviderError(waitCall(t, call).Error)
	require.True(t, ok)
	assert.Equal(t, -32603, perr.Code)
	assert.Equal(t, "Request timeout", perr.Message)
	assert.Equal(t, 0, p.Pending())
}

func TestSettlesAtMostOnce(t *testing.T) {
	p, win, mock := newTestProvider(t, true)

	call := p.Go(RequestArgs{Method: "foo"})
	win.deliver(t, &Response{ID: call.ID, Success: true, Result: 1.0})
	win.deliver(t, &Response{ID: call.ID, Success: true, Result: 2.0})
	win.deliver(t, &Response{ID: call.ID, Success: false, Error: &ErrorObject{Code: 4001, Message: "late"}})
	mock.Add(DefaultRequestTimeout)

	got := waitCall(t, call)
	assert.Equal(t, 1.0, got.Result)
	assertPending(t, call)
}

func TestResponseAfterTimeoutIsInert(t *testing.T) {
	p, win, mock := newTestProvider(t, true)

	call := p.Go(RequestArgs{Method: "foo"})
	mock.Add(DefaultRequestTimeout)
	got := waitCall(t, call)
	require.Error(t, got.Error)

	require.NotPanics(t, func() {
		win.deliver(t, &Response{ID: call.ID, Success: true, Result: "late"})
	})
	assertPending(t, call)
	assert.Nil(t, call.Result)
}

func TestUnmatchedResponseIsInert(t *testing.T) {
	p, win, _ := newTestProvider(t, true)

	call := p.Go(RequestArgs{Method: "foo"})
	require.NotPanics(t, func() {
		win.deliver(t, `{"type":"bio_response","id":"nonexistent","success":true,"result":1}`)
	})
	assertPending(t, call)
	assert.Equal(t, 2, p.Pending())
}

func TestMalformedMessagesIgnored(t *testing.T) {
	p, win, _ := newTestProvider(t, true)
	call := p.Go(RequestArgs{Method: "foo"})
	fired := 0
	p.On("connect", event.NewHandler(func(args ...any) { fired++ }))

	inputs := []string{
		`null`,
		`"bio_response"`,
		`42`,
		`[1,2]`,
		`{"type":"other","id":"x"}`,
		`{"type":"bio_response","success":true}`,
		fmt.Sprintf(`{"type":"bio_response","id":%q}`, call.ID),
		`{"type":"bio_event","args":[]}`,
		`{"type":"bio_event","event":"connect","args":"nope"}`,
		`{not json`,
		fmt.Sprintf(`{"type":"bio_request","id":%q,"method":"foo","params":[]}`, call.ID),
	}
	for _, in := range inputs {
		require.NotPanics(t, func() { win.deliver(t, in) }, in)
	}
	assertPending(t, call)
	assert.Equal(t, 0, fired)
	assert.False(t, p.IsConnected())
}

func TestEventsDriveConnectionState(t *testing.T) {
	p, win, _ := newTestProvider(t, true)
	var got [][]any
	h := event.NewHandler(func(args ...any) { got = append(got, args) })
	p.On(EventConnect, h)
	p.On(EventDisconnect, h)

	connectReq := win.requests(t)[0]
	win.deliver(t, &Response{ID: connectReq.ID, Success: true, Result: map[string]any{"connected": true}})
	assert.False(t, p.IsConnected(), "the connect response alone does not flip the flag")

	win.deliver(t, &Event{Event: EventConnect, Args: []any{"0x1"}})
	assert.True(t, p.IsConnected())

	win.deliver(t, &Event{Event: EventDisconnect})
	assert.False(t, p.IsConnected())
	assert.Equal(t, [][]any{{"0x1"}, {}}, got)

	p.Off(EventConnect, h)
	win.deliver(t, &Event{Event: EventConnect})
	assert.Len(t, got, 2)
	assert.True(t, p.IsConnected())
}

func TestEventHandlerPanicIsolated(t *testing.T) {
	p, win, _ := newTestProvider(t, true)
	second := false
	p.On("accountsChanged", event.NewHandler(func(args ...any) { panic("bad subscriber") }))
	p.On("accountsChanged", event.NewHandler(func(args ...any) { second = true }))

	require.NotPanics(t, func() {
		win.deliver(t, &Event{Event: "accountsChanged", Args: []any{[]any{"a"}}})
	})
	assert.True(t, second)
}

func TestNotEmbeddedDoesNotSend(t *testing.T) {
	p, win, mock := newTestProvider(t, false)

	call := p.Go(RequestArgs{Method: "foo"})
	assert.Empty(t, win.requests(t))
	win.mu.Lock()
	assert.Equal(t, 0, win.selfPosts)
	win.mu.Unlock()
	assertPending(t, call)

	mock.Add(DefaultRequestTimeout)
	perr, ok := AsProviderError(waitCall(t, call).Error)
	require.True(t, ok)
	assert.Equal(t, "Request timeout", perr.Message)
}

func TestResponsesMayArriveOutOfOrder(t *testing.T) {
	p, win, _ := newTestProvider(t, true)

	first := p.Go(RequestArgs{Method: "a"})
	second := p.Go(RequestArgs{Method: "b"})
	win.deliver(t, &Response{ID: second.ID, Success: true, Result: "B"})
	win.deliver(t, &Response{ID: first.ID, Success: true, Result: "A"})

	assert.Equal(t, "A", waitCall(t, first).Result)
	assert.Equal(t, "B", waitCall(t, second).Result)
}

func TestRequestBlocksUntilResponse(t *testing.T) {
	p, win, _ := newTestProvider(t, true)

	go func() {
		for {
			reqs := win.requests(t)
			if len(reqs) == 2 {
				win.deliver(t, &Response{ID: reqs[1].ID, Success: true, Result: map[string]any{"address": "b1xyz", "chain": "bfmeta"}})
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	var account struct {
		Address string `json:"address"`
		Chain   string `json:"chain"`
	}
	require.NoError(t, p.RequestInto(RequestArgs{Method: "bio_selectAccount"}, &account))
	assert.Equal(t, "b1xyz", account.Address)
	assert.Equal(t, "bfmeta", account.Chain)
}

func TestWithTargetOrigin(t *testing.T) {
	win := newFakeWindow(true)
	p, err := NewProvider(win, WithTargetOrigin("https://wallet.example"), WithRequestTimeout(time.Minute), WithLogger(nopLogger{}))
	require.NoError(t, err)
	assert.Equal(t, "https://wallet.example", p.TargetOrigin())
	assert.Equal(t, time.Minute, p.timeout)
}
