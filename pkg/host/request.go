package host

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/rexliu/biosdk/pkg/bio"
)

// HandlerFunc answers one request with a result or a structured error.
type HandlerFunc func(context.Context, *Request) (any, *bio.ProviderError)

// Request is a decoded bio_request as seen by a handler.
type Request struct {
	Session   *Session
	SessionID string
	Origin    string
	ID        string
	Method    string
	Params    []any

	received time.Time
	after    []func()
}

// Bind decodes params[i] into out using the params' JSON field names.
func (r *Request) Bind(i int, out any) error {
	if i < 0 || i >= len(r.Params) {
		return fmt.Errorf("%s: missing param %d", r.Method, i)
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(r.Params[i]); err != nil {
		return fmt.Errorf("%s: decode param %d: %w", r.Method, i, err)
	}
	return nil
}

// AfterResponse runs fn once the response has been written.
func (r *Request) AfterResponse(fn func()) {
	r.after = append(r.after, fn)
}

// InvalidParams is a convenience for handlers rejecting their input.
func InvalidParams(err error) *bio.ProviderError {
	return bio.NewProviderError(bio.CodeInvalidParams, err.Error(), nil)
}

// JournalEntry describes one answered request.
type JournalEntry struct {
	SessionID  string
	Origin     string
	RequestID  string
	Method     string
	Params     []any
	Success    bool
	ErrorCode  int
	ReceivedAt time.Time
	AnsweredAt time.Time
}

// Journal records answered requests.
type Journal interface {
	Record(ctx context.Context, e JournalEntry) error
}
