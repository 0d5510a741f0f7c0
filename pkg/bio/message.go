package bio

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType tags the envelope union.
type MessageType string

const (
	RequestType  MessageType = "bio_request"
	ResponseType MessageType = "bio_response"
	EventType    MessageType = "bio_event"
)

// Decode errors. The provider treats all of them as "ignore".
var (
	ErrNotObject      = errors.New("bio: message data is not an object")
	ErrUnknownType    = errors.New("bio: unknown message type")
	ErrMalformedShape = errors.New("bio: malformed message")
)

// Message is one of *Request, *Response or *Event.
type Message interface {
	MessageType() MessageType
}

// Request is sent to the host.
type Request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// Response answers a Request with the same ID.
type Response struct {
	ID      string       `json:"id"`
	Success bool         `json:"success"`
	Result  any          `json:"result,omitempty"`
	Error   *ErrorObject `json:"error,omitempty"`
}

// Event is pushed by the host outside request correlation.
type Event struct {
	Event string `json:"event"`
	Args  []any  `json:"args"`
}

// ErrorObject is the wire form of a host failure.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (*Request) MessageType() MessageType  { return RequestType }
func (*Response) MessageType() MessageType { return ResponseType }
func (*Event) MessageType() MessageType    { return EventType }

// ProviderError converts the wire error, defaulting when the host sent none.
func (o *ErrorObject) ProviderError() *ProviderError {
	if o == nil {
		return NewProviderError(CodeInternalError, "Unknown error", nil)
	}
	return NewProviderError(o.Code, o.Message, o.Data)
}

// Encode renders m with its type tag.
func Encode(m Message) (json.RawMessage, error) {
	switch v := m.(type) {
	case *Request:
		params := v.Params
		if params == nil {
			params = []any{}
		}
		return json.Marshal(struct {
			Type MessageType `json:"type"`
			Request
		}{RequestType, Request{ID: v.ID, Method: v.Method, Params: params}})
	case *Response:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
			*Response
		}{ResponseType, v})
	case *Event:
		args := v.Args
		if args == nil {
			args = []any{}
		}
		return json.Marshal(struct {
			Type MessageType `json:"type"`
			Event
		}{EventType, Event{Event: v.Event, Args: args}})
	default:
		return nil, fmt.Errorf("bio: cannot encode %T", m)
	}
}

type envelope struct {
	Type    MessageType     `json:"type"`
	ID      *string         `json:"id"`
	Method  *string         `json:"method"`
	Params  json.RawMessage `json:"params"`
	Success *bool           `json:"success"`
	Result  any             `json:"result"`
	Error   json.RawMessage `json:"error"`
	Event   *string         `json:"event"`
	Args    json.RawMessage `json:"args"`
}

// Decode validates data and returns the typed message it carries.
func Decode(data []byte) (Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedShape, err)
	}
	switch env.Type {
	case ResponseType:
		if env.ID == nil || env.Success == nil {
			return nil, ErrMalformedShape
		}
		resp := &Response{ID: *env.ID, Success: *env.Success, Result: env.Result}
		if !isNull(env.Error) {
			var obj ErrorObject
			if err := json.Unmarshal(env.Error, &obj); err != nil {
				return nil, fmt.Errorf("%w: error: %v", ErrMalformedShape, err)
			}
			resp.Error = &obj
		}
		return resp, nil
	case EventType:
		if env.Event == nil {
			return nil, ErrMalformedShape
		}
		args, err := decodeList(env.Args)
		if err != nil {
			return nil, err
		}
		return &Event{Event: *env.Event, Args: args}, nil
	case RequestType:
		if env.ID == nil || env.Method == nil {
			return nil, ErrMalformedShape
		}
		params, err := decodeList(env.Params)
		if err != nil {
			return nil, err
		}
		return &Request{ID: *env.ID, Method: *env.Method, Params: params}, nil
	default:
		return nil, ErrUnknownType
	}
}

// decodeList accepts a JSON array; a missing or null value is an empty list.
func decodeList(raw json.RawMessage) ([]any, error) {
	if isNull(raw) {
		return []any{}, nil
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("%w: expected array: %v", ErrMalformedShape, err)
	}
	return list, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
