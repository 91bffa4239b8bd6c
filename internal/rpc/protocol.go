package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed marks a line that is not one of the recognised message shapes.
var ErrMalformed = errors.New("malformed rpc message")

// Message is one decoded protocol line: *Request, *Response, or *Event.
type Message interface {
	isMessage()
}

// Request asks the peer to run Method with Params.
type Request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// ErrorObject is the error member of a failed response.
type ErrorObject struct {
	Message string `json:"message"`
}

// Response answers the request with the same ID. Exactly one of Result and
// Error is meaningful; Error is nil for a successful response.
type Response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorObject    `json:"error,omitempty"`
}

// OK reports whether the response carries a result rather than an error.
func (r *Response) OK() bool { return r.Error == nil }

// Event is an unsolicited notification from the peer.
type Event struct {
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// PayloadString returns the payload as a string when it is a JSON string,
// otherwise its raw JSON text.
func (e *Event) PayloadString() string {
	if len(e.Payload) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Payload, &s); err == nil {
		return s
	}
	return string(e.Payload)
}

func (*Request) isMessage()  {}
func (*Response) isMessage() {}
func (*Event) isMessage()    {}

// Encode renders req as one newline-terminated JSON line. Nil params are sent
// as an empty object.
func Encode(req Request) ([]byte, error) {
	if req.Params == nil {
		req.Params = struct{}{}
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request %s: %w", req.Method, err)
	}
	return append(data, '\n'), nil
}

// Decode classifies one line by the members it carries:
//
//	{"id", "method"}          -> *Request
//	{"id", "result"}          -> *Response (success)
//	{"id", "error"}           -> *Response (failure)
//	{"event"} without "id"    -> *Event
//
// Anything else, including a response with both or neither of result and
// error, yields an error wrapping ErrMalformed.
func Decode(line []byte) (Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	rawID, hasID := fields["id"]
	if !hasID {
		return decodeEvent(fields)
	}
	var id int64
	if err := json.Unmarshal(rawID, &id); err != nil {
		return nil, fmt.Errorf("%w: id must be an integer", ErrMalformed)
	}

	if rawMethod, ok := fields["method"]; ok {
		var method string
		if err := json.Unmarshal(rawMethod, &method); err != nil || method == "" {
			return nil, fmt.Errorf("%w: method must be a non-empty string", ErrMalformed)
		}
		var params any
		if raw, ok := fields["params"]; ok {
			params = raw
		}
		return &Request{ID: id, Method: method, Params: params}, nil
	}

	rawResult, hasResult := fields["result"]
	rawErr, hasErr := fields["error"]
	if hasErr && isNull(rawErr) {
		hasErr = false
	}
	switch {
	case hasResult && hasErr:
		return nil, fmt.Errorf("%w: response %d has both result and error", ErrMalformed, id)
	case hasErr:
		var obj ErrorObject
		if err := json.Unmarshal(rawErr, &obj); err != nil {
			return nil, fmt.Errorf("%w: response %d error must be an object", ErrMalformed, id)
		}
		return &Response{ID: id, Error: &obj}, nil
	case hasResult:
		return &Response{ID: id, Result: rawResult}, nil
	default:
		return nil, fmt.Errorf("%w: message %d has neither method, result, nor error", ErrMalformed, id)
	}
}

func decodeEvent(fields map[string]json.RawMessage) (Message, error) {
	rawName, ok := fields["event"]
	if !ok {
		return nil, fmt.Errorf("%w: missing id and event", ErrMalformed)
	}
	var name string
	if err := json.Unmarshal(rawName, &name); err != nil || name == "" {
		return nil, fmt.Errorf("%w: event name must be a non-empty string", ErrMalformed)
	}
	payload := fields["payload"]
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return &Event{Name: name, Payload: payload}, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
