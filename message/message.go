// Package message defines the JSON-RPC envelopes exchanged between client and server.
//
// A Request is the "envelope" for every call. It is built by the client,
// serialized once, and handed to a transport as raw bytes. A Response carries
// either a result or an error object, never both.
package message

import (
	"encoding/json"
	"strconv"
)

// Version is the protocol tag carried by every request envelope.
const Version = "2.0"

// Request carries the data for a single JSON-RPC call.
//
// The version key is "json-rpc" on the wire, which is what the services this
// runtime targets expect.
type Request struct {
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Version string          `json:"json-rpc"`
	Params  json.RawMessage `json:"params"`
}

// Response carries the data for a single JSON-RPC reply.
//
//   - On success: Result is set, Error is nil.
//   - On failure: Error is set, Result is empty.
type Response struct {
	ID     any             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is the structured failure reported inside a response envelope.
//
// Code is kept as a string; on the wire it may arrive as a JSON string or a
// JSON number.
type ErrorObject struct {
	Name    string `json:"name"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error lets handlers return an ErrorObject directly.
func (e *ErrorObject) Error() string {
	return e.Name + " (" + e.Code + "): " + e.Message
}

// UnmarshalJSON accepts a numeric or string code.
func (e *ErrorObject) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name    string          `json:"name"`
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Name = raw.Name
	e.Message = raw.Message
	e.Code = ""
	if len(raw.Code) == 0 || string(raw.Code) == "null" {
		return nil
	}
	if raw.Code[0] == '"' {
		return json.Unmarshal(raw.Code, &e.Code)
	}
	var n json.Number
	if err := json.Unmarshal(raw.Code, &n); err != nil {
		return err
	}
	e.Code = n.String()
	return nil
}

// NewRequest builds a request envelope around already-encoded params.
func NewRequest(id int64, method string, params json.RawMessage) *Request {
	return &Request{
		ID:      id,
		Method:  method,
		Version: Version,
		Params:  params,
	}
}

// NewResponse builds a success envelope.
func NewResponse(id any, result json.RawMessage) *Response {
	return &Response{ID: id, Result: result}
}

// NewErrorResponse builds a failure envelope.
func NewErrorResponse(id any, name string, code int, message string) *Response {
	return &Response{
		ID: id,
		Error: &ErrorObject{
			Name:    name,
			Code:    strconv.Itoa(code),
			Message: message,
		},
	}
}
