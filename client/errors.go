package client

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failed call.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindVersionMismatch
	KindTransport
	KindServer
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindVersionMismatch:
		return "version mismatch"
	case KindTransport:
		return "transport"
	case KindServer:
		return "server"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error is a failure raised on the client side of a call.
type Error struct {
	Kind    Kind
	Message string
	// Fields lists the parameters that need a newer API version (KindVersionMismatch).
	Fields []string
	// Raw is the response text that could not be decoded (KindDecode).
	Raw string
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.Fields) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Fields, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Raw != "" {
		fmt.Fprintf(&b, " (response: %s)", e.Raw)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ServerError is the error object a server returned in place of a result.
type ServerError struct {
	Name    string
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %s (%s): %s", e.Name, e.Code, e.Message)
}

// KindOf reports the Kind of the first *Error or *ServerError in err's chain.
func KindOf(err error) Kind {
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return KindServer
	}
	var clientErr *Error
	if errors.As(err, &clientErr) {
		return clientErr.Kind
	}
	return KindUnknown
}

func invalidArgument(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

func decodeError(msg string, raw []byte, cause error) *Error {
	return &Error{Kind: KindDecode, Message: msg, Raw: string(raw), Err: cause}
}
