// Package client is the base runtime generated service clients are built on.
//
// A Service turns a method name and a params value into a JSON-RPC request
// envelope, hands the bytes to a transport.Dispatcher and turns the reply back
// into a typed result or a typed error:
//
//	Call(method, params)
//	  → validate → version gate → Encode → DispatchRequest → Decode → normalize
package client

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/buger/jsonparser"
	"go.uber.org/zap"

	"github.com/julianpistorius/jsvcgen/codec"
	"github.com/julianpistorius/jsvcgen/message"
	"github.com/julianpistorius/jsvcgen/transport"
)

// Sequence hands out request ids. Ids are never reused within a process.
type Sequence struct {
	n atomic.Int64
}

// Next returns the next id, starting at 1.
func (s *Sequence) Next() int64 {
	return s.n.Add(1)
}

// defaultSequence is shared by every Service that was not given its own.
var defaultSequence = &Sequence{}

// Service coordinates calls against one dispatcher. It is safe for concurrent
// use; the only shared mutable state is the id sequence.
type Service struct {
	dispatcher transport.Dispatcher
	codec      codec.Codec
	seq        *Sequence
	logger     *zap.Logger
}

type Option func(*Service)

// WithLogger sets the logger requests and responses are written to at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCodec selects the JSON engine for params and results.
func WithCodec(c codec.Codec) Option {
	return func(s *Service) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithSequence isolates the service's request ids from the process-wide sequence.
func WithSequence(seq *Sequence) Option {
	return func(s *Service) {
		if seq != nil {
			s.seq = seq
		}
	}
}

func New(d transport.Dispatcher, opts ...Option) *Service {
	s := &Service{
		dispatcher: d,
		codec:      codec.GetCodec(codec.CodecTypeJSON),
		seq:        defaultSequence,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dispatcher returns the transport the service sends requests through.
func (s *Service) Dispatcher() transport.Dispatcher {
	return s.dispatcher
}

// Encode builds the request envelope for method and params. Each call consumes
// a new request id.
func (s *Service) Encode(method string, params any) ([]byte, error) {
	if err := validateRequest(method, params); err != nil {
		return nil, err
	}
	raw, err := s.codec.Encode(params)
	if err != nil {
		return nil, invalidArgument("encode params for %s: %v", method, err)
	}
	return s.envelope(method, raw)
}

func (s *Service) envelope(method string, params []byte) ([]byte, error) {
	req := message.NewRequest(s.seq.Next(), method, params)
	data, err := s.codec.Encode(req)
	if err != nil {
		return nil, invalidArgument("encode request for %s: %v", method, err)
	}
	return data, nil
}

// Call sends method with params and decodes the result into result, which must
// be a non-nil pointer.
func (s *Service) Call(ctx context.Context, method string, params, result any) error {
	if err := validateRequest(method, params); err != nil {
		return err
	}
	if !isNonNilPointer(result) {
		return invalidArgument("result must be a non-nil pointer, got %T", result)
	}

	raw, err := s.codec.Encode(params)
	if err != nil {
		return invalidArgument("encode params for %s: %v", method, err)
	}

	if v, ok := params.(Versioned); ok {
		if negotiated := s.dispatcher.Version(); negotiated != "" {
			fields, err := checkVersions(v, raw, negotiated)
			if err != nil {
				return err
			}
			if len(fields) > 0 {
				return &Error{
					Kind:    KindVersionMismatch,
					Message: fmt.Sprintf("%s: parameters not supported by API version %s", method, negotiated),
					Fields:  fields,
				}
			}
		}
	}

	request, err := s.envelope(method, raw)
	if err != nil {
		return err
	}
	s.logger.Debug("request", zap.String("method", method), zap.ByteString("body", request))

	response, err := s.dispatcher.DispatchRequest(ctx, request)
	if err != nil {
		return &Error{Kind: KindTransport, Message: "dispatch " + method, Err: err}
	}
	return s.Decode(response, result)
}

// Send is Call with the result type as a type parameter.
func Send[T any](ctx context.Context, s *Service, method string, params any) (*T, error) {
	result := new(T)
	if err := s.Call(ctx, method, params, result); err != nil {
		return nil, err
	}
	return result, nil
}

// htmlMessage pulls the message out of the HTML error pages some endpoints
// return instead of a JSON-RPC envelope.
var htmlMessage = regexp.MustCompile(`<p> (.*?)</p>`)

// Decode parses a response envelope into result. Comments and trailing commas
// are tolerated. A server error object is returned as a *ServerError.
func (s *Service) Decode(response []byte, result any) error {
	s.logger.Debug("response", zap.ByteString("body", response))

	if !isNonNilPointer(result) {
		return invalidArgument("result must be a non-nil pointer, got %T", result)
	}

	strict, err := codec.Standardize(response)
	if err != nil {
		return notAnEnvelope(response, err)
	}
	if _, typ, _, err := jsonparser.Get(strict); err != nil || typ != jsonparser.Object {
		return notAnEnvelope(response, err)
	}

	if errVal, typ, _, err := jsonparser.Get(strict, "error"); err == nil && typ != jsonparser.Null {
		if typ != jsonparser.Object {
			return decodeError("error field is not an object", response, nil)
		}
		var obj message.ErrorObject
		if err := s.codec.Decode(errVal, &obj); err != nil {
			return decodeError("malformed error object", response, err)
		}
		return &ServerError{Name: obj.Name, Code: obj.Code, Message: obj.Message}
	}

	resultVal, typ, end, err := jsonparser.Get(strict, "result")
	if err != nil || typ == jsonparser.Null {
		return decodeError("response has no result", response, err)
	}
	if typ == jsonparser.String {
		// jsonparser hands strings back without their quotes
		resultVal = strict[end-len(resultVal)-2 : end]
	}
	if err := s.codec.Decode(resultVal, result); err != nil {
		return notAnEnvelope(response, err)
	}

	normalize(result)
	return nil
}

// notAnEnvelope handles a response that is not a JSON-RPC envelope for the
// expected result type: an HTML error page becomes a 404 server error, anything
// else a decode error.
func notAnEnvelope(response []byte, cause error) error {
	if m := htmlMessage.FindSubmatch(response); m != nil {
		return &ServerError{Name: "Not Found", Code: "404", Message: strings.TrimSpace(string(m[1]))}
	}
	return decodeError("problem parsing the response from the server", response, cause)
}

func validateRequest(method string, params any) error {
	if strings.TrimSpace(method) == "" {
		return invalidArgument("method is empty")
	}
	if isNil(params) {
		return invalidArgument("params for %s is nil", method)
	}
	return nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func isNonNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Ptr && !rv.IsNil()
}
