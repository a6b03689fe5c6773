package server

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/julianpistorius/jsvcgen/codec"
)

// method is one callable JSON-RPC method.
type method interface {
	call(ctx context.Context, c codec.Codec, params json.RawMessage) (any, error)
}

// HandlerFunc handles one method with raw params.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

func (f HandlerFunc) call(ctx context.Context, c codec.Codec, params json.RawMessage) (any, error) {
	return f(ctx, params)
}

// paramsError marks failures to decode params so they map to xInvalidParameter.
type paramsError struct {
	err error
}

func (e *paramsError) Error() string {
	return "invalid params: " + e.err.Error()
}

func (e *paramsError) Unwrap() error {
	return e.err
}

type methodType struct {
	method    reflect.Method
	rcvr      reflect.Value
	ArgType   reflect.Type
	ReplyType reflect.Type
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// scanMethods collects the receiver's exported methods shaped
// func(*Args, *Reply) error, keyed by method name.
func scanMethods(rcvr any) (map[string]*methodType, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("rpc: rcvr must be a pointer, got %v", typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("rpc: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	val := reflect.ValueOf(rcvr)

	methods := make(map[string]*methodType)
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		if m.Type.NumIn() != 3 || m.Type.NumOut() != 1 || m.Type.Out(0) != errorType ||
			m.Type.In(1).Kind() != reflect.Ptr || m.Type.In(2).Kind() != reflect.Ptr {
			continue
		}
		methods[m.Name] = &methodType{
			method:    m,
			rcvr:      val,
			ArgType:   m.Type.In(1).Elem(),
			ReplyType: m.Type.In(2).Elem(),
		}
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("rpc: %s has no methods of the form func(*Args, *Reply) error", typ.Elem().Name())
	}
	return methods, nil
}

// call decodes params into a fresh *Args, invokes receiver.Method(args, reply)
// and returns the reply.
func (m *methodType) call(ctx context.Context, c codec.Codec, params json.RawMessage) (any, error) {
	argv := reflect.New(m.ArgType)
	replyv := reflect.New(m.ReplyType)

	if len(params) > 0 && string(params) != "null" {
		if err := c.Decode(params, argv.Interface()); err != nil {
			return nil, &paramsError{err: err}
		}
	}

	args := [3]reflect.Value{m.rcvr, argv, replyv}
	results := m.method.Func.Call(args[:])
	if !results[0].IsNil() {
		return nil, results[0].Interface().(error)
	}
	return replyv.Interface(), nil
}
