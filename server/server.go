// Package server implements a JSON-RPC server that speaks the same envelopes as
// the client: over the framed TCP protocol and over HTTP POST.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → decode envelope → middleware chain → businessHandler → encode envelope → write frame
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/julianpistorius/jsvcgen/codec"
	"github.com/julianpistorius/jsvcgen/message"
	"github.com/julianpistorius/jsvcgen/middleware"
	"github.com/julianpistorius/jsvcgen/protocol"
	"github.com/julianpistorius/jsvcgen/registry"
)

const registrationTTL = 10 // seconds, KeepAlive renews automatically

// Server registers JSON-RPC methods and serves them.
type Server struct {
	mu          sync.RWMutex
	methods     map[string]method
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middleware(middleware(...(businessHandler)))
	buildOnce   sync.Once

	serviceName string
	apiVersion  string
	weight      int
	logger      *zap.Logger

	listener      net.Listener
	wg            sync.WaitGroup // in-flight requests
	admitMu       sync.Mutex     // orders wg.Add against Shutdown's wg.Wait
	shutdown      atomic.Bool
	connsMu       sync.Mutex // guards conns and the fields Serve hands to Shutdown
	conns         map[net.Conn]struct{}
	registry      registry.Registry
	advertiseAddr string
}

// Option configures a Server.
type Option func(*Server)

// WithServiceName sets the name the server registers under.
func WithServiceName(name string) Option {
	return func(s *Server) {
		s.serviceName = name
	}
}

// WithAPIVersion sets the API version advertised to the registry.
func WithAPIVersion(version string) Option {
	return func(s *Server) {
		s.apiVersion = version
	}
}

// WithWeight sets the load balancing weight advertised to the registry.
func WithWeight(weight int) Option {
	return func(s *Server) {
		s.weight = weight
	}
}

// WithLogger sets the logger; nil disables logging.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a server with no methods.
func NewServer(opts ...Option) *Server {
	s := &Server{
		methods:     make(map[string]method),
		conns:       make(map[net.Conn]struct{}),
		serviceName: "jsvc",
		weight:      1,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register exposes every exported method of rcvr shaped func(*Args, *Reply) error
// under its Go method name.
func (s *Server) Register(rcvr any) error {
	methods, err := scanMethods(rcvr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, m := range methods {
		s.methods[name] = m
	}
	return nil
}

// Handle exposes fn under methodName.
func (s *Server) Handle(methodName string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[methodName] = fn
}

// HandleDefault answers every otherwise unknown method with fn.
func (s *Server) HandleDefault(fn HandlerFunc) {
	s.Handle("", fn)
}

// Use registers a middleware. Middlewares apply in the order they are added and
// must be registered before the first request is served.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

func (s *Server) chain() middleware.HandlerFunc {
	s.buildOnce.Do(func() {
		s.handler = middleware.Chain(s.middlewares...)(s.businessHandler)
	})
	return s.handler
}

// ListenAndServe listens on address and calls Serve.
func (s *Server) ListenAndServe(network, address, advertiseAddr string, reg registry.Registry) error {
	ln, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.Serve(ln, advertiseAddr, reg)
}

// Serve optionally registers the server in reg under advertiseAddr, then accepts
// framed connections on ln until Shutdown.
//
// advertiseAddr is what clients dial (e.g., "10.0.0.5:4000"); it differs from the
// listen address because ":4000" is not routable from elsewhere.
func (s *Server) Serve(ln net.Listener, advertiseAddr string, reg registry.Registry) error {
	s.chain()
	if reg != nil && advertiseAddr == "" {
		advertiseAddr = ln.Addr().String()
	}

	s.connsMu.Lock()
	s.listener = ln
	s.registry = reg
	s.advertiseAddr = advertiseAddr
	s.connsMu.Unlock()

	if reg != nil {
		err := reg.Register(context.Background(), s.serviceName, registry.ServiceInstance{
			Addr:    advertiseAddr,
			Weight:  s.weight,
			Version: s.apiVersion,
		}, registrationTTL)
		if err != nil {
			return fmt.Errorf("register %s: %w", s.serviceName, err)
		}
	}

	s.logger.Info("serving", zap.String("addr", ln.Addr().String()), zap.String("service", s.serviceName))

	for {
		conn, err := ln.Accept()
		if err != nil {
			// Shutdown closes the listener; that Accept error is expected
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// handleConn reads frames sequentially and dispatches each request to its own
// goroutine. The per-connection write mutex keeps response frames whole.
func (s *Server) handleConn(conn net.Conn) {
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
		conn.Close()
	}()

	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			return
		}
		if header.MsgType != protocol.MsgTypeRequest {
			continue // heartbeats only keep the connection alive
		}
		if !s.admit() {
			return
		}
		go s.handleRequest(header, body, conn, writeMu)
	}
}

func (s *Server) handleRequest(header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	defer s.wg.Done()

	c := codec.GetCodec(codec.CodecType(header.CodecType))
	result := s.process(context.Background(), c, body)

	writeMu.Lock()
	defer writeMu.Unlock()

	// Same Seq as the request, this is how the client matches responses
	replyHeader := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       header.Seq,
		BodyLen:   uint32(len(result)),
	}
	if err := protocol.Encode(conn, &replyHeader, result); err != nil {
		s.logger.Warn("failed to write response frame", zap.Error(err))
	}
}

// process decodes one request envelope, runs the handler chain and encodes the reply.
func (s *Server) process(ctx context.Context, c codec.Codec, body []byte) []byte {
	var req message.Request
	var resp *message.Response
	if err := c.Decode(body, &req); err != nil {
		resp = message.NewErrorResponse(nil, "xParseError", http.StatusBadRequest, err.Error())
	} else if req.Method == "" {
		resp = message.NewErrorResponse(req.ID, "xInvalidRequest", http.StatusBadRequest, "method is required")
	} else {
		resp = s.chain()(withCodec(ctx, c), &req)
	}

	out, err := c.Encode(resp)
	if err != nil {
		s.logger.Error("failed to encode response", zap.String("method", req.Method), zap.Error(err))
		out, _ = c.Encode(message.NewErrorResponse(req.ID, "xInternalError", http.StatusInternalServerError, "failed to encode result"))
	}
	return out
}

// ServeHTTP answers JSON-RPC envelopes POSTed over HTTP.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := readBody(r)
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if !s.admit() {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()
	out := s.process(r.Context(), codec.GetCodec(codec.CodecTypeJSON), body)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// admit counts a new in-flight request, or reports false once Shutdown has started.
func (s *Server) admit() bool {
	s.admitMu.Lock()
	defer s.admitMu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry so clients stop picking this server
//  2. Set the shutdown flag so the Accept error is recognized as intentional
//     and no new request is admitted
//  3. Close the listener
//  4. Wait for in-flight requests (with timeout), then close open connections
func (s *Server) Shutdown(timeout time.Duration) error {
	s.connsMu.Lock()
	ln, reg, advertiseAddr := s.listener, s.registry, s.advertiseAddr
	s.connsMu.Unlock()

	if reg != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := reg.Deregister(ctx, s.serviceName, advertiseAddr); err != nil {
			s.logger.Warn("deregister failed", zap.Error(err))
		}
		cancel()
	}

	s.admitMu.Lock()
	s.shutdown.Store(true)
	s.admitMu.Unlock()
	if ln != nil {
		ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = errors.New("timeout waiting for ongoing requests to finish")
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()
	return err
}

// businessHandler dispatches to the registered method and maps its outcome to a
// response envelope. It is the innermost layer of the middleware chain.
func (s *Server) businessHandler(ctx context.Context, req *message.Request) *message.Response {
	s.mu.RLock()
	m, ok := s.methods[req.Method]
	if !ok {
		m, ok = s.methods[""]
	}
	s.mu.RUnlock()
	if !ok {
		return message.NewErrorResponse(req.ID, "xUnknownAPIMethod", http.StatusNotFound, "unknown method: "+req.Method)
	}

	c := codecFrom(ctx)
	result, err := m.call(ctx, c, req.Params)
	if err != nil {
		return errorResponse(req.ID, err)
	}

	raw, err := c.Encode(result)
	if err != nil {
		return message.NewErrorResponse(req.ID, "xInternalError", http.StatusInternalServerError, "failed to encode result: "+err.Error())
	}
	return message.NewResponse(req.ID, raw)
}

func errorResponse(id int64, err error) *message.Response {
	var obj *message.ErrorObject
	if errors.As(err, &obj) {
		return &message.Response{ID: id, Error: obj}
	}
	var perr *paramsError
	if errors.As(err, &perr) {
		return message.NewErrorResponse(id, "xInvalidParameter", http.StatusBadRequest, perr.Error())
	}
	return message.NewErrorResponse(id, "xInternalError", http.StatusInternalServerError, err.Error())
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, int64(protocol.MaxBodyLen)))
}

type codecKey struct{}

func withCodec(ctx context.Context, c codec.Codec) context.Context {
	return context.WithValue(ctx, codecKey{}, c)
}

func codecFrom(ctx context.Context) codec.Codec {
	if c, ok := ctx.Value(codecKey{}).(codec.Codec); ok {
		return c
	}
	return codec.GetCodec(codec.CodecTypeJSON)
}

// EchoHandler returns the params it receives; it backs `jsvc serve`.
func EchoHandler(ctx context.Context, params json.RawMessage) (any, error) {
	if len(params) == 0 {
		return json.RawMessage("{}"), nil
	}
	return params, nil
}
