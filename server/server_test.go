package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/julianpistorius/jsvcgen/codec"
	"github.com/julianpistorius/jsvcgen/message"
	"github.com/julianpistorius/jsvcgen/protocol"
	"github.com/julianpistorius/jsvcgen/registry"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

type Arith struct{}

func (a *Arith) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

func (a *Arith) Div(args *Args, reply *Reply) error {
	if args.B == 0 {
		return &message.ErrorObject{Name: "xDivideByZero", Code: "400", Message: "divide by zero"}
	}
	reply.Result = args.A / args.B
	return nil
}

func (a *Arith) Fail(args *Args, reply *Reply) error {
	return errors.New("boom")
}

func startServer(t *testing.T, opts ...Option) (*Server, string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	svr := NewServer(opts...)
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatalf("Failed to register methods: %v", err)
	}
	go svr.Serve(ln, "", nil)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return svr, ln.Addr().String()
}

// roundTrip writes one request frame and reads back the response envelope.
func roundTrip(t *testing.T, conn net.Conn, seq uint32, body []byte) *message.Response {
	t.Helper()

	header := protocol.Header{
		CodecType: protocol.CodecTypeJSON,
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}
	if err := protocol.Encode(conn, &header, body); err != nil {
		t.Fatal(err)
	}

	replyHeader, responseBody, err := protocol.Decode(conn)
	if err != nil {
		t.Fatal(err)
	}
	if replyHeader.Seq != header.Seq {
		t.Fatalf("Expect replyHeader with seq: %v, get %v", header.Seq, replyHeader.Seq)
	}
	if replyHeader.MsgType != protocol.MsgTypeResponse {
		t.Fatalf("Expect response frame, get %v", replyHeader.MsgType)
	}

	var resp message.Response
	if err := json.Unmarshal(responseBody, &resp); err != nil {
		t.Fatal(err)
	}
	return &resp
}

func request(t *testing.T, id int64, method string, params any) []byte {
	t.Helper()

	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatal(err)
	}
	body, err := json.Marshal(message.NewRequest(id, method, raw))
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestServer(t *testing.T) {
	_, addr := startServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	resp := roundTrip(t, conn, 123, request(t, 1, "Add", &Args{1, 2}))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	var reply Reply
	if err := json.Unmarshal(resp.Result, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Result != 3 {
		t.Fatalf("Expect get result = 3, get %v", reply.Result)
	}
}

func TestServerErrors(t *testing.T) {
	_, addr := startServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	tests := []struct {
		name   string
		body   []byte
		errNam string
		code   string
	}{
		{name: "unknown method", body: request(t, 1, "Mul", &Args{1, 2}), errNam: "xUnknownAPIMethod", code: "404"},
		{name: "handler error object", body: request(t, 2, "Div", &Args{1, 0}), errNam: "xDivideByZero", code: "400"},
		{name: "plain handler error", body: request(t, 3, "Fail", &Args{}), errNam: "xInternalError", code: "500"},
		{name: "bad params", body: request(t, 4, "Add", []int{1, 2}), errNam: "xInvalidParameter", code: "400"},
		{name: "missing method", body: []byte(`{"id":5,"json-rpc":"2.0","params":{}}`), errNam: "xInvalidRequest", code: "400"},
		{name: "not json", body: []byte(`not json`), errNam: "xParseError", code: "400"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := roundTrip(t, conn, uint32(i+1), tt.body)
			if resp.Error == nil {
				t.Fatalf("expect error, got result %s", resp.Result)
			}
			if resp.Error.Name != tt.errNam || resp.Error.Code != tt.code {
				t.Errorf("expect %s (%s), got %v", tt.errNam, tt.code, resp.Error)
			}
		})
	}
}

func TestServerHandleAndMiddleware(t *testing.T) {
	var calls atomic.Int32
	svr, addr := startServer(t)
	svr.Handle("Echo", EchoHandler)
	svr.HandleDefault(func(ctx context.Context, params json.RawMessage) (any, error) {
		calls.Add(1)
		return map[string]string{"fallback": "yes"}, nil
	})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	resp := roundTrip(t, conn, 1, request(t, 9, "Echo", map[string]int{"x": 1}))
	if string(resp.Result) != `{"x":1}` {
		t.Errorf("expect echoed params, got %s", resp.Result)
	}
	if id, ok := resp.ID.(float64); !ok || id != 9 {
		t.Errorf("expect id 9, got %v", resp.ID)
	}

	resp = roundTrip(t, conn, 2, request(t, 10, "Anything", nil))
	if resp.Error != nil || !strings.Contains(string(resp.Result), "fallback") {
		t.Errorf("expect default handler, got %+v", resp)
	}
	if calls.Load() != 1 {
		t.Errorf("expect default handler called once, got %d", calls.Load())
	}
}

func TestServerSonicFrames(t *testing.T) {
	_, addr := startServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	body, err := codec.GetCodec(codec.CodecTypeSonic).Encode(message.NewRequest(1, "Add", json.RawMessage(`{"A":20,"B":22}`)))
	if err != nil {
		t.Fatal(err)
	}
	header := protocol.Header{CodecType: protocol.CodecTypeSonic, MsgType: protocol.MsgTypeRequest, Seq: 7}
	if err := protocol.Encode(conn, &header, body); err != nil {
		t.Fatal(err)
	}
	replyHeader, out, err := protocol.Decode(conn)
	if err != nil {
		t.Fatal(err)
	}
	if replyHeader.CodecType != protocol.CodecTypeSonic {
		t.Errorf("expect reply in the request's codec, got %d", replyHeader.CodecType)
	}
	if !bytes.Contains(out, []byte(`"Result":42`)) {
		t.Errorf("unexpected reply %s", out)
	}
}

func TestServeHTTP(t *testing.T) {
	svr := NewServer()
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(svr)
	defer ts.Close()

	resp, err := http.Post(ts.URL, "application/json", bytes.NewReader(request(t, 4, "Add", &Args{2, 3})))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var envelope message.Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatal(err)
	}
	if string(envelope.Result) != `{"Result":5}` {
		t.Errorf("unexpected result %s", envelope.Result)
	}

	get, err := http.Get(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	get.Body.Close()
	if get.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expect 405 for GET, got %d", get.StatusCode)
	}
}

func TestRegisterRejectsInvalidReceivers(t *testing.T) {
	svr := NewServer()
	if err := svr.Register(Arith{}); err == nil {
		t.Error("expect error for non-pointer receiver")
	}
	type empty struct{}
	if err := svr.Register(&empty{}); err == nil {
		t.Error("expect error for receiver without RPC methods")
	}
}

func TestShutdownDeregisters(t *testing.T) {
	reg := registry.NewStaticRegistry("")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	svr := NewServer(WithServiceName("arith"), WithAPIVersion("9.0"))
	svr.Register(&Arith{})

	served := make(chan error, 1)
	go func() { served <- svr.Serve(ln, "", reg) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		instances, _ := reg.Discover(context.Background(), "arith")
		if len(instances) == 1 {
			if instances[0].Version != "9.0" || instances[0].Addr != ln.Addr().String() {
				t.Fatalf("unexpected instance %+v", instances[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatal(err)
	}
	if err := <-served; err != nil {
		t.Errorf("Serve should return nil after Shutdown, got %v", err)
	}
	if instances, _ := reg.Discover(context.Background(), "arith"); len(instances) != 0 {
		t.Errorf("expect deregistered, got %v", instances)
	}
}

func TestShutdownRefusesNewRequests(t *testing.T) {
	svr := NewServer()
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatal(err)
	}
	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	svr.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(request(t, 1, "Add", &Args{1, 2}))))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expect 503 after shutdown, got %d", rec.Code)
	}
}

func TestShutdownWhileServing(t *testing.T) {
	svr := NewServer()
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatal(err)
	}

	body := request(t, 1, "Add", &Args{1, 2})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				rec := httptest.NewRecorder()
				svr.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)))
				if rec.Code != http.StatusOK && rec.Code != http.StatusServiceUnavailable {
					t.Errorf("unexpected status %d", rec.Code)
				}
			}
		}()
	}
	if err := svr.Shutdown(time.Second); err != nil {
		t.Error(err)
	}
	wg.Wait()
}
