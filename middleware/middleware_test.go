package middleware

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/julianpistorius/jsvcgen/message"
)

// echoHandler answers immediately with the request params as result
func echoHandler(ctx context.Context, req *message.Request) *message.Response {
	return message.NewResponse(req.ID, req.Params)
}

// slowHandler takes 200ms
func slowHandler(ctx context.Context, req *message.Request) *message.Response {
	time.Sleep(200 * time.Millisecond)
	return message.NewResponse(req.ID, json.RawMessage(`"ok"`))
}

func failingHandler(ctx context.Context, req *message.Request) *message.Response {
	return message.NewErrorResponse(req.ID, "xVolumeIDDoesNotExist", 500, "volume 9 not found")
}

func newRequest() *message.Request {
	return message.NewRequest(1, "GetVolumeStats", json.RawMessage(`{"volumeID":9}`))
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := LoggingMiddleware(zap.New(core))(echoHandler)

	resp := handler(context.Background(), newRequest())
	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if string(resp.Result) != `{"volumeID":9}` {
		t.Fatalf("expect params echoed, got '%s'", resp.Result)
	}

	entries := logs.FilterMessage("call").All()
	if len(entries) != 1 {
		t.Fatalf("expect 1 call log entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["method"] != "GetVolumeStats" {
		t.Fatalf("expect method field, got %v", entries[0].ContextMap())
	}
}

func TestLoggingFailure(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := LoggingMiddleware(zap.New(core))(failingHandler)

	handler(context.Background(), newRequest())

	entries := logs.FilterMessage("call failed").All()
	if len(entries) != 1 {
		t.Fatalf("expect 1 failure log entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["errorName"] != "xVolumeIDDoesNotExist" {
		t.Fatalf("expect errorName field, got %v", entries[0].ContextMap())
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	resp := handler(context.Background(), newRequest())
	if resp.Error != nil {
		t.Fatalf("expect no error, got '%s'", resp.Error)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	resp := handler(context.Background(), newRequest())
	if resp.Error == nil || resp.Error.Message != "request timed out" {
		t.Fatalf("expect timeout error, got '%v'", resp.Error)
	}
	if resp.Error.Code != "504" || resp.ID != int64(1) {
		t.Fatalf("expect 504 for id 1, got code=%s id=%v", resp.Error.Code, resp.ID)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: the first 2 pass, the 3rd is rejected
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), newRequest())
		if resp.Error != nil {
			t.Fatalf("request %d should pass, got error: %s", i, resp.Error)
		}
	}

	resp := handler(context.Background(), newRequest())
	if resp.Error == nil || resp.Error.Message != "rate limit exceeded" {
		t.Fatalf("request 3 should be rate limited, got: '%v'", resp.Error)
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Request) *message.Response {
				order = append(order, name+".before")
				resp := next(ctx, req)
				order = append(order, name+".after")
				return resp
			}
		}
	}

	handler := Chain(mark("A"), mark("B"), TimeOutMiddleware(500*time.Millisecond))(echoHandler)
	resp := handler(context.Background(), newRequest())
	if resp == nil || resp.Error != nil {
		t.Fatalf("expect success, got %+v", resp)
	}

	expected := []string{"A.before", "B.before", "B.after", "A.after"}
	if len(order) != len(expected) {
		t.Fatalf("expect %v, got %v", expected, order)
	}
	for i := range expected {
		if order[i] != expected[i] {
			t.Fatalf("expect %v, got %v", expected, order)
		}
	}
}
