package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPDispatcher(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expect POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expect application/json, got %q", ct)
		}
		if r.Header.Get("X-Request-Id") == "" {
			t.Error("expect X-Request-Id")
		}
		if r.Header.Get("Authorization") != "Basic abc" {
			t.Errorf("expect static header, got %q", r.Header.Get("Authorization"))
		}
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	}))
	defer ts.Close()

	d := NewHTTPDispatcher(ts.URL, "8.4", WithHeader("Authorization", "Basic abc"), WithHTTPClient(ts.Client()))
	if d.Version() != "8.4" {
		t.Fatalf("expect 8.4, got %q", d.Version())
	}
	resp, err := d.DispatchRequest(context.Background(), []byte(`{"id":1}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != `{"id":1}` {
		t.Fatalf("unexpected response %s", resp)
	}
}

func TestHTTPDispatcherErrorStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{name: "error page is returned", status: http.StatusNotFound, body: "<p> gone</p>"},
		{name: "error envelope is returned", status: http.StatusInternalServerError, body: `{"error":{}}`},
		{name: "empty error body fails", status: http.StatusBadGateway, body: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			resp, err := NewHTTPDispatcher(ts.URL, "").DispatchRequest(context.Background(), []byte(`{}`))
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), "502") {
					t.Fatalf("expect status error, got %v (%s)", err, resp)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if string(resp) != tt.body {
				t.Errorf("expect body %q, got %q", tt.body, resp)
			}
		})
	}
}

func TestHTTPDispatcherUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	if _, err := NewHTTPDispatcher(url, "").DispatchRequest(context.Background(), []byte(`{}`)); err == nil {
		t.Fatal("expect error for closed server")
	}
}
