package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPProvider_Call(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad request body: %v", err)
			return
		}
		if req["jsonrpc"] != "2.0" {
			t.Errorf("expected jsonrpc 2.0, got %v", req["jsonrpc"])
		}
		if req["method"] != "eth_blockNumber" {
			t.Errorf("expected eth_blockNumber, got %v", req["method"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x10"}`))
	}))
	defer server.Close()

	p := NewHTTPProvider("test", server.URL, 5*time.Second)
	res, err := p.Call(context.Background(), "eth_blockNumber", nil)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if string(res) != `"0x10"` {
		t.Errorf("expected raw result \"0x10\", got %s", res)
	}
	if !p.Health().Available {
		t.Error("provider should be available after success")
	}
}

func TestHTTPProvider_RPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid params"}}`))
	}))
	defer server.Close()

	p := NewHTTPProvider("test", server.URL, 5*time.Second)
	_, err := p.Call(context.Background(), "eth_getLogs", []any{map[string]any{}})

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *RPCError, got %v", err)
	}
	if rpcErr.Code != -32602 {
		t.Errorf("expected code -32602, got %d", rpcErr.Code)
	}
}

func TestHTTPProvider_Throttled(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewHTTPProvider("test", server.URL, 5*time.Second)
	if _, err := p.Call(context.Background(), "eth_chainId", nil); err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected 429 error, got %v", err)
	}

	// The monitor now short-circuits without hitting the server.
	_, err := p.Call(context.Background(), "eth_chainId", nil)
	if !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 server call, got %d", calls)
	}
	if ra := p.Monitor.GetRetryAfter(); ra <= 0 || ra > 30*time.Second {
		t.Errorf("unexpected retry after %v", ra)
	}
}

func TestMonitor_DetectThrottlePattern(t *testing.T) {
	m := NewProviderMonitor()
	if !m.DetectThrottlePattern("Project Rate Limit exceeded") {
		t.Error("expected throttle pattern match")
	}
	if m.DetectThrottlePattern("execution reverted") {
		t.Error("unexpected throttle pattern match")
	}
}

func TestMonitor_AverageLatency(t *testing.T) {
	m := NewProviderMonitor()
	for i := 0; i < 60; i++ {
		m.RecordRequest(100 * time.Millisecond)
	}
	stats := m.GetStats()
	if stats.AverageLatency != 100*time.Millisecond {
		t.Errorf("expected 100ms average, got %v", stats.AverageLatency)
	}
	if stats.Requests != 60 {
		t.Errorf("expected 60 requests, got %d", stats.Requests)
	}
	if stats.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", stats.Status)
	}
}
