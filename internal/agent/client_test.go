package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/slopecraft/terrain-cache/internal/core/model"
)

func testRequest() Request {
	return Request{
		SourceAreaBounds: model.Bounds{
			SouthWest: model.Coordinate{Lat: 46.0, Lng: 10.0},
			NorthEast: model.Coordinate{Lat: 46.1, Lng: 10.1},
		},
		OutputGridSize: model.GridMedium,
	}
}

func newClient(t *testing.T, url string, maxAttempts int) *Client {
	t.Helper()
	c, err := New(slog.Default(), http.DefaultClient, Config{
		URL:         url,
		Timeout:     2 * time.Second,
		MaxAttempts: maxAttempts,
		BackoffBase: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// rpcServer answers each request with the given per-call handler and echoes
// the caller's correlation id.
func rpcServer(t *testing.T, handle func(call int, req rpcRequest) rpcResponse) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.JSONRPC != "2.0" || req.Method != "terrain.getElevationData" {
			t.Errorf("unexpected rpc framing: %+v", req)
		}
		n := int(calls.Add(1))
		resp := handle(n, req)
		resp.JSONRPC = "2.0"
		if resp.ID == "" {
			resp.ID = req.ID
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func okResult(t *testing.T) json.RawMessage {
	t.Helper()
	f := model.NewElevationField(4, 4)
	for i := range f.Values {
		f.Values[i] = 1500
	}
	raw, err := json.Marshal(Response{Elevation: f})
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	return raw
}

func TestFetchTerrainData_Success(t *testing.T) {
	srv, calls := rpcServer(t, func(_ int, _ rpcRequest) rpcResponse {
		return rpcResponse{Result: okResult(t)}
	})

	c := newClient(t, srv.URL, 3)
	resp, err := c.FetchTerrainData(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("FetchTerrainData: %v", err)
	}
	if resp.Elevation.Empty() {
		t.Fatal("empty elevation field")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls: %d", calls.Load())
	}
}

func TestFetchTerrainData_RetriesThenSucceeds(t *testing.T) {
	srv, calls := rpcServer(t, func(call int, _ rpcRequest) rpcResponse {
		if call < 3 {
			return rpcResponse{Error: &Error{Code: CodeInternalError, Message: "transient"}}
		}
		return rpcResponse{Result: okResult(t)}
	})

	c := newClient(t, srv.URL, 3)
	resp, err := c.FetchTerrainData(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("FetchTerrainData: %v", err)
	}
	if resp.Elevation.Empty() {
		t.Fatal("empty elevation field")
	}
	if calls.Load() != 3 {
		t.Fatalf("calls: %d", calls.Load())
	}
}

func TestFetchTerrainData_ExhaustedRetriesWrapsErrUnavailable(t *testing.T) {
	srv, calls := rpcServer(t, func(_ int, _ rpcRequest) rpcResponse {
		return rpcResponse{Error: &Error{Code: CodeTimeout, Message: "deadline"}}
	})

	c := newClient(t, srv.URL, 2)
	_, err := c.FetchTerrainData(context.Background(), testRequest())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
	var ae *Error
	if !errors.As(err, &ae) || ae.Code != CodeTimeout {
		t.Fatalf("wrapped wire error lost: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls: %d", calls.Load())
	}
}

func TestFetchTerrainData_MethodNotFoundDoesNotRetry(t *testing.T) {
	srv, calls := rpcServer(t, func(_ int, _ rpcRequest) rpcResponse {
		return rpcResponse{Error: &Error{Code: CodeMethodNotFound, Message: "no such method"}}
	})

	c := newClient(t, srv.URL, 5)
	_, err := c.FetchTerrainData(context.Background(), testRequest())
	var ae *Error
	if !errors.As(err, &ae) || ae.Code != CodeMethodNotFound {
		t.Fatalf("want METHOD_NOT_FOUND, got %v", err)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Fatal("non-retryable error must not be wrapped as unavailable")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls: %d, want exactly 1", calls.Load())
	}
}

func TestFetchTerrainData_CorrelationIDMismatchFails(t *testing.T) {
	srv, _ := rpcServer(t, func(_ int, _ rpcRequest) rpcResponse {
		return rpcResponse{ID: "bogus", Result: okResult(t)}
	})

	c := newClient(t, srv.URL, 1)
	_, err := c.FetchTerrainData(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected correlation id mismatch error")
	}
}

func TestFetchTerrainData_HTTPErrorStatusRetriesAsTransport(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := newClient(t, srv.URL, 2)
	_, err := c.FetchTerrainData(context.Background(), testRequest())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls: %d", calls.Load())
	}
}

func TestFetchTerrainData_ContextCancelStopsRetries(t *testing.T) {
	srv, _ := rpcServer(t, func(_ int, _ rpcRequest) rpcResponse {
		return rpcResponse{Error: &Error{Code: CodeInternalError, Message: "transient"}}
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newClient(t, srv.URL, 5)
	_, err := c.FetchTerrainData(ctx, testRequest())
	if err == nil {
		t.Fatal("expected error with canceled context")
	}
}
