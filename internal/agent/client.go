// Package agent is the client for the upstream terrain-data collaborator,
// a JSON-RPC service that supplies full-area elevation and classification
// fields for a source area.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/slopecraft/terrain-cache/internal/core/model"
	"github.com/slopecraft/terrain-cache/internal/core/observability"
	"github.com/slopecraft/terrain-cache/internal/logger"
)

const methodGetElevationData = "terrain.getElevationData"

// Wire error codes. Only DATA_NOT_FOUND, INTERNAL_ERROR and TIMEOUT are
// retryable under the caller's policy.
const (
	CodeDataNotFound   = "DATA_NOT_FOUND"
	CodeInternalError  = "INTERNAL_ERROR"
	CodeTimeout        = "TIMEOUT"
	CodeMethodNotFound = "METHOD_NOT_FOUND"
)

// ErrUnavailable wraps the last failure once retries are exhausted.
var ErrUnavailable = errors.New("upstream terrain data unavailable")

// Error is a structured wire-protocol failure.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("agent error %s: %s", e.Code, e.Message)
}

func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeDataNotFound, CodeInternalError, CodeTimeout:
		return true
	}
	return false
}

// Request asks for the full-area fields of a source area resampled to the
// output grid size.
type Request struct {
	SourceAreaBounds      model.Bounds   `json:"sourceAreaBounds"`
	OutputGridSize        model.GridSize `json:"outputGridSize"`
	IncludeClassification bool           `json:"includeClassification"`
}

// Response carries the upstream fields. Surface is nil when the agent
// supplied no classification.
type Response struct {
	Elevation *model.ElevationField `json:"elevationField"`
	Slope     *model.ElevationField `json:"slopeField,omitempty"`
	Aspect    *model.ElevationField `json:"aspectField,omitempty"`
	Surface   *model.SurfaceField   `json:"surfaceField,omitempty"`
	Metadata  map[string]string     `json:"metadata,omitempty"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

type Config struct {
	URL         string
	Timeout     time.Duration
	MaxAttempts int
	BackoffBase time.Duration
}

type Client struct {
	log     *slog.Logger
	http    *http.Client
	url     *url.URL
	timeout time.Duration
	retries int
	backoff time.Duration
}

func New(log *slog.Logger, hc *http.Client, cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse agent url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 200 * time.Millisecond
	}
	return &Client{
		log:     log,
		http:    hc,
		url:     u,
		timeout: cfg.Timeout,
		retries: cfg.MaxAttempts,
		backoff: cfg.BackoffBase,
	}, nil
}

// FetchTerrainData requests the full-area fields, retrying retryable wire
// errors and transport failures with exponential backoff and jitter.
func (c *Client) FetchTerrainData(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, c.backoff, attempt); err != nil {
				return nil, err
			}
		}

		resp, err := c.call(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var ae *Error
		if errors.As(err, &ae) && !ae.Retryable() {
			return nil, err
		}
		c.log.Warn("agent fetch failed",
			"attempt", attempt+1, "max_attempts", c.retries, "err", err)
	}
	return nil, fmt.Errorf("%w: %w", ErrUnavailable, lastErr)
}

func (c *Client) call(ctx context.Context, req Request) (*Response, error) {
	corrID := logger.NewID()
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      corrID,
		Method:  methodGetElevationData,
		Params:  req,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	ctxReq, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	hreq, err := http.NewRequestWithContext(ctxReq, http.MethodPost, c.url.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json")

	start := time.Now()
	hresp, err := c.http.Do(hreq)
	observability.ObserveUpstreamLatency("terrain_agent", time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctxReq.Err(), context.DeadlineExceeded) {
			return nil, &Error{Code: CodeTimeout, Message: err.Error()}
		}
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = hresp.Body.Close() }()

	if hresp.StatusCode < 200 || hresp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(hresp.Body, 4096))
		return nil, fmt.Errorf("agent status %d: %s", hresp.StatusCode, string(b))
	}

	raw, err := io.ReadAll(hresp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var rpc rpcResponse
	if err := json.Unmarshal(raw, &rpc); err != nil {
		return nil, fmt.Errorf("decode rpc response: %w", err)
	}
	if rpc.ID != corrID {
		return nil, fmt.Errorf("correlation id mismatch: sent %s, got %s", corrID, rpc.ID)
	}
	if rpc.Error != nil {
		return nil, rpc.Error
	}

	var out Response
	if err := json.Unmarshal(rpc.Result, &out); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &out, nil
}

// sleepBackoff waits 2^(attempt-1) * base plus up to 25% jitter.
func sleepBackoff(ctx context.Context, base time.Duration, attempt int) error {
	d := base << (attempt - 1)
	d += time.Duration(rand.Int64N(int64(d)/4 + 1))
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
