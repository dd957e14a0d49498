package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
)

// sleepRecorder replaces the wall-clock sleep in tests.
type sleepRecorder struct {
	slept []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.slept = append(r.slept, d)
	return ctx.Err()
}

func newTestClient(t *testing.T, policy RetryPolicy, rec *sleepRecorder) *Client {
	t.Helper()

	cfg := DefaultConfig()
	cfg.UserAgent = "TestApp/1.0.0"
	cfg.Retry = policy
	cfg.Sleep = rec.sleep

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return c
}

// statusSequence serves the given statuses in order, then 200 with body.
func statusSequence(statuses []int, body string) (http.HandlerFunc, *int32) {
	var calls int32
	return func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if int(n) <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}, &calls
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid config",
			mutate: func(cfg *Config) {},
		},
		{
			name:        "empty user agent",
			mutate:      func(cfg *Config) { cfg.UserAgent = "" },
			expectError: true,
			errorMsg:    "user-agent is required",
		},
		{
			name:        "zero timeout",
			mutate:      func(cfg *Config) { cfg.Timeout = 0 },
			expectError: true,
			errorMsg:    "timeout must be positive (got 0s)",
		},
		{
			name:        "zero attempts",
			mutate:      func(cfg *Config) { cfg.Retry.MaxAttempts = 0 },
			expectError: true,
			errorMsg:    "retry policy: max attempts must be >= 1 (got 0)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			c, err := New(cfg)
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got nil")
					return
				}
				if err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
				return
			}
			if c == nil {
				t.Error("Client is nil")
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		statusCode int
		expected   ErrorClass
	}{
		{404, ErrorClassClient},
		{403, ErrorClassClient},
		{429, ErrorClassRateLimit},
		{500, ErrorClassServer},
		{503, ErrorClassServer},
		{200, ""},
	}

	for _, tt := range tests {
		if got := classifyStatus(tt.statusCode); got != tt.expected {
			t.Errorf("classifyStatus(%d) = %q, want %q", tt.statusCode, got, tt.expected)
		}
	}
}

func TestFetch_Success(t *testing.T) {
	userAgentReceived := ""
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgentReceived = r.Header.Get("User-Agent")
		w.Write([]byte(`{"id":"base1-4"}`))
	}))
	defer server.Close()

	rec := &sleepRecorder{}
	c := newTestClient(t, DefaultRetryPolicy(), rec)

	body, err := c.Fetch(context.Background(), server.URL+"/cards/base1-4")
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if string(body) != `{"id":"base1-4"}` {
		t.Errorf("body = %q", body)
	}
	if userAgentReceived != "TestApp/1.0.0" {
		t.Errorf("User-Agent = %q, want %q", userAgentReceived, "TestApp/1.0.0")
	}
	if len(rec.slept) != 0 {
		t.Errorf("Expected no sleeps, got %v", rec.slept)
	}
}

func TestFetch_SuccessAfterRetry(t *testing.T) {
	handler, calls := statusSequence([]int{503, 429}, "ok")
	server := httptest.NewServer(handler)
	defer server.Close()

	rec := &sleepRecorder{}
	c := newTestClient(t, DefaultRetryPolicy(), rec)

	body, err := c.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if string(body) != "ok" {
		t.Errorf("body = %q, want ok", body)
	}
	if *calls != 3 {
		t.Errorf("Expected 3 calls, got %d", *calls)
	}

	expected := []time.Duration{1 * time.Second, 2 * time.Second}
	if len(rec.slept) != len(expected) {
		t.Fatalf("sleeps = %v, want %v", rec.slept, expected)
	}
	for i := range expected {
		if rec.slept[i] != expected[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, rec.slept[i], expected[i])
		}
	}
}

// The Nth attempt returning a terminal status stops after exactly N calls,
// with sleeps only between attempts 1..N-1.
func TestFetch_TerminalAfterTransient(t *testing.T) {
	policy := DefaultRetryPolicy()

	for n := 1; n <= policy.MaxAttempts; n++ {
		statuses := make([]int, 0, n)
		for i := 0; i < n-1; i++ {
			statuses = append(statuses, http.StatusBadGateway)
		}
		statuses = append(statuses, http.StatusNotFound)

		handler, calls := statusSequence(statuses, "unreachable")
		server := httptest.NewServer(handler)

		rec := &sleepRecorder{}
		c := newTestClient(t, policy, rec)

		_, err := c.Fetch(context.Background(), server.URL)
		server.Close()

		var statusErr *StatusError
		if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
			t.Fatalf("n=%d: expected 404 StatusError, got %v", n, err)
		}
		if errors.Is(err, ErrRetryExhausted) {
			t.Errorf("n=%d: terminal error must not report exhaustion", n)
		}
		if int(*calls) != n {
			t.Errorf("n=%d: calls = %d", n, *calls)
		}
		if len(rec.slept) != n-1 {
			t.Fatalf("n=%d: sleeps = %d, want %d", n, len(rec.slept), n-1)
		}
		for i, d := range rec.slept {
			if d != policy.Backoff(i) {
				t.Errorf("n=%d: sleep[%d] = %v, want %v", n, i, d, policy.Backoff(i))
			}
		}
	}
}

func TestFetch_Exhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	rec := &sleepRecorder{}
	c := newTestClient(t, DefaultRetryPolicy(), rec)

	_, err := c.Fetch(context.Background(), server.URL)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Expected ErrRetryExhausted, got %v", err)
	}

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Expected *ExhaustedError, got %T", err)
	}
	if exhausted.URL != server.URL {
		t.Errorf("URL = %q, want %q", exhausted.URL, server.URL)
	}
	if exhausted.Attempts != 8 {
		t.Errorf("Attempts = %d, want 8", exhausted.Attempts)
	}

	expected := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	if len(rec.slept) != len(expected) {
		t.Fatalf("sleeps = %v", rec.slept)
	}
	for i, secs := range expected {
		if rec.slept[i] != secs*time.Second {
			t.Errorf("sleep[%d] = %v, want %v", i, rec.slept[i], secs*time.Second)
		}
	}
}

func TestFetch_NetworkErrorRetried(t *testing.T) {
	rec := &sleepRecorder{}
	policy := DefaultRetryPolicy()
	policy.MaxAttempts = 3
	c := newTestClient(t, policy, rec)

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://api.example.test/cards",
		httpmock.NewErrorResponder(errors.New("connection refused")))
	c.SetHTTPClient(&http.Client{Transport: transport})

	_, err := c.Fetch(context.Background(), "https://api.example.test/cards")
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Expected ErrRetryExhausted, got %v", err)
	}
	if classOf(err) != ErrorClassNetwork {
		t.Errorf("last error class = %q, want network", classOf(err))
	}
	if got := transport.GetTotalCallCount(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
	if len(rec.slept) != 2 {
		t.Errorf("sleeps = %d, want 2", len(rec.slept))
	}
}

func TestFetch_NetworkErrorThenSuccess(t *testing.T) {
	rec := &sleepRecorder{}
	c := newTestClient(t, DefaultRetryPolicy(), rec)

	transport := httpmock.NewMockTransport()
	failures := 0
	transport.RegisterResponder("GET", "https://api.example.test/cards/x",
		func(req *http.Request) (*http.Response, error) {
			if failures < 2 {
				failures++
				return nil, errors.New("connection reset by peer")
			}
			return httpmock.NewStringResponse(200, `{"id":"x"}`), nil
		})
	c.SetHTTPClient(&http.Client{Transport: transport})

	var out struct {
		ID string `json:"id"`
	}
	if err := c.GetJSON(context.Background(), "https://api.example.test/cards/x", &out); err != nil {
		t.Fatalf("GetJSON() failed: %v", err)
	}
	if out.ID != "x" {
		t.Errorf("ID = %q, want x", out.ID)
	}
	if len(rec.slept) != 2 {
		t.Errorf("sleeps = %d, want 2", len(rec.slept))
	}
}

func TestFetch_TimeoutRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			time.Sleep(200 * time.Millisecond)
		}
		w.Write([]byte("late but fine"))
	}))
	defer server.Close()

	rec := &sleepRecorder{}
	cfg := DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond
	cfg.Sleep = rec.sleep
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	body, err := c.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Expected success after timeout retry, got %v", err)
	}
	if string(body) != "late but fine" {
		t.Errorf("body = %q", body)
	}
	if len(rec.slept) != 1 {
		t.Errorf("sleeps = %d, want 1", len(rec.slept))
	}
}

func TestFetch_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := DefaultConfig()
	cfg.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.Fetch(ctx, server.URL)
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
}

type countingLimiter struct {
	waits int
}

func (l *countingLimiter) Wait(ctx context.Context) error {
	l.waits++
	return nil
}

func TestFetch_LimiterGatesEveryAttempt(t *testing.T) {
	handler, _ := statusSequence([]int{500}, "ok")
	server := httptest.NewServer(handler)
	defer server.Close()

	limiter := &countingLimiter{}
	rec := &sleepRecorder{}
	cfg := DefaultConfig()
	cfg.Limiter = limiter
	cfg.Sleep = rec.sleep
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := c.Fetch(context.Background(), server.URL); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if limiter.waits != 2 {
		t.Errorf("limiter waits = %d, want 2", limiter.waits)
	}
}

func TestGetJSON_PropagatesFetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	c := newTestClient(t, DefaultRetryPolicy(), &sleepRecorder{})

	var v []any
	err := c.GetJSON(context.Background(), server.URL, &v)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected *StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", statusErr.StatusCode)
	}
}

func TestGetJSON_InvalidBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer server.Close()

	c := newTestClient(t, DefaultRetryPolicy(), &sleepRecorder{})

	var v []any
	if err := c.GetJSON(context.Background(), server.URL, &v); err == nil {
		t.Error("Expected decode error, got nil")
	}
}

func TestGetText_ReplacesInvalidUTF8(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OBS_VALUE\n1.1\xff\n"))
	}))
	defer server.Close()

	c := newTestClient(t, DefaultRetryPolicy(), &sleepRecorder{})

	text, err := c.GetText(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("GetText: %v", err)
	}
	if text != "OBS_VALUE\n1.1\uFFFD\n" {
		t.Errorf("text = %q", text)
	}
}
