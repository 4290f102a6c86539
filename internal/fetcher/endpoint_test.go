package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

type hitRecorder struct {
	mu   sync.Mutex
	hits []time.Time
}

func (h *hitRecorder) record() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hits = append(h.hits, time.Now())
	return len(h.hits)
}

func (h *hitRecorder) snapshot() []time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Time(nil), h.hits...)
}

func TestEndpointFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"nav": 500.25})
	}))
	defer srv.Close()

	ep := NewEndpoint(EndpointOptions{Timeout: time.Second, BaseDelay: time.Millisecond}, noopLogger())
	resp, err := ep.Fetch(context.Background(), srv.URL+"/api/spy-nav")
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if resp.StatusCode != http.StatusOK || len(resp.Body) == 0 {
		t.Fatalf("响应不完整: %+v", resp)
	}
}

func TestEndpointRetryExhaustion(t *testing.T) {
	rec := &hitRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record()
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"details": "upstream quote provider down"})
	}))
	defer srv.Close()

	const baseDelay = 20 * time.Millisecond
	var (
		mu     sync.Mutex
		delays []time.Duration
	)
	ep := NewEndpoint(EndpointOptions{
		Timeout:     time.Second,
		MaxAttempts: 3,
		BaseDelay:   baseDelay,
		OnRetry: func(url string, attempt int, delay time.Duration, err error) {
			mu.Lock()
			defer mu.Unlock()
			delays = append(delays, delay)
		},
	}, noopLogger())

	_, err := ep.Fetch(context.Background(), srv.URL)
	failure, ok := AsFetchFailure(err)
	if !ok {
		t.Fatalf("应返回 FetchFailure, 实际 %T %v", err, err)
	}
	if failure.Attempts != 3 {
		t.Fatalf("应尝试 3 次, 实际 %d", failure.Attempts)
	}
	if failure.Kind != KindHTTPStatus || failure.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("分类错误: %+v", failure)
	}
	if failure.Detail != "upstream quote provider down" {
		t.Fatalf("应保留服务端 details, 实际 %q", failure.Detail)
	}
	if failure.URL != srv.URL {
		t.Fatalf("URL 不一致: %s", failure.URL)
	}

	hits := rec.snapshot()
	if len(hits) != 3 {
		t.Fatalf("服务端应收到 3 次请求, 实际 %d", len(hits))
	}
	for i := 1; i < len(hits); i++ {
		if gap := hits[i].Sub(hits[i-1]); gap < baseDelay {
			t.Fatalf("第 %d 次重试间隔 %s 小于 %s", i, gap, baseDelay)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(delays) != 2 {
		t.Fatalf("应等待 2 次 (最后一次失败后不等待), 实际 %d", len(delays))
	}
	for _, d := range delays {
		if d != baseDelay {
			t.Fatalf("固定退避应为 %s, 实际 %s", baseDelay, d)
		}
	}
}

func TestEndpointRecoversAfterFailures(t *testing.T) {
	rec := &hitRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rec.record() < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"price":499.75}`))
	}))
	defer srv.Close()

	attempts := 0
	ep := NewEndpoint(EndpointOptions{
		Timeout:     time.Second,
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		OnAttempt:   func(string, int, error) { attempts++ },
	}, noopLogger())

	if _, err := ep.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("第三次应成功: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("OnAttempt 应调用 3 次, 实际 %d", attempts)
	}
}

func TestEndpointTimeoutClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ep := NewEndpoint(EndpointOptions{Timeout: 30 * time.Millisecond, MaxAttempts: 2, BaseDelay: time.Millisecond}, noopLogger())
	_, err := ep.Fetch(context.Background(), srv.URL)
	failure, ok := AsFetchFailure(err)
	if !ok {
		t.Fatalf("应返回 FetchFailure: %v", err)
	}
	if failure.Kind != KindTimeout {
		t.Fatalf("超时应分类为 timeout, 实际 %s", failure.Kind)
	}
	if failure.Attempts != 2 {
		t.Fatalf("应尝试 2 次, 实际 %d", failure.Attempts)
	}
}

func TestEndpointNetworkClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	ep := NewEndpoint(EndpointOptions{Timeout: time.Second, MaxAttempts: 1}, noopLogger())
	_, err := ep.Fetch(context.Background(), url)
	failure, ok := AsFetchFailure(err)
	if !ok {
		t.Fatalf("应返回 FetchFailure: %v", err)
	}
	if failure.Kind != KindNetwork || failure.Attempts != 1 {
		t.Fatalf("连接失败应分类为 network 且只尝试一次: %+v", failure)
	}
}

func TestEndpointExponentialBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var delays []time.Duration
	ep := NewEndpoint(EndpointOptions{
		Timeout:     time.Second,
		MaxAttempts: 3,
		BaseDelay:   5 * time.Millisecond,
		Backoff:     BackoffExponential,
		OnRetry: func(_ string, _ int, delay time.Duration, _ error) {
			delays = append(delays, delay)
		},
	}, noopLogger())

	if _, err := ep.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("HTTP 500 应返回错误")
	}
	if len(delays) != 2 || delays[1] <= delays[0] {
		t.Fatalf("指数退避应递增: %v", delays)
	}
}

func TestEndpointHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ep := NewEndpoint(EndpointOptions{
		Timeout:   time.Second,
		UserAgent: "test-agent",
		AuthToken: "secret",
		Headers:   map[string]string{"X-Client": "dashboard"},
	}, noopLogger())

	if _, err := ep.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatal(err)
	}
	if got.Get("User-Agent") != "test-agent" {
		t.Fatalf("User-Agent 不正确: %q", got.Get("User-Agent"))
	}
	if got.Get("Authorization") != "Bearer secret" {
		t.Fatalf("Authorization 不正确: %q", got.Get("Authorization"))
	}
	if got.Get("X-Client") != "dashboard" {
		t.Fatalf("自定义 header 丢失")
	}
}

func TestEndpointParentContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ep := NewEndpoint(EndpointOptions{Timeout: time.Second, MaxAttempts: 3, BaseDelay: time.Second}, noopLogger())
	_, err := ep.Fetch(ctx, srv.URL)
	if _, ok := AsFetchFailure(err); !ok {
		t.Fatalf("取消的上下文也应包装为 FetchFailure: %v", err)
	}
}

func TestEndpointMaxDuration(t *testing.T) {
	cases := []struct {
		name string
		opts EndpointOptions
		want time.Duration
	}{
		{"defaults", EndpointOptions{}, 3*15*time.Second + 2*time.Second},
		{"single attempt", EndpointOptions{Timeout: time.Second, MaxAttempts: 1}, time.Second},
		{"exponential", EndpointOptions{Timeout: time.Second, MaxAttempts: 4, BaseDelay: time.Second, Backoff: BackoffExponential},
			4*time.Second + (1+2+4)*time.Second},
		{"exponential capped", EndpointOptions{Timeout: time.Second, MaxAttempts: 3, BaseDelay: 20 * time.Second, Backoff: BackoffExponential},
			3*time.Second + 20*time.Second + 30*time.Second},
	}
	for _, tc := range cases {
		got := NewEndpoint(tc.opts, zerolog.Nop()).MaxDuration()
		if got != tc.want {
			t.Fatalf("%s: 期望 %s, 实际 %s", tc.name, tc.want, got)
		}
	}
}
