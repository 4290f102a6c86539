package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spy-nav-tracker/internal/config"
	"spy-nav-tracker/internal/storage"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		API: config.APIConfig{
			BaseURL:        baseURL,
			NAVField:       "nav",
			PriceField:     "price",
			RequestTimeout: time.Second,
			MaxAttempts:    1,
			RetryDelay:     10 * time.Millisecond,
			Backoff:        "fixed",
			Concurrent:     true,
		},
		Scheduler: config.SchedulerConfig{Interval: 6 * time.Second, Overlap: "skip"},
		Export:    config.ExportConfig{MaxDataPoints: 100},
	}
}

func newTestApp(cfg *config.Config) (*App, *bytes.Buffer) {
	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop())
	a.Out = out
	return a, out
}

func navPriceServer(t *testing.T, nav, price string, navStatus int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/spy-nav":
			w.WriteHeader(navStatus)
			_, _ = w.Write([]byte(`{"nav": ` + nav + `}`))
		case "/api/spy-price":
			_, _ = w.Write([]byte(`{"price": ` + price + `}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSamplePrintsDifference(t *testing.T) {
	srv := navPriceServer(t, "500.25", "499.75", http.StatusOK)
	a, out := newTestApp(testConfig(srv.URL + "/"))

	if err := a.Sample(context.Background(), SampleOptions{}); err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "nav=500.25 price=499.75 difference=0.50" {
		t.Fatalf("输出不正确: %q", got)
	}
}

func TestSampleJSON(t *testing.T) {
	srv := navPriceServer(t, "0", "1.5", http.StatusOK)
	a, out := newTestApp(testConfig(srv.URL))

	if err := a.Sample(context.Background(), SampleOptions{JSON: true}); err != nil {
		t.Fatalf("Sample: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(out.Bytes(), &body); err != nil {
		t.Fatalf("JSON 解析失败: %v", err)
	}
	if body["difference"] != -1.5 || body["nav"] != 0.0 {
		t.Fatalf("JSON 内容不正确: %v", body)
	}
}

func TestSampleReportsBothLegs(t *testing.T) {
	srv := navPriceServer(t, "1", "1", http.StatusNotFound)
	a, out := newTestApp(testConfig(srv.URL))

	err := a.Sample(context.Background(), SampleOptions{})
	if err == nil || !strings.Contains(err.Error(), "NAV data endpoint not found (404)") {
		t.Fatalf("应返回 404 错误, 实际 %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "nav ") || !strings.Contains(text, "price ok") {
		t.Fatalf("应同时输出两个 leg 的结果:\n%s", text)
	}
}

func TestSimulateAlertSendsTelegram(t *testing.T) {
	var hits int32
	tg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer tg.Close()

	cfg := testConfig("https://unused.example")
	cfg.Alerting = config.AlertingConfig{
		Enabled:   true,
		Threshold: 1,
		Channels:  []string{"telegram", "log"},
		Telegram:  config.TelegramConfig{Enabled: true, BotToken: "t", ChatID: "c", APIBase: tg.URL, Timeout: time.Second},
	}
	a, _ := newTestApp(cfg)

	if err := a.SimulateAlert(context.Background(), decimal.RequireFromString("505"), decimal.RequireFromString("500")); err != nil {
		t.Fatalf("SimulateAlert: %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("应发送一次 Telegram 消息, 实际 %d", hits)
	}
}

func TestSimulateAlertRequiresAlerting(t *testing.T) {
	a, _ := newTestApp(testConfig("https://unused.example"))
	if err := a.SimulateAlert(context.Background(), decimal.NewFromInt(2), decimal.NewFromInt(1)); err == nil {
		t.Fatal("未启用告警时应报错")
	}

	cfg := testConfig("https://unused.example")
	cfg.Alerting = config.AlertingConfig{Enabled: true, Threshold: 1, Channels: []string{"carrier-pigeon"}}
	a, _ = newTestApp(cfg)
	if err := a.SimulateAlert(context.Background(), decimal.NewFromInt(2), decimal.NewFromInt(1)); err == nil {
		t.Fatal("没有可用通道时应报错")
	}
}

func TestExportValidation(t *testing.T) {
	a, _ := newTestApp(testConfig("https://unused.example"))
	ctx := context.Background()

	if err := a.Export(ctx, ExportOptions{}); err == nil {
		t.Fatal("缺少输出路径应报错")
	}
	from := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)
	if err := a.Export(ctx, ExportOptions{CSVPath: "out.csv", From: &from, To: &to}); err == nil {
		t.Fatal("from 晚于 to 应报错")
	}
	if err := a.Export(ctx, ExportOptions{CSVPath: "out.csv"}); err == nil || !strings.Contains(err.Error(), "database not configured") {
		t.Fatalf("未配置数据库应报错, 实际 %v", err)
	}
}

func TestWriteFailures(t *testing.T) {
	var buf bytes.Buffer
	err := writeFailures(&buf, []storage.FailureRecord{{
		OccurredAt: time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC),
		Legs:       []string{"nav", "price"},
		Message:    "Server error\nwhile fetching",
		Suppressed: true,
	}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "nav,price") || strings.Count(buf.String(), "\n") != 2 {
		t.Fatalf("输出不正确:\n%s", buf.String())
	}
}

func TestCycleGraceCoversRetries(t *testing.T) {
	cfg := testConfig("https://api.example")
	cfg.API.RequestTimeout = 15 * time.Second
	cfg.API.MaxAttempts = 3
	cfg.API.RetryDelay = time.Second
	a, _ := newTestApp(cfg)

	if got, want := a.cycleGrace(), 48*time.Second; got != want {
		t.Fatalf("并发采集的等待时间应为 %s, 实际 %s", want, got)
	}
	cfg.API.Concurrent = false
	if got, want := a.cycleGrace(), 95*time.Second; got != want {
		t.Fatalf("顺序采集的等待时间应为 %s, 实际 %s", want, got)
	}
}

type historyFake struct {
	samples      []storage.SampleRecord
	failures     []storage.FailureRecord
	alerts       []storage.AlertRecord
	total        int64
	deleteCutoff time.Time
}

func (h *historyFake) UpsertSample(context.Context, storage.SampleRecord) error { return nil }

func (h *historyFake) ListSamplesBetween(context.Context, time.Time, time.Time) ([]storage.SampleRecord, error) {
	return nil, nil
}

func (h *historyFake) ListRecentSamples(_ context.Context, limit int) ([]storage.SampleRecord, error) {
	out := append([]storage.SampleRecord(nil), h.samples...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (h *historyFake) CountSamples(context.Context) (int64, error) { return h.total, nil }

func (h *historyFake) InsertFailure(_ context.Context, rec storage.FailureRecord) (storage.FailureRecord, error) {
	return rec, nil
}

func (h *historyFake) ListRecentFailures(context.Context, int) ([]storage.FailureRecord, error) {
	return h.failures, nil
}

func (h *historyFake) InsertAlert(_ context.Context, rec storage.AlertRecord) (storage.AlertRecord, error) {
	return rec, nil
}

func (h *historyFake) ListRecentAlerts(context.Context, int) ([]storage.AlertRecord, error) {
	return h.alerts, nil
}

func (h *historyFake) DeleteAlertsBefore(_ context.Context, olderThan time.Time) error {
	h.deleteCutoff = olderThan
	return nil
}

func TestShowHistoryIncludesCountAndAlerts(t *testing.T) {
	base := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	store := &historyFake{
		total: 42,
		samples: []storage.SampleRecord{
			{CapturedAt: base.Add(6 * time.Second), NAV: decimal.RequireFromString("500.30"), Price: decimal.RequireFromString("499.80"), Source: "live"},
			{CapturedAt: base, NAV: decimal.RequireFromString("500.25"), Price: decimal.RequireFromString("499.75"), Source: "live"},
		},
		alerts: []storage.AlertRecord{{
			SampleTS:   base,
			Difference: decimal.RequireFromString("1.5"),
			Threshold:  decimal.NewFromInt(1),
			Direction:  "discount",
			Channels:   []string{"telegram", "log"},
		}},
	}
	a, out := newTestApp(testConfig("https://api.example"))

	if err := a.showHistory(context.Background(), store, ShowOptions{Limit: 1, Alerts: true}); err != nil {
		t.Fatalf("showHistory: %v", err)
	}

	text := out.String()
	if !strings.Contains(text, "showing 1 of 42 stored samples") {
		t.Fatalf("缺少样本总数:\n%s", text)
	}
	if !strings.Contains(text, "discount") || !strings.Contains(text, "1.50") || !strings.Contains(text, "telegram,log") {
		t.Fatalf("缺少告警列表:\n%s", text)
	}
	if strings.Contains(text, "no failures recorded") {
		t.Fatal("未请求失败记录时不应输出")
	}
}

func TestPruneAlertsUsesRetention(t *testing.T) {
	now := time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC)
	cfg := testConfig("https://api.example")
	cfg.Alerting.Retention = 24 * time.Hour
	a, _ := newTestApp(cfg)
	store := &historyFake{}

	a.pruneAlerts(context.Background(), store, now)
	if !store.deleteCutoff.Equal(now.Add(-24 * time.Hour)) {
		t.Fatalf("截止时间不正确: %s", store.deleteCutoff)
	}

	cfg.Alerting.Retention = 0
	store.deleteCutoff = time.Time{}
	a.pruneAlerts(context.Background(), store, now)
	if !store.deleteCutoff.IsZero() {
		t.Fatal("保留期为 0 时不应删除")
	}
}
