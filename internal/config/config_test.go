package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("默认配置应能加载: %v", err)
	}
	if cfg.Scheduler.Interval != 6*time.Second {
		t.Fatalf("默认轮询间隔应为 6s, 实际 %s", cfg.Scheduler.Interval)
	}
	if cfg.API.MaxAttempts != 3 || cfg.API.RetryDelay != time.Second || cfg.API.RequestTimeout != 15*time.Second {
		t.Fatalf("默认重试参数不正确: %+v", cfg.API)
	}
	if !cfg.API.Concurrent || cfg.Scheduler.Overlap != "skip" {
		t.Fatalf("默认应并发采集并跳过重叠 tick")
	}
	if cfg.API.BaseURL == "" {
		t.Fatal("默认 base url 不应为空")
	}
	if cfg.Alerting.Retention != 720*time.Hour {
		t.Fatalf("默认告警保留期应为 720h, 实际 %s", cfg.Alerting.Retention)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "navtracker.yaml")
	content := strings.Join([]string{
		"api:",
		"  base_url: https://file.example/",
		"  max_attempts: 5",
		"  headers:",
		"    x-client: dashboard",
		"scheduler:",
		"  interval: 10s",
		"  overlap: queue",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SPYNAV_API_RETRY_DELAY", "250ms")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.API.BaseURL != "https://file.example/" || cfg.API.MaxAttempts != 5 {
		t.Fatalf("文件配置未生效: %+v", cfg.API)
	}
	if cfg.API.RetryDelay != 250*time.Millisecond {
		t.Fatalf("环境变量应覆盖默认值: %s", cfg.API.RetryDelay)
	}
	if cfg.Scheduler.Interval != 10*time.Second || cfg.Scheduler.Overlap != "queue" {
		t.Fatalf("scheduler 配置未生效: %+v", cfg.Scheduler)
	}
	if cfg.API.Headers["x-client"] != "dashboard" {
		t.Fatalf("headers 未解析: %v", cfg.API.Headers)
	}
}

func TestLoadPlainBaseURLEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("API_BASE_URL", "https://env.example")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.BaseURL != "https://env.example" {
		t.Fatalf("API_BASE_URL 应生效, 实际 %q", cfg.API.BaseURL)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			API: APIConfig{
				BaseURL:        "https://api.example",
				RequestTimeout: time.Second,
				MaxAttempts:    3,
				RetryDelay:     time.Second,
				Backoff:        "fixed",
			},
			Scheduler: SchedulerConfig{Interval: 6 * time.Second, Overlap: "skip"},
			Export:    ExportConfig{MaxDataPoints: 10},
		}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base url", func(c *Config) { c.API.BaseURL = " " }},
		{"zero timeout", func(c *Config) { c.API.RequestTimeout = 0 }},
		{"zero attempts", func(c *Config) { c.API.MaxAttempts = 0 }},
		{"zero delay", func(c *Config) { c.API.RetryDelay = 0 }},
		{"bad backoff", func(c *Config) { c.API.Backoff = "linear" }},
		{"zero interval", func(c *Config) { c.Scheduler.Interval = 0 }},
		{"bad overlap", func(c *Config) { c.Scheduler.Overlap = "parallel" }},
		{"negative threshold", func(c *Config) { c.Alerting.Threshold = -1 }},
		{"negative retention", func(c *Config) { c.Alerting.Retention = -time.Hour }},
		{"telegram without token", func(c *Config) { c.Alerting.Telegram.Enabled = true; c.Alerting.Telegram.ChatID = "1" }},
		{"telegram without chat", func(c *Config) { c.Alerting.Telegram.Enabled = true; c.Alerting.Telegram.BotToken = "t" }},
	}

	base := valid()
	if err := base.Validate(); err != nil {
		t.Fatalf("有效配置不应报错: %v", err)
	}
	for _, tc := range cases {
		cfg := valid()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: 应返回错误", tc.name)
		}
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := Config{Export: ExportConfig{MaxDataPoints: 100}}
	if cfg.ResolveMaxPoints(0) != 100 || cfg.ResolveMaxPoints(7) != 7 {
		t.Fatal("ResolveMaxPoints 不正确")
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
