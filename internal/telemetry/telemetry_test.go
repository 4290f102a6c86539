package telemetry

import (
	"context"
	"testing"
)

func TestSetupDisabledUsesOffMode(t *testing.T) {
	rt, err := Setup(Config{Enabled: false, TraceMode: "detailed"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { _ = rt.Shutdown(context.Background()) })

	if TraceMode() != "off" || Enabled() {
		t.Fatalf("关闭时 trace mode 应为 off, 实际 %q", TraceMode())
	}
	if rt.TracerProvider == nil {
		t.Fatal("TracerProvider 不应为空")
	}
}

func TestSetupEnabledNormalizesMode(t *testing.T) {
	rt, err := Setup(Config{Enabled: true, TraceMode: " DETAILED ", ServiceName: "test"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { _ = rt.Shutdown(context.Background()) })

	if TraceMode() != "detailed" {
		t.Fatalf("期望 detailed, 实际 %q", TraceMode())
	}

	rt2, err := Setup(Config{Enabled: true, TraceMode: "unknown"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { _ = rt2.Shutdown(context.Background()) })
	if TraceMode() != "sampled" {
		t.Fatalf("未知模式应回落到 sampled, 实际 %q", TraceMode())
	}
}

func TestClampRatio(t *testing.T) {
	cases := map[float64]float64{-1: 0, 0.3: 0.3, 2: 1}
	for in, want := range cases {
		if got := clampRatio(in); got != want {
			t.Fatalf("clampRatio(%v) = %v, want %v", in, got, want)
		}
	}
}
