package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"spy-nav-tracker/internal/collector"
	"spy-nav-tracker/internal/scheduler"
	"spy-nav-tracker/internal/series"
	"spy-nav-tracker/internal/service"
)

// SimulateAlert 通过给定的 NAV/价格模拟一次告警流程。
func (a *App) SimulateAlert(ctx context.Context, nav, price decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}
	policy := a.newPolicy()
	if policy == nil {
		return errors.New("alerting.threshold 必须大于 0")
	}

	diff := series.Difference(nav, price)
	if !diff.Abs().GreaterThan(policy.Threshold()) {
		a.Logger.Warn().Str("difference", diff.StringFixed(2)).Str("threshold", policy.Threshold().String()).
			Msg("difference does not exceed threshold; no alert will be sent")
	}

	svc := service.New(service.Options{
		Scheduler: scheduler.Options{Interval: a.Config.Scheduler.Interval},
	}, service.Deps{
		Collector: &staticCollector{nav: nav, price: price},
		Notifier:  notifier,
		Policy:    policy,
	}, a.Logger)

	return svc.RunCycle(ctx, time.Now().UTC())
}

type staticCollector struct {
	nav   decimal.Decimal
	price decimal.Decimal
}

func (s *staticCollector) Collect(context.Context) (series.Sample, error) {
	return series.NewSample(time.Now().UTC(), s.nav, s.price), nil
}

var _ collector.SampleCollector = (*staticCollector)(nil)
