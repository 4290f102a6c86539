package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"spy-nav-tracker/internal/alerting"
	"spy-nav-tracker/internal/collector"
	"spy-nav-tracker/internal/config"
	"spy-nav-tracker/internal/fetcher"
	"spy-nav-tracker/internal/metrics"
	"spy-nav-tracker/internal/scheduler"
	"spy-nav-tracker/internal/server"
	"spy-nav-tracker/internal/service"
	"spy-nav-tracker/internal/storage"
	"spy-nav-tracker/internal/telemetry"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newEndpoint(rec *metrics.Recorder) *fetcher.Endpoint {
	api := a.Config.API
	opts := fetcher.EndpointOptions{
		Timeout:     api.RequestTimeout,
		MaxAttempts: api.MaxAttempts,
		BaseDelay:   api.RetryDelay,
		Backoff:     api.Backoff,
		UserAgent:   api.UserAgent,
		AuthToken:   api.AuthToken,
		Headers:     api.Headers,
	}
	if rec != nil {
		opts.OnAttempt = func(url string, _ int, err error) {
			rec.ObserveAttempt(metrics.EndpointLabel(url), err)
		}
		opts.OnRetry = func(url string, _ int, _ time.Duration, _ error) {
			rec.ObserveRetry(metrics.EndpointLabel(url))
		}
	}
	return fetcher.NewEndpoint(opts, a.Logger)
}

func (a *App) newCollector(rec *metrics.Recorder) *collector.Collector {
	return collector.New(collector.Options{
		BaseURL:    a.Config.API.BaseURL,
		NAVField:   a.Config.API.NAVField,
		PriceField: a.Config.API.PriceField,
		Concurrent: a.Config.API.Concurrent,
	}, a.newEndpoint(rec), a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	var out alerting.Fanout
	for _, ch := range a.Config.Alerting.Channels {
		switch ch {
		case "telegram":
			cfg := a.Config.Alerting.Telegram
			if !cfg.Enabled {
				a.Logger.Warn().Msg("telegram channel listed but alerting.telegram.enabled is false")
				continue
			}
			out = append(out, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger))
		case "log":
			out = append(out, alerting.NewLogNotifier(a.Logger))
		default:
			a.Logger.Warn().Str("channel", ch).Msg("unknown alert channel ignored")
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (a *App) newPolicy() *alerting.Policy {
	if !a.Config.Alerting.Enabled || a.Config.Alerting.Threshold <= 0 {
		return nil
	}
	return alerting.NewPolicy(
		decimal.NewFromFloat(a.Config.Alerting.Threshold),
		a.Config.Alerting.Cooldown,
		a.Config.Alerting.Channels,
	)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

// cycleGrace bounds how long Run waits for an in-flight cycle after shutdown.
func (a *App) cycleGrace() time.Duration {
	fetch := a.newEndpoint(nil).MaxDuration()
	if !a.Config.API.Concurrent {
		fetch *= 2
	}
	return fetch + time.Second
}

func (a *App) schedulerOptions() scheduler.Options {
	return scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		Overlap:      a.Config.Scheduler.Overlap,
	}
}

// Run executes the long-running sampling service and its HTTP surface.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tel, err := telemetry.Setup(telemetry.Config{
		Enabled:     a.Config.Telemetry.Enabled,
		ServiceName: a.Config.Telemetry.ServiceName,
		TraceMode:   a.Config.Telemetry.TraceMode,
		SampleRatio: a.Config.Telemetry.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	rec := metrics.New()
	deps := service.Deps{
		Collector: a.newCollector(rec),
		Notifier:  a.newNotifier(),
		Policy:    a.newPolicy(),
		Metrics:   rec,
	}
	if store != nil {
		deps.Samples = store
		deps.Failures = store
		deps.Alerts = store
		deps.Locker = store
		a.pruneAlerts(ctx, store, time.Now())
	}

	svc := service.New(service.Options{
		Scheduler: a.schedulerOptions(),
		LockKey:   a.Config.Scheduler.AdvisoryLockKey,
	}, deps, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(gctx)
	})
	if a.Config.Server.Enabled {
		srv := server.New(server.Options{
			Addr:            a.Config.Server.Addr,
			ShutdownTimeout: a.Config.Server.ShutdownTimeout,
			ChartTitle:      "SPY NAV vs Price",
		}, svc, rec.Handler(), a.Logger)
		g.Go(func() error {
			return srv.ListenAndServe(gctx)
		})
	}

	a.Logger.Info().Str("base_url", collector.NormalizeBaseURL(a.Config.API.BaseURL)).Msg("starting nav tracker")
	err = g.Wait()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), a.cycleGrace())
	defer cancelWait()
	if waitErr := svc.Wait(waitCtx); waitErr != nil {
		a.Logger.Warn().Err(waitErr).Msg("in-flight cycle did not finish before exit")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("nav tracker stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit    int
	Failures bool
	Alerts   bool
}

// SampleOptions configure the one-shot sample command.
type SampleOptions struct {
	JSON bool
}
