package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"sol-outflow-alerts/internal/alerting"
	"sol-outflow-alerts/internal/config"
	"sol-outflow-alerts/internal/health"
	"sol-outflow-alerts/internal/ledger"
	"sol-outflow-alerts/internal/metrics"
	"sol-outflow-alerts/internal/monitor"
	"sol-outflow-alerts/internal/storage"
	"sol-outflow-alerts/internal/stream"
	"sol-outflow-alerts/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// newNotifier assembles every enabled alert channel. The returned closer is never nil.
func (a *App) newNotifier() (alerting.Notifier, func()) {
	var channels alerting.Multi
	closer := func() {}

	if a.Config.ChannelEnabled("telegram") {
		cfg := a.Config.Alerting.Telegram
		channels = append(channels, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, a.Config.Alerting.SendTimeout, a.Logger))
	}
	if a.Config.ChannelEnabled("redis") {
		cfg := a.Config.Alerting.Redis
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		channels = append(channels, alerting.NewRedisPublisher(client, cfg.Channel, a.Logger))
		closer = func() {
			if err := client.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("closing redis client")
			}
		}
	}

	if len(channels) == 0 {
		return nil, closer
	}
	return channels, closer
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	return store, store.Close, nil
}

func (a *App) sessionOptions() (monitor.SessionOptions, error) {
	threshold, err := a.Config.ThresholdLamports()
	if err != nil {
		return monitor.SessionOptions{}, err
	}
	return monitor.SessionOptions{
		Accounts:     a.Config.Monitor.Addresses,
		Policy:       ledger.Policy{ThresholdLamports: threshold},
		Subscribe:    stream.SubscribeOptions{Encoding: "base64", Commitment: a.Config.Solana.Commitment},
		AckTimeout:   a.Config.Solana.AckTimeout,
		ExplorerBase: a.Config.Alerting.ExplorerBase,
	}, nil
}

func (a *App) supervisorOptions() monitor.SupervisorOptions {
	return monitor.SupervisorOptions{
		BackoffFloor:   a.Config.Monitor.BackoffFloor,
		BackoffCeiling: a.Config.Monitor.BackoffCeiling,
		StableAfter:    a.Config.Monitor.StableAfter,
	}
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts, err := a.sessionOptions()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	notifier, closeNotifier := a.newNotifier()
	defer closeNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("no alert channel enabled; alerts will only be logged")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	dispatcher := alerting.NewDispatcher(notifier, alerting.DispatcherOptions{
		QueueSize:   a.Config.Alerting.QueueSize,
		Workers:     a.Config.Alerting.Workers,
		SendTimeout: a.Config.Alerting.SendTimeout,
	}, m, a.Logger)

	dialer := stream.NewDialer(stream.DialerOptions{
		URL:              a.Config.Solana.WSURL,
		HandshakeTimeout: a.Config.Solana.HandshakeTimeout,
		PingInterval:     a.Config.Solana.PingInterval,
		PongWait:         a.Config.Solana.PongWait,
		Header:           http.Header{"User-Agent": []string{version.UserAgent()}},
	}, a.Logger)
	mon := monitor.New(dialer, opts, dispatcher, m, a.Logger)

	g, gctx := errgroup.WithContext(ctx)

	if a.Config.Health.Enabled {
		srv := health.NewServer(a.Config.Health.Addr, reg, a.Logger)
		g.Go(func() error {
			if err := srv.Run(gctx); err != nil {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
	}

	// dispatcher stops only after the supervisor has returned
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(gctx))
	defer stopDispatch()
	g.Go(func() error {
		return ignoreCanceled(dispatcher.Run(dispatchCtx))
	})

	g.Go(func() error {
		defer stopDispatch()
		if store != nil {
			unlock, err := storage.WaitForLock(gctx, store, a.Config.Database.LockKey, a.Config.Database.LockRetryInterval, a.Logger)
			if err != nil {
				return ignoreCanceled(err)
			}
			defer unlock()
		}
		return ignoreCanceled(mon.Supervise(gctx, a.supervisorOptions()))
	})

	a.Logger.Info().Str("ws_url", a.Config.Solana.WSURL).
		Int("accounts", len(opts.Accounts)).
		Str("threshold_sol", ledger.FormatSOL(opts.Policy.ThresholdLamports)).
		Msg("starting solana ws monitor")

	if err := g.Wait(); err != nil {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
