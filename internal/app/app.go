package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"memepulse/internal/alerting"
	"memepulse/internal/config"
	"memepulse/internal/fetcher"
	"memepulse/internal/httpapi"
	"memepulse/internal/metrics"
	"memepulse/internal/scheduler"
	"memepulse/internal/service"
	"memepulse/internal/storage"
	"memepulse/internal/storage/memory"
	"memepulse/internal/storage/migrations"
)

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) tokens() *service.TokenRegistry {
	return service.NewTokenRegistry(a.Config.Tokens)
}

func (a *App) newProvider() fetcher.PriceProvider {
	cfg := a.Config.Birdeye
	if cfg.APIKey == "" {
		a.Logger.Warn().Msg("birdeye.api_key not configured; provider requests will likely be rejected")
	}
	return fetcher.NewBirdeye(fetcher.BirdeyeOptions{
		BaseURL:      cfg.BaseURL,
		APIKey:       cfg.APIKey,
		Chain:        cfg.Chain,
		Timeout:      cfg.RequestTimeout,
		UserAgent:    cfg.UserAgent,
		RateLimitRPS: cfg.RateLimitRPS,
		RateBurst:    cfg.RateBurst,
	}, a.Logger)
}

func (a *App) newTelegram() alerting.Publisher {
	cfg := a.Config.Alerting.Telegram
	if !cfg.Enabled {
		return nil
	}
	return alerting.NewTelegramPublisher(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
}

// openStore connects to PostgreSQL. It returns nil when no DSN is configured.
func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// requireStore is openStore for commands that only make sense against PostgreSQL.
func (a *App) requireStore(ctx context.Context, action string) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, fmt.Errorf("database.dsn not configured; cannot %s", action)
	}
	return store, closeStore, nil
}

// openRepository returns the PostgreSQL store, migrated when auto_migrate is set,
// or an in-memory store when no DSN is configured.
func (a *App) openRepository(ctx context.Context) (storage.Repository, error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory store, data is lost on exit")
		return memory.New(), nil
	}
	if a.Config.Database.AutoMigrate {
		if err := migrations.Up(a.Config.Database.DSN); err != nil {
			return nil, err
		}
		a.Logger.Info().Msg("database migrations applied")
	}
	store, _, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (a *App) monitorOptions() service.MonitorOptions {
	m := a.Config.Monitor
	return service.MonitorOptions{
		PriceInterval:     m.PriceInterval,
		HistoryInterval:   m.HistoryInterval,
		HistoryResolution: m.HistoryResolution,
		BackfillWindow:    m.BackfillWindow,
		InitializeOnStart: m.InitializeOnStart,
	}
}

// Run executes the long-running monitoring service with its HTTP API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	hub := alerting.NewHub(a.Logger)
	defer hub.Close()

	var redisClient *redis.Client
	if a.Config.Redis.Addr != "" {
		redisClient, err = alerting.NewRedisClient(ctx, a.Config.Redis.Addr, a.Config.Redis.Password, a.Config.Redis.DB)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}
	publisher := a.newPublisher(hub, redisClient)

	tokens := a.tokens()
	provider := a.newProvider()
	sched := scheduler.New(a.Logger)
	evaluator := service.NewEvaluator(repo, repo, publisher, a.Logger)
	monitor := service.NewMonitor(provider, repo, evaluator, publisher, tokens, sched, a.monitorOptions(), a.Logger)
	if locker, ok := repo.(storage.AdvisoryLocker); ok {
		monitor.WithLocker(locker, a.Config.Monitor.AdvisoryLockKey)
	}

	deps := httpapi.Deps{
		Market:      service.NewMarketService(provider, repo, tokens, a.Logger),
		Alerts:      service.NewAlertService(repo, tokens, a.Logger),
		Subscribers: hub,
		Logger:      a.Logger,
	}
	if a.Config.Metrics.Enabled {
		deps.Metrics = metrics.Handler()
		deps.MetricsPath = a.Config.Metrics.Path
	}
	srv := httpapi.NewServer(httpapi.ServerOptions{
		Addr:         a.Config.HTTP.ListenAddr(),
		ReadTimeout:  a.Config.HTTP.ReadTimeout,
		WriteTimeout: a.Config.HTTP.WriteTimeout,
	}, httpapi.NewRouter(deps))

	if _, err := monitor.Start(ctx); err != nil {
		return err
	}
	a.Logger.Info().Strs("symbols", tokens.Symbols()).Msg("monitoring service started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpapi.Serve(gctx, srv, a.Config.HTTP.ShutdownTimeout, a.Logger)
	})
	if redisClient != nil {
		relay := alerting.NewRedisRelay(redisClient, a.Config.Redis.Channel, hub, a.Logger)
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	err = g.Wait()
	a.stopMonitor(monitor)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// newPublisher fans events out. With redis every instance relays the channel into its
// own hub, so the hub is not published to directly.
func (a *App) newPublisher(hub *alerting.Hub, client *redis.Client) alerting.Publisher {
	var pubs alerting.Multi
	if client != nil {
		pubs = append(pubs, alerting.NewRedisPublisher(client, a.Config.Redis.Channel))
	} else {
		pubs = append(pubs, hub)
	}
	if tg := a.newTelegram(); tg != nil {
		pubs = append(pubs, tg)
	}
	return pubs
}

func (a *App) stopMonitor(monitor *service.Monitor) {
	timeout := a.Config.Monitor.StopTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-monitor.Stop():
	case <-time.After(timeout):
		a.Logger.Warn().Dur("timeout", timeout).Msg("monitor jobs still running at shutdown")
	}
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Symbol string
	Limit  int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
}
