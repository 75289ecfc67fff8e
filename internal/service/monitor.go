package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"memepulse/internal/alerting"
	"memepulse/internal/fetcher"
	"memepulse/internal/metrics"
	"memepulse/internal/scheduler"
	"memepulse/internal/storage"
)

const (
	jobLivePrices = "live_prices"
	jobHistory    = "price_history"
)

// MonitorOptions tune the polling loop.
type MonitorOptions struct {
	PriceInterval     time.Duration
	HistoryInterval   time.Duration
	HistoryResolution string
	BackfillWindow    time.Duration
	InitializeOnStart bool
}

func (o MonitorOptions) withDefaults() MonitorOptions {
	if o.PriceInterval <= 0 {
		o.PriceInterval = time.Minute
	}
	if o.HistoryInterval <= 0 {
		o.HistoryInterval = time.Minute
	}
	if o.HistoryResolution == "" {
		o.HistoryResolution = "1m"
	}
	if o.BackfillWindow <= 0 {
		o.BackfillWindow = 24 * time.Hour
	}
	return o
}

// Monitor polls the provider, records history and drives alert evaluation.
type Monitor struct {
	provider  fetcher.PriceProvider
	prices    storage.PriceHistoryStore
	evaluator *Evaluator
	publisher alerting.Publisher
	tokens    *TokenRegistry
	scheduler *scheduler.Scheduler
	opts      MonitorOptions
	logger    zerolog.Logger
	now       func() time.Time

	// lastPrices is only touched by the live job, which never overlaps itself.
	lastPrices map[string]decimal.Decimal

	mu         sync.Mutex
	running    bool
	registered bool
	initWG     *sync.WaitGroup

	locker  storage.AdvisoryLocker
	lockKey int64
	lockMu  sync.Mutex
	release func()
}

// NewMonitor constructs the monitor. A nil publisher drops priceUpdate events.
func NewMonitor(
	provider fetcher.PriceProvider,
	prices storage.PriceHistoryStore,
	evaluator *Evaluator,
	publisher alerting.Publisher,
	tokens *TokenRegistry,
	sched *scheduler.Scheduler,
	opts MonitorOptions,
	logger zerolog.Logger,
) *Monitor {
	return &Monitor{
		provider:   provider,
		prices:     prices,
		evaluator:  evaluator,
		publisher:  publisher,
		tokens:     tokens,
		scheduler:  sched,
		opts:       opts.withDefaults(),
		logger:     logger.With().Str("component", "monitor").Logger(),
		now:        time.Now,
		lastPrices: make(map[string]decimal.Decimal),
	}
}

// WithClock replaces the monitor clock.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// WithLocker makes the periodic jobs run only on the instance holding the advisory lock key.
// A nil locker or a zero key disables the guard.
func (m *Monitor) WithLocker(locker storage.AdvisoryLocker, key int64) *Monitor {
	m.locker = locker
	m.lockKey = key
	return m
}

// holdLock reports whether this instance drives the ticks. Once acquired the lock is kept
// until Stop, so followers keep skipping while the leader lives.
func (m *Monitor) holdLock(ctx context.Context) (bool, error) {
	if m.locker == nil || m.lockKey == 0 {
		return true, nil
	}
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	if m.release != nil {
		return true, nil
	}

	unlock, acquired, err := m.locker.TryAdvisoryLock(ctx, m.lockKey)
	if err != nil {
		return false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return false, nil
	}
	m.release = unlock
	m.logger.Info().Int64("lock_key", m.lockKey).Msg("advisory lock acquired, driving ticks")
	return true, nil
}

func (m *Monitor) releaseLock() {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	if m.release == nil {
		return
	}
	m.release()
	m.release = nil
	m.logger.Info().Int64("lock_key", m.lockKey).Msg("advisory lock released")
}

// Start launches the initializer and both periodic jobs. It returns false when already running.
func (m *Monitor) Start(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return false, nil
	}
	if m.scheduler == nil {
		return false, errors.New("monitor: scheduler not configured")
	}

	if !m.registered {
		jobs := []scheduler.Job{
			{Name: jobLivePrices, Interval: m.opts.PriceInterval, RunOnStart: true, Run: m.MonitorPrices},
			{Name: jobHistory, Interval: m.opts.HistoryInterval, Run: m.IngestHistory},
		}
		for _, job := range jobs {
			if err := m.scheduler.Register(job); err != nil {
				return false, fmt.Errorf("register %s: %w", job.Name, err)
			}
		}
		m.registered = true
	}

	initWG := &sync.WaitGroup{}
	m.initWG = initWG
	if m.opts.InitializeOnStart {
		initWG.Add(1)
		go func() {
			defer initWG.Done()
			if err := m.Initialize(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn().Err(err).Msg("history initialization incomplete")
			}
		}()
	}

	m.scheduler.Start(ctx)
	m.running = true
	m.logger.Info().
		Strs("symbols", m.tokens.Symbols()).
		Dur("price_interval", m.opts.PriceInterval).
		Dur("history_interval", m.opts.HistoryInterval).
		Msg("monitor started")
	return true, nil
}

// Stop cancels future ticks. The channel closes once in-flight work has finished.
func (m *Monitor) Stop() <-chan struct{} {
	done := make(chan struct{})

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		close(done)
		return done
	}
	m.running = false
	schedDone := m.scheduler.Stop()
	initWG := m.initWG
	m.mu.Unlock()

	go func() {
		<-schedDone
		initWG.Wait()
		m.releaseLock()
		m.logger.Info().Msg("monitor stopped")
		close(done)
	}()
	return done
}

// Running reports whether the monitor is ticking.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Initialize upserts the trailing backfill window for every symbol.
func (m *Monitor) Initialize(ctx context.Context) error {
	now := m.now().UTC()
	_, err := m.Backfill(ctx, now.Add(-m.opts.BackfillWindow), now, false)
	return err
}

// Backfill upserts the provider series of [from, to] for every symbol and returns counts per symbol.
// With dryRun the series is fetched but not written.
func (m *Monitor) Backfill(ctx context.Context, from, to time.Time, dryRun bool) (map[string]int, error) {
	counts := make(map[string]int)
	var errs []error
	for _, tok := range m.tokens.Tokens() {
		logger := m.logger.With().Str("symbol", tok.Symbol).Logger()

		samples, err := fetchSeries(ctx, m.provider, tok, from, to, m.opts.HistoryResolution)
		if err != nil {
			metrics.SymbolError("backfill", tok.Symbol)
			logger.Error().Err(err).Msg("fetch history failed")
			errs = append(errs, fmt.Errorf("%s: %w", tok.Symbol, err))
			continue
		}
		if dryRun {
			counts[tok.Symbol] = len(samples)
			logger.Info().Int("samples", len(samples)).Msg("dry run, nothing written")
			continue
		}
		n, err := m.prices.UpsertPrices(ctx, samples)
		if err != nil {
			metrics.SymbolError("backfill", tok.Symbol)
			logger.Error().Err(err).Msg("upsert history failed")
			errs = append(errs, fmt.Errorf("%s: %w", tok.Symbol, err))
			continue
		}
		counts[tok.Symbol] = n
		logger.Info().Int("samples", n).Time("from", from).Time("to", to).Msg("history upserted")
	}
	return counts, errors.Join(errs...)
}

// IngestHistory appends the latest provider point of the last history interval per symbol.
func (m *Monitor) IngestHistory(ctx context.Context) error {
	held, err := m.holdLock(ctx)
	if err != nil {
		return err
	}
	if !held {
		m.logger.Debug().Msg("skip history tick because advisory lock held elsewhere")
		return nil
	}

	now := m.now().UTC()
	from := now.Add(-m.opts.HistoryInterval)
	interval := providerInterval(m.opts.HistoryResolution)

	var errs []error
	for _, tok := range m.tokens.Tokens() {
		logger := m.logger.With().Str("symbol", tok.Symbol).Logger()

		points, err := m.provider.PriceHistory(ctx, tok.Address, from, now, interval)
		if err != nil {
			metrics.SymbolError("history", tok.Symbol)
			logger.Error().Err(err).Msg("fetch history failed")
			errs = append(errs, fmt.Errorf("%s: %w", tok.Symbol, err))
			continue
		}
		if len(points) == 0 {
			logger.Debug().Msg("no history points in interval")
			continue
		}

		latest := points[len(points)-1]
		sample := storage.PriceSample{Symbol: tok.Symbol, Price: latest.Value, Timestamp: latest.Time.UTC()}
		err = m.prices.AppendPrice(ctx, sample)
		switch {
		case errors.Is(err, storage.ErrDuplicateKey):
			logger.Debug().Time("timestamp", sample.Timestamp).Msg("sample already stored")
		case err != nil:
			metrics.SymbolError("history", tok.Symbol)
			logger.Error().Err(err).Msg("append sample failed")
			errs = append(errs, fmt.Errorf("%s: %w", tok.Symbol, err))
		default:
			logger.Debug().Time("timestamp", sample.Timestamp).Str("price", sample.Price.String()).Msg("sample stored")
		}
	}
	return errors.Join(errs...)
}

// MonitorPrices fetches current prices, publishes movements and evaluates alerts.
// The first observation of a symbol only seeds the last-price cache.
// Followers drop their cache so a new leader seeds it afresh.
func (m *Monitor) MonitorPrices(ctx context.Context) error {
	held, err := m.holdLock(ctx)
	if err != nil {
		return err
	}
	if !held {
		clear(m.lastPrices)
		m.logger.Debug().Msg("skip price tick because advisory lock held elsewhere")
		return nil
	}

	var errs []error
	for _, tok := range m.tokens.Tokens() {
		if err := m.monitorSymbol(ctx, tok); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", tok.Symbol, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Monitor) monitorSymbol(ctx context.Context, tok Token) error {
	logger := m.logger.With().Str("symbol", tok.Symbol).Logger()

	quote, err := m.provider.CurrentPrice(ctx, tok.Address)
	if err != nil {
		metrics.SymbolError("price", tok.Symbol)
		logger.Error().Err(err).Msg("fetch current price failed")
		return err
	}
	price := quote.Price
	now := m.now().UTC()
	metrics.SetLastPrice(tok.Symbol, price.InexactFloat64())

	last, seen := m.lastPrices[tok.Symbol]
	m.lastPrices[tok.Symbol] = price
	if !seen || last.IsZero() {
		logger.Debug().Str("price", price.String()).Msg("seeded last price")
		return nil
	}

	change := price.Sub(last).Div(last).Mul(hundred)
	if m.publisher != nil {
		ev := alerting.NewPriceUpdateEvent(alerting.PriceUpdate{
			Symbol:      tok.Symbol,
			Price:       price,
			Timestamp:   now,
			PriceChange: change.Round(4),
		})
		if err := m.publisher.Publish(ctx, ev); err != nil {
			logger.Warn().Err(err).Msg("price update publish failed")
		}
	}

	res, err := m.evaluator.Evaluate(ctx, tok.Symbol, price)
	if err != nil {
		metrics.SymbolError("evaluate", tok.Symbol)
		logger.Error().Err(err).Msg("alert evaluation failed")
		return err
	}
	if res.Checked > 0 {
		logger.Debug().
			Int("checked", res.Checked).
			Int("triggered", res.Triggered).
			Int("expired", res.Expired).
			Msg("alerts evaluated")
	}
	return nil
}

// LastPrice returns the cached price of symbol. Safe only while the monitor is stopped.
func (m *Monitor) LastPrice(symbol string) (decimal.Decimal, bool) {
	p, ok := m.lastPrices[symbol]
	return p, ok
}
