package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"memepulse/internal/alerting"
	"memepulse/internal/fetcher"
	"memepulse/internal/storage"
)

const (
	wifAddr  = "EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm"
	bonkAddr = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testRegistry() *TokenRegistry {
	return NewTokenRegistry(map[string]string{"WIF": wifAddr, "bonk": bonkAddr})
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeProvider struct {
	mu       sync.Mutex
	prices   map[string]decimal.Decimal
	history  map[string][]fetcher.PricePoint
	failing  map[string]bool
	calls    map[string]int
	holders  []fetcher.Holder
	market   fetcher.MarketData
	metaErr  error
	histArgs []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		prices:  make(map[string]decimal.Decimal),
		history: make(map[string][]fetcher.PricePoint),
		failing: make(map[string]bool),
		calls:   make(map[string]int),
	}
}

func (f *fakeProvider) setPrice(addr, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[addr] = dec(price)
}

func (f *fakeProvider) callCount(addr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[addr]
}

func (f *fakeProvider) fail(addr string) error {
	if f.failing[addr] {
		return &fetcher.UpstreamError{Op: "fake", Status: 503, Err: errors.New("unavailable")}
	}
	return nil
}

func (f *fakeProvider) CurrentPrice(_ context.Context, addr string) (fetcher.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[addr]++
	if err := f.fail(addr); err != nil {
		return fetcher.Quote{}, err
	}
	p, ok := f.prices[addr]
	if !ok {
		return fetcher.Quote{}, &fetcher.UpstreamError{Op: "fake", Err: errors.New("no price")}
	}
	return fetcher.Quote{Price: p, PriceChange24h: dec("1.234"), UpdatedAt: t0}, nil
}

func (f *fakeProvider) PriceHistory(_ context.Context, addr string, from, to time.Time, interval string) ([]fetcher.PricePoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histArgs = append(f.histArgs, interval)
	if err := f.fail(addr); err != nil {
		return nil, err
	}
	out := make([]fetcher.PricePoint, 0)
	for _, p := range f.history[addr] {
		if p.Time.Before(from) || p.Time.After(to) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeProvider) MarketData(_ context.Context, addr string) (fetcher.MarketData, error) {
	if err := f.fail(addr); err != nil {
		return fetcher.MarketData{}, err
	}
	return f.market, nil
}

func (f *fakeProvider) TopHolders(_ context.Context, addr string, _ int) ([]fetcher.Holder, error) {
	if err := f.fail(addr); err != nil {
		return nil, err
	}
	return f.holders, nil
}

func (f *fakeProvider) Metadata(_ context.Context, addr string) (fetcher.TokenMetadata, error) {
	if f.metaErr != nil {
		return fetcher.TokenMetadata{}, f.metaErr
	}
	return fetcher.TokenMetadata{Address: addr, Name: "dogwifhat", Symbol: "WIF", Decimals: 6}, nil
}

func (f *fakeProvider) Volume24h(_ context.Context, addr string) (fetcher.VolumeStats, error) {
	return fetcher.VolumeStats{VolumeUSD: dec("1000000")}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []alerting.Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, ev alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingPublisher) named(name string) []alerting.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]alerting.Event, 0)
	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// flakyAlertStore fails transitions for selected ids.
type flakyAlertStore struct {
	storage.AlertStore
	failIDs map[int64]error
}

func (s *flakyAlertStore) MarkTriggered(ctx context.Context, id int64, at time.Time) error {
	if err, ok := s.failIDs[id]; ok {
		return err
	}
	return s.AlertStore.MarkTriggered(ctx, id, at)
}

func (s *flakyAlertStore) MarkExpired(ctx context.Context, id int64, at time.Time) error {
	if err, ok := s.failIDs[id]; ok {
		return err
	}
	return s.AlertStore.MarkExpired(ctx, id, at)
}

func nopLogger() zerolog.Logger { return zerolog.Nop() }

// failingFindStore fails FindActiveAlerts while err is set.
type failingFindStore struct {
	storage.AlertStore
	err error
}

func (s *failingFindStore) FindActiveAlerts(ctx context.Context, symbol string) ([]storage.Alert, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.AlertStore.FindActiveAlerts(ctx, symbol)
}

type fakeLocker struct {
	mu       sync.Mutex
	grant    bool
	attempts int
	unlocks  int
}

func (l *fakeLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if !l.grant {
		return nil, false, nil
	}
	return func() {
		l.mu.Lock()
		l.unlocks++
		l.mu.Unlock()
	}, true, nil
}

func (l *fakeLocker) setGrant(grant bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.grant = grant
}

func (l *fakeLocker) counts() (attempts, unlocks int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts, l.unlocks
}
