// Package memory provides an in-process storage.Repository used when no database is configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"memepulse/internal/storage"
)

// Store keeps price samples and alerts in maps guarded by a RWMutex.
type Store struct {
	mu     sync.RWMutex
	prices map[string]map[int64]storage.PriceSample // symbol -> unix nanos -> sample
	alerts []storage.Alert
	nextID int64
	now    func() time.Time
}

var (
	_ storage.Repository     = (*Store)(nil)
	_ storage.AdvisoryLocker = (*Store)(nil)
)

// New creates an empty in-memory store using the wall clock.
func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty in-memory store with an injected clock.
func NewWithClock(now func() time.Time) *Store {
	return &Store{
		prices: make(map[string]map[int64]storage.PriceSample),
		now:    now,
	}
}

// Close is a no-op.
func (s *Store) Close() {}

// TryAdvisoryLock always grants: a process-local store has no peers to coordinate with.
func (s *Store) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	return func() {}, true, nil
}

func (s *Store) put(sample storage.PriceSample) {
	series, ok := s.prices[sample.Symbol]
	if !ok {
		series = make(map[int64]storage.PriceSample)
		s.prices[sample.Symbol] = series
	}
	sample.Timestamp = sample.Timestamp.UTC()
	series[sample.Timestamp.UnixNano()] = sample
}

// AppendPrice inserts a sample, failing with storage.ErrDuplicateKey if one exists at the same timestamp.
func (s *Store) AppendPrice(_ context.Context, sample storage.PriceSample) error {
	if err := storage.ValidateSample(sample); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.prices[sample.Symbol][sample.Timestamp.UTC().UnixNano()]; exists {
		return fmt.Errorf("append price %s@%s: %w", sample.Symbol, sample.Timestamp.UTC().Format(time.RFC3339), storage.ErrDuplicateKey)
	}
	s.put(sample)
	return nil
}

// UpsertPrice inserts or overwrites the sample at (symbol, timestamp).
func (s *Store) UpsertPrice(_ context.Context, sample storage.PriceSample) error {
	if err := storage.ValidateSample(sample); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(sample)
	return nil
}

// UpsertPrices upserts all samples or none.
func (s *Store) UpsertPrices(_ context.Context, samples []storage.PriceSample) (int, error) {
	for _, sample := range samples {
		if err := storage.ValidateSample(sample); err != nil {
			return 0, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sample := range samples {
		s.put(sample)
	}
	return len(samples), nil
}

// QueryPrices returns samples with from <= timestamp <= to, ascending.
func (s *Store) QueryPrices(_ context.Context, symbol string, from, to time.Time) ([]storage.PriceSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.PriceSample, 0)
	for _, sample := range s.prices[symbol] {
		if sample.Timestamp.Before(from) || sample.Timestamp.After(to) {
			continue
		}
		out = append(out, sample)
	}
	sortAscending(out)
	return out, nil
}

// QueryRecentPrices returns the samples of the trailing window ending now.
func (s *Store) QueryRecentPrices(ctx context.Context, symbol string, window time.Duration) ([]storage.PriceSample, error) {
	now := s.now().UTC()
	return s.QueryPrices(ctx, symbol, now.Add(-window), now)
}

// EarliestPriceSince returns the first sample at or after from.
func (s *Store) EarliestPriceSince(_ context.Context, symbol string, from time.Time) (storage.PriceSample, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best  storage.PriceSample
		found bool
	)
	for _, sample := range s.prices[symbol] {
		if sample.Timestamp.Before(from) {
			continue
		}
		if !found || sample.Timestamp.Before(best.Timestamp) {
			best = sample
			found = true
		}
	}
	return best, found, nil
}

// ListRecentPrices returns up to limit samples, newest first.
func (s *Store) ListRecentPrices(_ context.Context, symbol string, limit int) ([]storage.PriceSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.PriceSample, 0, len(s.prices[symbol]))
	for _, sample := range s.prices[symbol] {
		out = append(out, sample)
	}
	sortAscending(out)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateAlert stores a new pending alert.
func (s *Store) CreateAlert(_ context.Context, alert storage.NewAlert) (storage.Alert, error) {
	if err := storage.ValidateNewAlert(alert); err != nil {
		return storage.Alert{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	created := alert.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	s.nextID++
	rec := storage.Alert{
		ID:               s.nextID,
		Symbol:           alert.Symbol,
		ThresholdPercent: alert.ThresholdPercent,
		TimeframeMinutes: alert.TimeframeMinutes,
		Active:           true,
		Status:           storage.AlertPending,
		CreatedAt:        created.UTC(),
		UpdatedAt:        created.UTC(),
	}
	s.alerts = append(s.alerts, rec)
	return copyAlert(rec), nil
}

// FindActiveAlerts lists pending alerts of a symbol, oldest first.
func (s *Store) FindActiveAlerts(_ context.Context, symbol string) ([]storage.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.Alert, 0)
	for _, a := range s.alerts {
		if a.Symbol == symbol && a.Status == storage.AlertPending {
			out = append(out, copyAlert(a))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// MarkTriggered moves a pending alert to triggered.
func (s *Store) MarkTriggered(_ context.Context, id int64, at time.Time) error {
	return s.transition(id, storage.AlertTriggered, at.UTC())
}

// MarkExpired moves a pending alert to expired.
func (s *Store) MarkExpired(_ context.Context, id int64, at time.Time) error {
	return s.transition(id, storage.AlertExpired, at.UTC())
}

func (s *Store) transition(id int64, to storage.AlertStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.alerts {
		a := &s.alerts[i]
		if a.ID != id {
			continue
		}
		if a.Status != storage.AlertPending {
			return fmt.Errorf("mark %s alert %d: %w", to, id, storage.ErrAlertNotPending)
		}
		a.Status = to
		a.Active = false
		a.UpdatedAt = at
		if to == storage.AlertTriggered {
			triggered := at
			a.TriggeredAt = &triggered
		}
		return nil
	}
	return fmt.Errorf("mark %s alert %d: %w", to, id, storage.ErrAlertNotPending)
}

// ListAlerts lists alerts matching the filter: pending first, then newest first, ties by id.
func (s *Store) ListAlerts(_ context.Context, filter storage.AlertFilter) ([]storage.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.Alert, 0)
	for _, a := range s.alerts {
		if filter.Matches(a) {
			out = append(out, copyAlert(a))
		}
	}
	// alerts are kept in id order, so a stable sort keeps ties by insertion.
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Status == storage.AlertPending, out[j].Status == storage.AlertPending
		if pi != pj {
			return pi
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// GetAlert loads one alert by id.
func (s *Store) GetAlert(_ context.Context, id int64) (storage.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.alerts {
		if a.ID == id {
			return copyAlert(a), nil
		}
	}
	return storage.Alert{}, fmt.Errorf("alert %d: %w", id, storage.ErrNotFound)
}

func copyAlert(a storage.Alert) storage.Alert {
	if a.TriggeredAt != nil {
		t := *a.TriggeredAt
		a.TriggeredAt = &t
	}
	return a
}

func sortAscending(samples []storage.PriceSample) {
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
}
