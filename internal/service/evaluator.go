package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"memepulse/internal/alerting"
	"memepulse/internal/metrics"
	"memepulse/internal/storage"
)

var hundred = decimal.NewFromInt(100)

// EvaluationResult counts what one evaluation pass did.
type EvaluationResult struct {
	Checked   int
	Expired   int
	Triggered int
	Pending   int
	// Skipped counts alerts another evaluator moved out of pending first.
	Skipped int
}

// Evaluator applies the pending -> triggered | expired state machine.
type Evaluator struct {
	alerts    storage.AlertStore
	prices    storage.PriceHistoryStore
	publisher alerting.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// NewEvaluator constructs an evaluator. A nil publisher drops events.
func NewEvaluator(alerts storage.AlertStore, prices storage.PriceHistoryStore, publisher alerting.Publisher, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		alerts:    alerts,
		prices:    prices,
		publisher: publisher,
		logger:    logger.With().Str("component", "evaluator").Logger(),
		now:       time.Now,
	}
}

// WithClock replaces the evaluator clock.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Evaluate checks every pending alert of symbol against currentPrice.
// Failures of one alert are collected and do not stop the others.
func (e *Evaluator) Evaluate(ctx context.Context, symbol string, currentPrice decimal.Decimal) (EvaluationResult, error) {
	var res EvaluationResult

	active, err := e.alerts.FindActiveAlerts(ctx, symbol)
	if err != nil {
		return res, fmt.Errorf("find active alerts for %s: %w", symbol, err)
	}
	if len(active) == 0 {
		return res, nil
	}

	var errs []error
	for _, alert := range active {
		res.Checked++
		if err := e.evaluateOne(ctx, alert, currentPrice, &res); err != nil {
			errs = append(errs, err)
		}
	}
	return res, errors.Join(errs...)
}

func (e *Evaluator) evaluateOne(ctx context.Context, alert storage.Alert, currentPrice decimal.Decimal, res *EvaluationResult) error {
	now := e.now().UTC()
	logger := e.logger.With().Int64("alert_id", alert.ID).Str("symbol", alert.Symbol).Logger()

	// expiry takes precedence over a move seen in the same pass.
	if now.After(alert.ExpiresAt()) {
		err := e.alerts.MarkExpired(ctx, alert.ID, now)
		switch {
		case errors.Is(err, storage.ErrAlertNotPending):
			res.Skipped++
			return nil
		case err != nil:
			return fmt.Errorf("expire alert %d: %w", alert.ID, err)
		}
		res.Expired++
		metrics.AlertTransition(string(storage.AlertExpired))
		logger.Info().Time("expires_at", alert.ExpiresAt()).Msg("alert expired")
		return nil
	}

	windowStart := now.Add(-alert.Timeframe())
	start, ok, err := e.prices.EarliestPriceSince(ctx, alert.Symbol, windowStart)
	if err != nil {
		return fmt.Errorf("load window start for alert %d: %w", alert.ID, err)
	}
	if !ok || start.Price.IsZero() {
		res.Pending++
		logger.Debug().Time("window_start", windowStart).Msg("no usable price in window")
		return nil
	}

	change := currentPrice.Sub(start.Price).Div(start.Price).Mul(hundred)
	if change.Abs().LessThan(alert.ThresholdPercent) {
		res.Pending++
		return nil
	}

	err = e.alerts.MarkTriggered(ctx, alert.ID, now)
	switch {
	case errors.Is(err, storage.ErrAlertNotPending):
		res.Skipped++
		return nil
	case err != nil:
		return fmt.Errorf("trigger alert %d: %w", alert.ID, err)
	}
	res.Triggered++
	metrics.AlertTransition(string(storage.AlertTriggered))

	payload := alerting.AlertTriggered{
		AlertID:      alert.ID,
		Symbol:       alert.Symbol,
		PriceChange:  change.StringFixed(2),
		Timeframe:    alert.TimeframeMinutes,
		Threshold:    alert.ThresholdPercent,
		StartPrice:   start.Price,
		CurrentPrice: currentPrice,
		Timestamp:    now,
		Status:       string(storage.AlertTriggered),
	}
	logger.Info().
		Str("price_change", payload.PriceChange).
		Str("start_price", start.Price.String()).
		Str("current_price", currentPrice.String()).
		Msg("alert triggered")

	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, alerting.NewAlertEvent(payload)); err != nil {
			logger.Warn().Err(err).Msg("alert event publish failed")
		}
	}
	return nil
}
