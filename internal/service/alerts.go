package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"memepulse/internal/storage"
)

// CreateAlertInput carries the fields of a new alert. Nil pointers mean the field was missing.
type CreateAlertInput struct {
	Symbol           string
	ThresholdPercent *decimal.Decimal
	TimeframeMinutes *int
}

// AlertService validates and stores alerts.
type AlertService struct {
	alerts storage.AlertStore
	tokens *TokenRegistry
	logger zerolog.Logger
}

// NewAlertService constructs an alert service.
func NewAlertService(alerts storage.AlertStore, tokens *TokenRegistry, logger zerolog.Logger) *AlertService {
	return &AlertService{
		alerts: alerts,
		tokens: tokens,
		logger: logger.With().Str("component", "alert_service").Logger(),
	}
}

// Create validates the input and stores a pending alert.
func (s *AlertService) Create(ctx context.Context, in CreateAlertInput) (storage.Alert, error) {
	if in.Symbol == "" || in.ThresholdPercent == nil || in.TimeframeMinutes == nil {
		return storage.Alert{}, invalid("", "Missing required fields")
	}
	if !in.ThresholdPercent.IsPositive() {
		return storage.Alert{}, invalid("thresholdPercent", "must be greater than 0")
	}
	if *in.TimeframeMinutes < 1 {
		return storage.Alert{}, invalid("timeframeMinutes", "must be at least 1")
	}
	if *in.TimeframeMinutes > storage.MaxTimeframeMinutes {
		return storage.Alert{}, invalid("timeframeMinutes", fmt.Sprintf("must be at most %d", storage.MaxTimeframeMinutes))
	}
	tok, err := s.tokens.Resolve(in.Symbol)
	if err != nil {
		return storage.Alert{}, err
	}

	alert, err := s.alerts.CreateAlert(ctx, storage.NewAlert{
		Symbol:           tok.Symbol,
		ThresholdPercent: *in.ThresholdPercent,
		TimeframeMinutes: *in.TimeframeMinutes,
	})
	if err != nil {
		return storage.Alert{}, err
	}
	s.logger.Info().
		Int64("alert_id", alert.ID).
		Str("symbol", alert.Symbol).
		Str("threshold_percent", alert.ThresholdPercent.String()).
		Int("timeframe_minutes", alert.TimeframeMinutes).
		Msg("alert created")
	return alert, nil
}

// List returns alerts matching the filter. The symbol is normalised but not required to be configured.
func (s *AlertService) List(ctx context.Context, filter storage.AlertFilter) ([]storage.Alert, error) {
	filter.Symbol = NormalizeSymbol(filter.Symbol)
	return s.alerts.ListAlerts(ctx, filter)
}

// Get returns one alert.
func (s *AlertService) Get(ctx context.Context, id int64) (storage.Alert, error) {
	if id <= 0 {
		return storage.Alert{}, invalid("id", "must be a positive integer")
	}
	return s.alerts.GetAlert(ctx, id)
}
