package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample is one observed price of a token at a point in time.
type PriceSample struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertPending   AlertStatus = "pending"
	AlertTriggered AlertStatus = "triggered"
	AlertExpired   AlertStatus = "expired"
)

// Valid reports whether the status is one of the known states.
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertPending, AlertTriggered, AlertExpired:
		return true
	}
	return false
}

// Alert is a one-shot percentage-move alert.
type Alert struct {
	ID               int64           `json:"id"`
	Symbol           string          `json:"symbol"`
	ThresholdPercent decimal.Decimal `json:"thresholdPercent"`
	TimeframeMinutes int             `json:"timeframeMinutes"`
	Active           bool            `json:"active"`
	Status           AlertStatus     `json:"status"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	TriggeredAt      *time.Time      `json:"triggeredAt"`
}

// MaxTimeframeMinutes bounds an alert window to one year.
const MaxTimeframeMinutes = 365 * 24 * 60

// Timeframe returns the evaluation window as a duration.
func (a Alert) Timeframe() time.Duration {
	return time.Duration(a.TimeframeMinutes) * time.Minute
}

// ExpiresAt is the instant after which a pending alert can no longer trigger.
func (a Alert) ExpiresAt() time.Time {
	return a.CreatedAt.Add(a.Timeframe())
}

// NewAlert carries the caller supplied fields of an alert.
// CreatedAt defaults to the current time when zero.
type NewAlert struct {
	Symbol           string
	ThresholdPercent decimal.Decimal
	TimeframeMinutes int
	CreatedAt        time.Time
}

// AlertFilter narrows ListAlerts. Zero values disable a criterion.
type AlertFilter struct {
	Active *bool
	Symbol string
	Limit  int
}

// Matches reports whether the alert satisfies the filter criteria (limit excluded).
func (f AlertFilter) Matches(a Alert) bool {
	if f.Active != nil && a.Active != *f.Active {
		return false
	}
	if f.Symbol != "" && a.Symbol != f.Symbol {
		return false
	}
	return true
}
