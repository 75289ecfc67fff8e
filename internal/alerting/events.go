package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"memepulse/internal/metrics"
)

// Event names pushed to subscribers.
const (
	EventPriceUpdate = "priceUpdate"
	EventAlert       = "alert"
)

// Event is one push message. It is serialised as {"id","event","data","emittedAt"}.
type Event struct {
	ID        string    `json:"id"`
	Name      string    `json:"event"`
	Data      any       `json:"data"`
	EmittedAt time.Time `json:"emittedAt"`
}

// PriceUpdate is the payload of a priceUpdate event.
type PriceUpdate struct {
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	Timestamp   time.Time       `json:"timestamp"`
	PriceChange decimal.Decimal `json:"priceChange"`
}

// AlertTriggered is the payload of an alert event.
type AlertTriggered struct {
	AlertID      int64           `json:"alertId"`
	Symbol       string          `json:"symbol"`
	PriceChange  string          `json:"priceChange"`
	Timeframe    int             `json:"timeframe"`
	Threshold    decimal.Decimal `json:"threshold"`
	StartPrice   decimal.Decimal `json:"startPrice"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	Timestamp    time.Time       `json:"timestamp"`
	Status       string          `json:"status"`
}

// NewPriceUpdateEvent wraps a price update.
func NewPriceUpdateEvent(p PriceUpdate) Event {
	return Event{ID: uuid.NewString(), Name: EventPriceUpdate, Data: p, EmittedAt: time.Now().UTC()}
}

// NewAlertEvent wraps a triggered alert.
func NewAlertEvent(a AlertTriggered) Event {
	return Event{ID: uuid.NewString(), Name: EventAlert, Data: a, EmittedAt: time.Now().UTC()}
}

// Encode serialises the event for the wire.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

// Publish delivers to all publishers even when some fail.
func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	metrics.EventPublished(event.Name, err)
	return err
}

// LogPublisher writes events to a logger. Used by one-shot CLI commands.
type LogPublisher struct {
	Logger zerolog.Logger
}

// Publish logs the event at info level.
func (p LogPublisher) Publish(_ context.Context, event Event) error {
	payload, err := event.Encode()
	if err != nil {
		return err
	}
	p.Logger.Info().Str("event", event.Name).RawJSON("payload", payload).Msg("event published")
	return nil
}

var (
	_ Publisher = Multi(nil)
	_ Publisher = LogPublisher{}
)
