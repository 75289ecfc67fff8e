package app

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"memepulse/internal/alerting"
	"memepulse/internal/service"
)

// EvaluateAlerts runs one alert evaluation pass for symbol at the given price.
// Events go to the log and, when enabled, to Telegram.
func (a *App) EvaluateAlerts(ctx context.Context, symbol string, price decimal.Decimal) (service.EvaluationResult, error) {
	if !price.IsPositive() {
		return service.EvaluationResult{}, errors.New("price 必须大于 0")
	}
	tok, err := a.tokens().Resolve(symbol)
	if err != nil {
		return service.EvaluationResult{}, err
	}

	store, closeStore, err := a.requireStore(ctx, "evaluate alerts")
	if err != nil {
		return service.EvaluationResult{}, err
	}
	defer closeStore()

	publishers := alerting.Multi{alerting.LogPublisher{Logger: a.Logger}}
	if tg := a.newTelegram(); tg != nil {
		publishers = append(publishers, tg)
	}

	res, err := service.NewEvaluator(store, store, publishers, a.Logger).Evaluate(ctx, tok.Symbol, price)
	a.Logger.Info().
		Str("symbol", tok.Symbol).
		Str("price", price.String()).
		Int("checked", res.Checked).
		Int("triggered", res.Triggered).
		Int("expired", res.Expired).
		Int("pending", res.Pending).
		Msg("evaluation finished")
	return res, err
}
