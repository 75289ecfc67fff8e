package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"memepulse/internal/service"
	"memepulse/internal/storage"
)

// AlertOptions configure the alerts commands.
type AlertOptions struct {
	Symbol           string
	ThresholdPercent string
	TimeframeMinutes int
	Active           *bool
	Limit            int
}

// CreateAlert stores a pending alert with the same validation as the HTTP API.
func (a *App) CreateAlert(ctx context.Context, opts AlertOptions) (storage.Alert, error) {
	in := service.CreateAlertInput{Symbol: opts.Symbol}
	if opts.ThresholdPercent != "" {
		threshold, err := decimal.NewFromString(opts.ThresholdPercent)
		if err != nil {
			return storage.Alert{}, fmt.Errorf("invalid --threshold %q: %w", opts.ThresholdPercent, err)
		}
		in.ThresholdPercent = &threshold
	}
	if opts.TimeframeMinutes != 0 {
		minutes := opts.TimeframeMinutes
		in.TimeframeMinutes = &minutes
	}

	store, closeStore, err := a.requireStore(ctx, "create alerts")
	if err != nil {
		return storage.Alert{}, err
	}
	defer closeStore()

	alert, err := service.NewAlertService(store, a.tokens(), a.Logger).Create(ctx, in)
	if err != nil {
		return storage.Alert{}, err
	}
	printAlerts(os.Stdout, []storage.Alert{alert})
	return alert, nil
}

// ListAlerts prints alerts, pending first.
func (a *App) ListAlerts(ctx context.Context, opts AlertOptions) error {
	store, closeStore, err := a.requireStore(ctx, "list alerts")
	if err != nil {
		return err
	}
	defer closeStore()

	alerts, err := service.NewAlertService(store, a.tokens(), a.Logger).List(ctx, storage.AlertFilter{
		Active: opts.Active,
		Symbol: opts.Symbol,
		Limit:  opts.Limit,
	})
	if err != nil {
		return err
	}
	printAlerts(os.Stdout, alerts)
	return nil
}

func printAlerts(out io.Writer, alerts []storage.Alert) {
	if len(alerts) == 0 {
		fmt.Fprintln(out, "no alerts found")
		return
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tSymbol\tThreshold%\tTimeframe\tStatus\tCreated (UTC)\tTriggered (UTC)")
	for _, alert := range alerts {
		triggered := "-"
		if alert.TriggeredAt != nil {
			triggered = alert.TriggeredAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%dm\t%s\t%s\t%s\n",
			alert.ID,
			alert.Symbol,
			alert.ThresholdPercent.String(),
			alert.TimeframeMinutes,
			alert.Status,
			alert.CreatedAt.UTC().Format(time.RFC3339),
			triggered,
		)
	}
	writer.Flush()
}
