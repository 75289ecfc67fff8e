package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"memepulse/internal/storage"
	"memepulse/internal/storage/memory"
)

func ptrDec(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func ptrInt(v int) *int { return &v }

func TestCreateAlertValidation(t *testing.T) {
	svc := NewAlertService(memory.New(), testRegistry(), nopLogger())
	ctx := context.Background()

	cases := []struct {
		name string
		in   CreateAlertInput
	}{
		{"missing symbol", CreateAlertInput{ThresholdPercent: ptrDec("5"), TimeframeMinutes: ptrInt(60)}},
		{"missing threshold", CreateAlertInput{Symbol: "WIF", TimeframeMinutes: ptrInt(60)}},
		{"missing timeframe", CreateAlertInput{Symbol: "WIF", ThresholdPercent: ptrDec("5")}},
		{"zero threshold", CreateAlertInput{Symbol: "WIF", ThresholdPercent: ptrDec("0"), TimeframeMinutes: ptrInt(60)}},
		{"negative threshold", CreateAlertInput{Symbol: "WIF", ThresholdPercent: ptrDec("-1"), TimeframeMinutes: ptrInt(60)}},
		{"zero timeframe", CreateAlertInput{Symbol: "WIF", ThresholdPercent: ptrDec("5"), TimeframeMinutes: ptrInt(0)}},
		{"timeframe beyond a year", CreateAlertInput{Symbol: "WIF", ThresholdPercent: ptrDec("5"), TimeframeMinutes: ptrInt(storage.MaxTimeframeMinutes + 1)}},
		{"timeframe overflowing duration", CreateAlertInput{Symbol: "WIF", ThresholdPercent: ptrDec("5"), TimeframeMinutes: ptrInt(200_000_000)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.in)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
		})
	}

	_, err := svc.Create(ctx, CreateAlertInput{Symbol: "DOGE", ThresholdPercent: ptrDec("5"), TimeframeMinutes: ptrInt(60)})
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestCreateAndListAlerts(t *testing.T) {
	svc := NewAlertService(memory.New(), testRegistry(), nopLogger())
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateAlertInput{Symbol: "wif", ThresholdPercent: ptrDec("7.5"), TimeframeMinutes: ptrInt(30)})
	require.NoError(t, err)
	require.Equal(t, "WIF", a.Symbol)
	require.Equal(t, storage.AlertPending, a.Status)
	require.True(t, a.Active)

	list, err := svc.List(ctx, storage.AlertFilter{Symbol: "wif"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, a.ID, got.ID)

	_, err = svc.Get(ctx, 42)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLongestTimeframeStaysPending(t *testing.T) {
	store := memory.NewWithClock(func() time.Time { return t0 })
	svc := NewAlertService(store, testRegistry(), nopLogger())
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateAlertInput{Symbol: "WIF", ThresholdPercent: ptrDec("5"), TimeframeMinutes: ptrInt(storage.MaxTimeframeMinutes)})
	require.NoError(t, err)
	require.True(t, a.ExpiresAt().After(t0))

	pub := &recordingPublisher{}
	ev := NewEvaluator(store, store, pub, nopLogger()).WithClock(func() time.Time { return t0.Add(time.Minute) })
	res, err := ev.Evaluate(ctx, "WIF", dec("1"))
	require.NoError(t, err)
	require.Equal(t, 0, res.Expired)

	got, err := store.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, storage.AlertPending, got.Status)
}
