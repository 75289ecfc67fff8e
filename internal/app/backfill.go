package app

import (
	"context"
	"errors"
	"sort"
	"time"

	"memepulse/internal/service"
	"memepulse/internal/storage"
)

// Backfill upserts the provider series of every configured token over [From, To].
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) (map[string]int, error) {
	resolution := a.Config.Monitor.HistoryResolution
	step, err := service.ResolutionDuration(resolution)
	if err != nil {
		return nil, err
	}

	end := opts.To.UTC()
	if end.IsZero() {
		end = time.Now().UTC()
	}
	from := opts.From.UTC()
	if opts.From.IsZero() {
		from = end.Add(-a.Config.Monitor.BackfillWindow)
	}
	start := alignForward(from, step)
	if !start.Before(end) {
		return nil, errors.New("回填范围为空，请检查 --from/--to")
	}

	// dry-run never writes, so it runs without a store.
	var prices storage.PriceHistoryStore
	if opts.DryRun {
		a.Logger.Warn().Msg("回填 dry-run：不会写入数据库")
	} else {
		store, closeStore, err := a.requireStore(ctx, "backfill")
		if err != nil {
			return nil, err
		}
		defer closeStore()
		prices = store
	}

	monitor := service.NewMonitor(a.newProvider(), prices, nil, nil, a.tokens(), nil, a.monitorOptions(), a.Logger)
	counts, err := monitor.Backfill(ctx, start, end, opts.DryRun)

	symbols := make([]string, 0, len(counts))
	for symbol := range counts {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	for _, symbol := range symbols {
		a.Logger.Info().Str("symbol", symbol).Int("samples", counts[symbol]).Msg("回填完成")
	}
	if err != nil {
		a.Logger.Error().Err(err).Msg("部分 token 回填失败，请检查日志")
		return counts, err
	}
	return counts, nil
}

func alignForward(t time.Time, interval time.Duration) time.Time {
	truncated := t.Truncate(interval)
	if truncated.Before(t) {
		return truncated.Add(interval)
	}
	return truncated
}
