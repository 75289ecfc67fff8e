package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"memepulse/internal/fetcher"
	"memepulse/internal/storage"
)

// maxPointsPerRequest bounds one history call; Birdeye caps series length.
const maxPointsPerRequest = 1000

var resolutions = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// ResolutionDuration maps a provider interval such as "1m" or "1H" to its length.
func ResolutionDuration(resolution string) (time.Duration, error) {
	d, ok := resolutions[strings.ToLower(resolution)]
	if !ok {
		return 0, fmt.Errorf("unsupported history resolution %q", resolution)
	}
	return d, nil
}

// providerInterval renders a resolution in the casing Birdeye expects ("1m", "1H", "1D", "1W").
func providerInterval(resolution string) string {
	r := strings.ToLower(resolution)
	if strings.HasSuffix(r, "m") {
		return r
	}
	return strings.ToUpper(r)
}

// fetchSeries loads [from, to] in chunks small enough for one provider call each.
func fetchSeries(ctx context.Context, provider fetcher.PriceProvider, tok Token, from, to time.Time, resolution string) ([]storage.PriceSample, error) {
	step, err := ResolutionDuration(resolution)
	if err != nil {
		return nil, err
	}
	if !from.Before(to) {
		return nil, nil
	}

	chunk := step * maxPointsPerRequest
	interval := providerInterval(resolution)
	samples := make([]storage.PriceSample, 0)
	seen := make(map[int64]struct{})
	for cursor := from; cursor.Before(to); cursor = cursor.Add(chunk) {
		end := cursor.Add(chunk)
		if end.After(to) {
			end = to
		}
		points, err := provider.PriceHistory(ctx, tok.Address, cursor, end, interval)
		if err != nil {
			return nil, err
		}
		for _, p := range points {
			if !p.Value.IsPositive() {
				continue
			}
			key := p.Time.Unix()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			samples = append(samples, storage.PriceSample{Symbol: tok.Symbol, Price: p.Value, Timestamp: p.Time.UTC()})
		}
	}
	return samples, nil
}
