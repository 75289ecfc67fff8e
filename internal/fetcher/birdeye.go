package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	defaultBirdeyeURL = "https://public-api.birdeye.so"

	pricePath        = "/defi/price"
	historyPricePath = "/defi/history_price"
	marketDataPath   = "/defi/v3/token/market-data"
	holderPath       = "/defi/v3/token/holder"
	metadataPath     = "/defi/v3/token/meta-data/single"
	volumePath       = "/defi/price_volume/single"

	maxErrorBody = 256
)

// BirdeyeOptions parameterise the Birdeye client.
type BirdeyeOptions struct {
	BaseURL      string
	APIKey       string
	Chain        string
	Timeout      time.Duration
	UserAgent    string
	RateLimitRPS float64
	RateBurst    int
}

// Birdeye fetches prices and token data from the Birdeye public API.
type Birdeye struct {
	opts    BirdeyeOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
	timeout time.Duration
}

var _ PriceProvider = (*Birdeye)(nil)

// NewBirdeye constructs a Birdeye client.
func NewBirdeye(opts BirdeyeOptions, logger zerolog.Logger) *Birdeye {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBirdeyeURL
	}
	if opts.Chain == "" {
		opts.Chain = "solana"
	}

	limit := rate.Inf
	if opts.RateLimitRPS > 0 {
		limit = rate.Limit(opts.RateLimitRPS)
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &Birdeye{
		opts:    opts,
		logger:  logger.With().Str("component", "birdeye").Logger(),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		baseURL: baseURL,
		timeout: timeout,
	}
}

// CurrentPrice returns the latest price and its 24h change.
func (b *Birdeye) CurrentPrice(ctx context.Context, address string) (Quote, error) {
	const op = "current price"
	data, err := b.get(ctx, op, pricePath, url.Values{"address": {address}})
	if err != nil {
		return Quote{}, err
	}

	price, ok := decimalField(data, "value")
	if !ok || !price.IsPositive() {
		return Quote{}, malformed(op, "value")
	}
	change, _ := decimalField(data, "priceChange24h")

	updated := time.Now().UTC()
	if ts := data.Get("updateUnixTime"); ts.Type == gjson.Number && ts.Int() > 0 {
		updated = time.Unix(ts.Int(), 0).UTC()
	}

	return Quote{Price: price, PriceChange24h: change, UpdatedAt: updated}, nil
}

// PriceHistory returns the ascending price series of [from, to] at the given interval.
func (b *Birdeye) PriceHistory(ctx context.Context, address string, from, to time.Time, interval string) ([]PricePoint, error) {
	const op = "price history"
	if interval == "" {
		interval = "1m"
	}
	params := url.Values{
		"address":      {address},
		"address_type": {"token"},
		"type":         {interval},
		"time_from":    {strconv.FormatInt(from.Unix(), 10)},
		"time_to":      {strconv.FormatInt(to.Unix(), 10)},
	}
	data, err := b.get(ctx, op, historyPricePath, params)
	if err != nil {
		return nil, err
	}

	items := data.Get("items")
	if !items.Exists() {
		return []PricePoint{}, nil
	}
	if !items.IsArray() {
		return nil, malformed(op, "items")
	}

	points := make([]PricePoint, 0, len(items.Array()))
	var parseErr error
	items.ForEach(func(_, item gjson.Result) bool {
		ts := item.Get("unixTime")
		value, ok := decimalField(item, "value")
		if ts.Type != gjson.Number || !ok {
			parseErr = malformed(op, "items.unixTime/value")
			return false
		}
		points = append(points, PricePoint{Time: time.Unix(ts.Int(), 0).UTC(), Value: value})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	sort.SliceStable(points, func(i, j int) bool { return points[i].Time.Before(points[j].Time) })
	return points, nil
}

// MarketData returns supply, liquidity and market cap.
func (b *Birdeye) MarketData(ctx context.Context, address string) (MarketData, error) {
	const op = "market data"
	data, err := b.get(ctx, op, marketDataPath, url.Values{"address": {address}})
	if err != nil {
		return MarketData{}, err
	}
	if !data.IsObject() {
		return MarketData{}, malformed(op, "data")
	}

	var md MarketData
	md.Price, _ = decimalField(data, "price")
	md.Liquidity, _ = decimalField(data, "liquidity")
	md.TotalSupply, _ = decimalField(data, "total_supply", "supply")
	md.CirculatingSupply, _ = decimalField(data, "circulating_supply")
	md.MarketCap, _ = decimalField(data, "market_cap", "marketcap", "mc")
	md.FDV, _ = decimalField(data, "fdv")
	return md, nil
}

// TopHolders returns the largest holders, biggest first.
func (b *Birdeye) TopHolders(ctx context.Context, address string, limit int) ([]Holder, error) {
	const op = "top holders"
	if limit <= 0 {
		limit = 10
	}
	params := url.Values{
		"address": {address},
		"offset":  {"0"},
		"limit":   {strconv.Itoa(limit)},
	}
	data, err := b.get(ctx, op, holderPath, params)
	if err != nil {
		return nil, err
	}

	items := data.Get("items")
	if !items.IsArray() {
		return nil, malformed(op, "items")
	}

	holders := make([]Holder, 0, len(items.Array()))
	var parseErr error
	items.ForEach(func(_, item gjson.Result) bool {
		owner := item.Get("owner").String()
		amount, ok := decimalField(item, "ui_amount", "amount")
		if owner == "" || !ok {
			parseErr = malformed(op, "items.owner/ui_amount")
			return false
		}
		holders = append(holders, Holder{Owner: owner, Amount: amount})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return holders, nil
}

// Metadata returns name, symbol and decimals of the token.
func (b *Birdeye) Metadata(ctx context.Context, address string) (TokenMetadata, error) {
	const op = "metadata"
	data, err := b.get(ctx, op, metadataPath, url.Values{"address": {address}})
	if err != nil {
		return TokenMetadata{}, err
	}
	if !data.IsObject() {
		return TokenMetadata{}, malformed(op, "data")
	}

	meta := TokenMetadata{
		Address:  data.Get("address").String(),
		Name:     data.Get("name").String(),
		Symbol:   data.Get("symbol").String(),
		Decimals: int(data.Get("decimals").Int()),
		LogoURI:  data.Get("logo_uri").String(),
	}
	if meta.Address == "" {
		meta.Address = address
	}
	return meta, nil
}

// Volume24h returns the trailing 24h volume in USD.
func (b *Birdeye) Volume24h(ctx context.Context, address string) (VolumeStats, error) {
	const op = "volume 24h"
	params := url.Values{"address": {address}, "type": {"24h"}}
	data, err := b.get(ctx, op, volumePath, params)
	if err != nil {
		return VolumeStats{}, err
	}

	volume, ok := decimalField(data, "volumeUSD")
	if !ok {
		return VolumeStats{}, malformed(op, "volumeUSD")
	}
	stats := VolumeStats{VolumeUSD: volume}
	stats.VolumeChangePercent, _ = decimalField(data, "volumeChangePercent")
	stats.PriceChangePercent, _ = decimalField(data, "priceChangePercent")
	return stats, nil
}

// get performs one rate limited GET and returns the "data" member of a successful envelope.
func (b *Birdeye) get(ctx context.Context, op, path string, params url.Values) (gjson.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, &UpstreamError{Op: op, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	endpoint := b.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return gjson.Result{}, &UpstreamError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-KEY", b.opts.APIKey)
	req.Header.Set("x-chain", b.opts.Chain)
	if ua := strings.TrimSpace(b.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "memepulse/1.0")
	}

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return gjson.Result{}, &UpstreamError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, &UpstreamError{Op: op, Status: resp.StatusCode, Err: err}
	}

	b.logger.Debug().
		Str("op", op).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("birdeye request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gjson.Result{}, &UpstreamError{Op: op, Status: resp.StatusCode, Err: parseHTTPError(payload)}
	}
	if !gjson.ValidBytes(payload) {
		return gjson.Result{}, &UpstreamError{Op: op, Status: resp.StatusCode, Err: errors.New("invalid json body")}
	}

	envelope := gjson.ParseBytes(payload)
	if success := envelope.Get("success"); success.Exists() && !success.Bool() {
		return gjson.Result{}, &UpstreamError{Op: op, Status: resp.StatusCode, Err: parseHTTPError(payload)}
	}
	data := envelope.Get("data")
	if !data.Exists() || data.Type == gjson.Null {
		return gjson.Result{}, malformed(op, "data")
	}
	return data, nil
}

// decimalField reads the first present numeric field among paths.
func decimalField(r gjson.Result, paths ...string) (decimal.Decimal, bool) {
	for _, p := range paths {
		v := r.Get(p)
		switch v.Type {
		case gjson.Number:
			d, err := decimal.NewFromString(v.Raw)
			if err != nil {
				d = decimal.NewFromFloat(v.Float())
			}
			return d, true
		case gjson.String:
			if d, err := decimal.NewFromString(v.Str); err == nil {
				return d, true
			}
		}
	}
	return decimal.Zero, false
}

func malformed(op, field string) error {
	return &UpstreamError{Op: op, Err: fmt.Errorf("missing or ill-typed field %q", field)}
}

func parseHTTPError(payload []byte) error {
	for _, key := range []string{"message", "error", "description"} {
		if msg := gjson.GetBytes(payload, key).String(); msg != "" {
			return errors.New(msg)
		}
	}
	body := strings.TrimSpace(string(payload))
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	if body == "" {
		return errors.New("empty response")
	}
	return errors.New(body)
}
