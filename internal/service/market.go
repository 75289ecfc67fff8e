package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"memepulse/internal/fetcher"
	"memepulse/internal/storage"
)

const (
	defaultHistoryWindow = time.Hour
	defaultTopHolders    = 10
)

// TokenPrice is the current price view of a token.
type TokenPrice struct {
	Symbol       string          `json:"symbol"`
	Address      string          `json:"address"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	Change24h    string          `json:"change24h"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// PricePoint is one stored sample in a history view.
type PricePoint struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// PriceHistory is the stored series of a token over a range.
type PriceHistory struct {
	Symbol      string       `json:"symbol"`
	From        time.Time    `json:"from"`
	To          time.Time    `json:"to"`
	Prices      []PricePoint `json:"prices"`
	PriceChange *string      `json:"priceChange"`
}

// HolderShare is a top holder with its share of supply.
type HolderShare struct {
	Owner        string          `json:"owner"`
	Amount       decimal.Decimal `json:"amount"`
	SharePercent string          `json:"sharePercent,omitempty"`
}

// TokenStats combines metadata, market data, volume and holders.
type TokenStats struct {
	Symbol            string           `json:"symbol"`
	Address           string           `json:"address"`
	Name              string           `json:"name,omitempty"`
	Decimals          int              `json:"decimals,omitempty"`
	LogoURI           string           `json:"logoUri,omitempty"`
	Price             decimal.Decimal  `json:"price"`
	MarketCap         decimal.Decimal  `json:"marketCap"`
	Supply            decimal.Decimal  `json:"supply"`
	CirculatingSupply decimal.Decimal  `json:"circulatingSupply"`
	Liquidity         decimal.Decimal  `json:"liquidity"`
	Volume24h         *decimal.Decimal `json:"volume24h"`
	TopHolders        []HolderShare    `json:"topHolders"`
}

// HistoryQuery selects a stored range. Zero From/To default to the last hour.
type HistoryQuery struct {
	From time.Time
	To   time.Time
}

// MarketService answers read queries about tokens.
type MarketService struct {
	provider fetcher.PriceProvider
	prices   storage.PriceHistoryStore
	tokens   *TokenRegistry
	logger   zerolog.Logger
	now      func() time.Time
}

// NewMarketService constructs the read side.
func NewMarketService(provider fetcher.PriceProvider, prices storage.PriceHistoryStore, tokens *TokenRegistry, logger zerolog.Logger) *MarketService {
	return &MarketService{
		provider: provider,
		prices:   prices,
		tokens:   tokens,
		logger:   logger.With().Str("component", "market_service").Logger(),
		now:      time.Now,
	}
}

// WithClock replaces the service clock.
func (s *MarketService) WithClock(now func() time.Time) *MarketService {
	s.now = now
	return s
}

// Tokens lists the configured tokens.
func (s *MarketService) Tokens() []Token {
	return s.tokens.Tokens()
}

// CurrentPrice fetches the live price of symbol.
func (s *MarketService) CurrentPrice(ctx context.Context, symbol string) (TokenPrice, error) {
	tok, err := s.tokens.Resolve(symbol)
	if err != nil {
		return TokenPrice{}, err
	}
	quote, err := s.provider.CurrentPrice(ctx, tok.Address)
	if err != nil {
		return TokenPrice{}, err
	}
	return TokenPrice{
		Symbol:       tok.Symbol,
		Address:      tok.Address,
		CurrentPrice: quote.Price,
		Change24h:    quote.PriceChange24h.StringFixed(2) + "%",
		UpdatedAt:    quote.UpdatedAt,
	}, nil
}

// History returns stored samples of symbol within the query range.
func (s *MarketService) History(ctx context.Context, symbol string, q HistoryQuery) (PriceHistory, error) {
	tok, err := s.tokens.Resolve(symbol)
	if err != nil {
		return PriceHistory{}, err
	}

	to := q.To
	if to.IsZero() {
		to = s.now()
	}
	from := q.From
	if from.IsZero() {
		from = to.Add(-defaultHistoryWindow)
	}
	if from.After(to) {
		return PriceHistory{}, invalid("time_from", "must not be after time_to")
	}

	samples, err := s.prices.QueryPrices(ctx, tok.Symbol, from, to)
	if err != nil {
		return PriceHistory{}, err
	}

	view := PriceHistory{
		Symbol: tok.Symbol,
		From:   from.UTC(),
		To:     to.UTC(),
		Prices: make([]PricePoint, 0, len(samples)),
	}
	for _, sample := range samples {
		view.Prices = append(view.Prices, PricePoint{Price: sample.Price, Timestamp: sample.Timestamp})
	}
	if len(samples) >= 2 {
		first, last := samples[0].Price, samples[len(samples)-1].Price
		if !first.IsZero() {
			change := last.Sub(first).Div(first).Mul(hundred).StringFixed(2)
			view.PriceChange = &change
		}
	}
	return view, nil
}

// Stats composes market data with metadata, 24h volume and top holders.
// Market data is required; the other parts are left empty when the provider fails.
func (s *MarketService) Stats(ctx context.Context, symbol string) (TokenStats, error) {
	tok, err := s.tokens.Resolve(symbol)
	if err != nil {
		return TokenStats{}, err
	}
	logger := s.logger.With().Str("symbol", tok.Symbol).Logger()

	md, err := s.provider.MarketData(ctx, tok.Address)
	if err != nil {
		return TokenStats{}, fmt.Errorf("market data: %w", err)
	}
	stats := TokenStats{
		Symbol:            tok.Symbol,
		Address:           tok.Address,
		Price:             md.Price,
		MarketCap:         md.MarketCap,
		Supply:            md.TotalSupply,
		CirculatingSupply: md.CirculatingSupply,
		Liquidity:         md.Liquidity,
		TopHolders:        []HolderShare{},
	}

	if meta, err := s.provider.Metadata(ctx, tok.Address); err != nil {
		logger.Warn().Err(err).Msg("metadata unavailable")
	} else {
		stats.Name = meta.Name
		stats.Decimals = meta.Decimals
		stats.LogoURI = meta.LogoURI
	}

	if vol, err := s.provider.Volume24h(ctx, tok.Address); err != nil {
		logger.Warn().Err(err).Msg("24h volume unavailable")
	} else {
		v := vol.VolumeUSD
		stats.Volume24h = &v
	}

	holders, err := s.provider.TopHolders(ctx, tok.Address, defaultTopHolders)
	if err != nil {
		logger.Warn().Err(err).Msg("top holders unavailable")
		return stats, nil
	}
	for _, h := range holders {
		share := HolderShare{Owner: h.Owner, Amount: h.Amount}
		if md.TotalSupply.IsPositive() {
			share.SharePercent = h.Amount.Div(md.TotalSupply).Mul(hundred).StringFixed(2)
		}
		stats.TopHolders = append(stats.TopHolders, share)
	}
	return stats, nil
}
