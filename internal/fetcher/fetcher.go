package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUpstreamUnavailable matches every failure of the price provider.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// UpstreamError describes a failed provider call.
type UpstreamError struct {
	Op     string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("birdeye %s (%d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("birdeye %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Is makes every UpstreamError match ErrUpstreamUnavailable.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

// Quote is the current price of a token.
type Quote struct {
	Price          decimal.Decimal
	PriceChange24h decimal.Decimal
	UpdatedAt      time.Time
}

// PricePoint is one entry of a historical price series.
type PricePoint struct {
	Time  time.Time
	Value decimal.Decimal
}

// MarketData is the supply and liquidity snapshot of a token.
type MarketData struct {
	Price             decimal.Decimal
	Liquidity         decimal.Decimal
	TotalSupply       decimal.Decimal
	CirculatingSupply decimal.Decimal
	MarketCap         decimal.Decimal
	FDV               decimal.Decimal
}

// Holder is one of the largest holders of a token.
type Holder struct {
	Owner  string
	Amount decimal.Decimal
}

// TokenMetadata describes a token mint.
type TokenMetadata struct {
	Address  string
	Name     string
	Symbol   string
	Decimals int
	LogoURI  string
}

// VolumeStats is the trailing 24h trading volume.
type VolumeStats struct {
	VolumeUSD           decimal.Decimal
	VolumeChangePercent decimal.Decimal
	PriceChangePercent  decimal.Decimal
}

// PriceProvider retrieves market data for a token address.
type PriceProvider interface {
	CurrentPrice(ctx context.Context, address string) (Quote, error)
	PriceHistory(ctx context.Context, address string, from, to time.Time, interval string) ([]PricePoint, error)
	MarketData(ctx context.Context, address string) (MarketData, error)
	TopHolders(ctx context.Context, address string, limit int) ([]Holder, error)
	Metadata(ctx context.Context, address string) (TokenMetadata, error)
	Volume24h(ctx context.Context, address string) (VolumeStats, error)
}
