package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger { return zerolog.Nop() }

func newTestBirdeye(t *testing.T, handler http.HandlerFunc) *Birdeye {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewBirdeye(BirdeyeOptions{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Chain:   "solana",
		Timeout: time.Second,
	}, noopLogger())
}

func TestCurrentPriceSuccess(t *testing.T) {
	b := newTestBirdeye(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pricePath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-API-KEY") != "test-key" || r.Header.Get("x-chain") != "solana" {
			t.Errorf("请求头缺失: %v", r.Header)
		}
		if r.URL.Query().Get("address") != "mint" {
			t.Errorf("address 参数错误: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"value":2.3456,"updateUnixTime":1714564800,"priceChange24h":-3.5}}`))
	})

	q, err := b.CurrentPrice(context.Background(), "mint")
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if !q.Price.Equal(decimal.RequireFromString("2.3456")) {
		t.Fatalf("期望价格 2.3456, 实际 %s", q.Price)
	}
	if !q.PriceChange24h.Equal(decimal.RequireFromString("-3.5")) {
		t.Fatalf("期望涨跌 -3.5, 实际 %s", q.PriceChange24h)
	}
	if q.UpdatedAt.Unix() != 1714564800 {
		t.Fatalf("更新时间错误: %s", q.UpdatedAt)
	}
}

func TestCurrentPriceSmallValue(t *testing.T) {
	b := newTestBirdeye(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"value":2.1e-05}}`))
	})
	q, err := b.CurrentPrice(context.Background(), "mint")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.Price.Equal(decimal.RequireFromString("0.000021")) {
		t.Fatalf("期望价格 0.000021, 实际 %s", q.Price)
	}
}

func TestUpstreamFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"http 500": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message":"boom"}`))
		},
		"success false": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success":false,"message":"Unauthorized"}`))
		},
		"invalid json": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		},
		"missing value": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success":true,"data":{"updateUnixTime":1}}`))
		},
		"string value": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success":true,"data":{"value":"abc"}}`))
		},
		"null data": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success":true,"data":null}`))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			b := newTestBirdeye(t, handler)
			_, err := b.CurrentPrice(context.Background(), "mint")
			if err == nil {
				t.Fatal("应返回错误")
			}
			if !errors.Is(err, ErrUpstreamUnavailable) {
				t.Fatalf("错误应匹配 ErrUpstreamUnavailable: %v", err)
			}
			var upErr *UpstreamError
			if !errors.As(err, &upErr) || upErr.Op != "current price" {
				t.Fatalf("错误类型不对: %#v", err)
			}
		})
	}
}

func TestCurrentPriceTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	b := NewBirdeye(BirdeyeOptions{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, noopLogger())
	_, err := b.CurrentPrice(context.Background(), "mint")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("超时应返回 upstream 错误: %v", err)
	}
}

func TestPriceHistory(t *testing.T) {
	from := time.Unix(1714560000, 0)
	to := time.Unix(1714563600, 0)
	b := newTestBirdeye(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("type") != "1m" || q.Get("address_type") != "token" {
			t.Errorf("查询参数错误: %s", r.URL.RawQuery)
		}
		if q.Get("time_from") != "1714560000" || q.Get("time_to") != "1714563600" {
			t.Errorf("时间参数错误: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"items":[
			{"unixTime":1714560120,"value":1.2},
			{"unixTime":1714560060,"value":1.1}
		]}}`))
	})

	points, err := b.PriceHistory(context.Background(), "mint", from, to, "1m")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("期望 2 个点, 实际 %d", len(points))
	}
	if !points[0].Time.Before(points[1].Time) {
		t.Fatal("结果应按时间升序")
	}
	if points[0].Value.String() != "1.1" {
		t.Fatalf("第一个点应为 1.1, 实际 %s", points[0].Value)
	}
}

func TestPriceHistoryMalformedItem(t *testing.T) {
	b := newTestBirdeye(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"items":[{"unixTime":"x","value":1}]}}`))
	})
	_, err := b.PriceHistory(context.Background(), "mint", time.Now().Add(-time.Hour), time.Now(), "1m")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("格式错误应返回 upstream 错误: %v", err)
	}
}

func TestMarketDataAndHolders(t *testing.T) {
	b := newTestBirdeye(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case marketDataPath:
			_, _ = w.Write([]byte(`{"success":true,"data":{"price":2,"liquidity":1000,"total_supply":998,"circulating_supply":990,"market_cap":1980}}`))
		case holderPath:
			if r.URL.Query().Get("limit") != "2" {
				t.Errorf("limit 参数错误: %s", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`{"success":true,"data":{"items":[{"owner":"A","ui_amount":100},{"owner":"B","amount":"50"}]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	md, err := b.MarketData(context.Background(), "mint")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if md.MarketCap.String() != "1980" || md.TotalSupply.String() != "998" || md.CirculatingSupply.String() != "990" {
		t.Fatalf("market data 解析错误: %+v", md)
	}

	holders, err := b.TopHolders(context.Background(), "mint", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(holders) != 2 || holders[0].Owner != "A" || holders[1].Amount.String() != "50" {
		t.Fatalf("holders 解析错误: %+v", holders)
	}
}

func TestMetadataAndVolume(t *testing.T) {
	b := newTestBirdeye(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case metadataPath:
			_, _ = w.Write([]byte(`{"success":true,"data":{"address":"mint","name":"dogwifhat","symbol":"$WIF","decimals":6,"logo_uri":"https://x/logo.png"}}`))
		case volumePath:
			if r.URL.Query().Get("type") != "24h" {
				t.Errorf("type 参数错误: %s", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`{"success":true,"data":{"volumeUSD":123456.78,"volumeChangePercent":12.5,"priceChangePercent":-1}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	meta, err := b.Metadata(context.Background(), "mint")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.Name != "dogwifhat" || meta.Decimals != 6 {
		t.Fatalf("metadata 解析错误: %+v", meta)
	}

	vol, err := b.Volume24h(context.Background(), "mint")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vol.VolumeUSD.String() != "123456.78" {
		t.Fatalf("volume 解析错误: %s", vol.VolumeUSD)
	}
}
