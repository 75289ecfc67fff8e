package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func sampleAlert() AlertTriggered {
	return AlertTriggered{
		AlertID:      7,
		Symbol:       "WIF",
		PriceChange:  "10.00",
		Timeframe:    60,
		Threshold:    decimal.NewFromInt(5),
		StartPrice:   decimal.NewFromInt(100),
		CurrentPrice: decimal.NewFromInt(110),
		Timestamp:    time.Now(),
		Status:       "triggered",
	}
}

func TestTelegramPublisherSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/bottoken/sendMessage") {
			t.Errorf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	p := NewTelegramPublisher("token", "chat", srv.URL, time.Second, testLogger())
	if err := p.Publish(context.Background(), NewAlertEvent(sampleAlert())); err != nil {
		t.Fatalf("Telegram Publish 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "WIF alert #7") || !strings.Contains(received["text"], "10.00%") {
		t.Fatalf("text 内容不正确: %q", received["text"])
	}
}

func TestTelegramPublisherError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	p := NewTelegramPublisher("token", "chat", srv.URL, time.Second, testLogger())
	if err := p.Publish(context.Background(), NewAlertEvent(sampleAlert())); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestTelegramPublisherIgnoresPriceUpdates(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	p := NewTelegramPublisher("token", "chat", srv.URL, time.Second, testLogger())
	ev := NewPriceUpdateEvent(PriceUpdate{Symbol: "WIF", Price: decimal.NewFromInt(1), Timestamp: time.Now()})
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("价格事件应被忽略: %v", err)
	}
	if calls.Load() != 0 {
		t.Fatal("价格事件不应调用 Telegram")
	}
}
