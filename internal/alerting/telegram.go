package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TelegramPublisher 通过 Telegram Bot API 推送已触发的告警。
type TelegramPublisher struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramPublisher 构造 Telegram 推送器。
func NewTelegramPublisher(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramPublisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramPublisher{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Publish sends alert events; every other event is ignored.
func (n *TelegramPublisher) Publish(ctx context.Context, event Event) error {
	if event.Name != EventAlert {
		return nil
	}
	alert, ok := event.Data.(AlertTriggered)
	if !ok {
		return fmt.Errorf("telegram: unexpected alert payload %T", event.Data)
	}

	body, err := json.Marshal(map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(alert),
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram 返回 ok=false")
	}

	n.logger.Info().Int64("alert_id", alert.AlertID).
		Str("symbol", alert.Symbol).
		Str("price_change", alert.PriceChange).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(a AlertTriggered) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[memepulse] %s alert #%d\n", a.Symbol, a.AlertID)
	fmt.Fprintf(&b, "Move: %s%% within %d min (threshold %s%%)\n", a.PriceChange, a.Timeframe, a.Threshold.String())
	fmt.Fprintf(&b, "Price: %s -> %s\n", a.StartPrice.String(), a.CurrentPrice.String())
	fmt.Fprintf(&b, "At: %s UTC\n", a.Timestamp.UTC().Format(time.RFC3339))
	return b.String()
}

var _ Publisher = (*TelegramPublisher)(nil)
