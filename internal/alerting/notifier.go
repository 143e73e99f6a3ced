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

	"gold-alert-engine/internal/rules"
)

// Notifier 定义告警输送接口。
type Notifier interface {
	Emit(ctx context.Context, event rules.TriggerEvent) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Emit 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Emit(ctx context.Context, event rules.TriggerEvent) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(event),
	}

	body, err := json.Marshal(payload)
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
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("event_id", event.ID).
		Int64("alert_id", event.AlertID).
		Str("rule", string(event.Rule)).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(event rules.TriggerEvent) string {
	builder := strings.Builder{}
	builder.WriteString("[Gold Price Alert]\n")
	builder.WriteString(fmt.Sprintf("Asset: %s\n", event.Asset))
	builder.WriteString(fmt.Sprintf("Rule: %s\n", event.Rule))
	builder.WriteString(fmt.Sprintf("Price: %s %s\n", event.Price.StringFixed(2), event.Currency))
	builder.WriteString(fmt.Sprintf("Fired: %s UTC\n", event.FiredAt.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Alert: #%d\n", event.AlertID))
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
