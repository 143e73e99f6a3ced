package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gold-alert-engine/internal/market"
	"gold-alert-engine/internal/rules"
)

func sampleEvent() rules.TriggerEvent {
	return rules.TriggerEvent{
		ID:       "0c9a2a23-9c68-4d0e-a3ce-8f1f8fba11aa",
		AlertID:  42,
		OwnerID:  7,
		Asset:    "XAU",
		Rule:     rules.PriceAbove,
		Price:    decimal.RequireFromString("4005.25"),
		Currency: market.USD,
		FiredAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())

	if err := notifier.Emit(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Telegram Emit 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "XAU") {
		t.Fatalf("text 应包含资产符号: %q", received["text"])
	}
	if !strings.Contains(received["text"], "4005.25") {
		t.Fatalf("text 应包含触发价格: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())

	if err := notifier.Emit(context.Background(), sampleEvent()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestRenderMessage(t *testing.T) {
	text := renderMessage(sampleEvent())

	for _, want := range []string{"[Gold Price Alert]", "Asset: XAU", "Rule: price_above", "Price: 4005.25 USD", "Alert: #42"} {
		if !strings.Contains(text, want) {
			t.Fatalf("消息应包含 %q, 实际:\n%s", want, text)
		}
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
