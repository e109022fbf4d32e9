package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const TypeTelegram = "telegram"

type Telegram struct {
	Token   string
	ChatID  string
	BaseURL string
	HTTP    *http.Client
}

type telegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		Token:   token,
		ChatID:  chatID,
		BaseURL: "https://api.telegram.org",
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

func TelegramFromConfig(raw json.RawMessage) (*Telegram, error) {
	var c telegramConfig
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse telegram config: %w", err)
	}
	t := NewTelegram(c.BotToken, c.ChatID)
	if !t.Enabled() {
		return nil, fmt.Errorf("telegram needs bot_token and chat_id")
	}
	return t, nil
}

func (t *Telegram) Name() string { return TypeTelegram }

func (t *Telegram) Enabled() bool {
	return t.Token != "" && t.ChatID != ""
}

func (t *Telegram) Send(ctx context.Context, msg Message) error {
	if !t.Enabled() {
		return fmt.Errorf("telegram not configured")
	}
	text := msg.Text
	if msg.Subject != "" {
		text = msg.Subject + "\n\n" + msg.Text
	}
	payload := map[string]any{"chat_id": t.ChatID, "text": text, "disable_web_page_preview": true}
	b, _ := json.Marshal(payload)
	u := fmt.Sprintf("%s/bot%s/sendMessage", t.BaseURL, t.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := t.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	resp, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	if res.StatusCode >= 300 {
		return fmt.Errorf("telegram status %d: %s", res.StatusCode, string(resp))
	}
	return nil
}
