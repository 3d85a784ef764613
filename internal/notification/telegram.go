package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const telegramAPIBase = "https://api.telegram.org/bot"

// TelegramSender posts alerts through the Bot API.
type TelegramSender struct {
	name       string
	botToken   string
	chatID     string
	apiBase    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTelegramSender creates a Telegram sender for one chat.
func NewTelegramSender(name, botToken, chatID string, logger *slog.Logger) *TelegramSender {
	return &TelegramSender{
		name:       name,
		botToken:   botToken,
		chatID:     chatID,
		apiBase:    telegramAPIBase,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

func (s *TelegramSender) Type() string { return "telegram" }
func (s *TelegramSender) Name() string { return s.name }

func (s *TelegramSender) Send(ctx context.Context, msg *Message) error {
	text := escapeMarkdown(msg.Body)
	if msg.Subject != "" {
		text = fmt.Sprintf("*%s*\n\n%s", escapeMarkdown(msg.Subject), text)
	}
	body, _ := json.Marshal(map[string]any{
		"chat_id":    s.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiBase+s.botToken+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// The URL carries the token; keep it out of the error.
		return fmt.Errorf("sending request to telegram failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram API returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "[", "\\[", "`", "\\`")

// escapeMarkdown escapes Telegram Markdown v1 control characters.
func escapeMarkdown(s string) string { return markdownEscaper.Replace(s) }
