// Package channels implements the notification transports the dispatcher
// delivers alerts through.
package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/vigil/internal/domain"
)

const telegramAPIBase = "https://api.telegram.org"

// Telegram sends alerts through the Bot API sendMessage call.
type Telegram struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

// NewTelegram creates a telegram channel for the given bot and chat.
func NewTelegram(botToken, chatID string) (*Telegram, error) {
	if botToken == "" || chatID == "" {
		return nil, errors.New("telegram bot token and chat id are required")
	}
	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  telegramAPIBase,
		client:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (t *Telegram) Name() string {
	return "telegram"
}

type telegramSendMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (t *Telegram) Send(ctx context.Context, candidate domain.AlertCandidate) error {
	body, err := json.Marshal(telegramSendMessage{
		ChatID:    t.chatID,
		Text:      candidate.Message,
		ParseMode: "Markdown",
	})
	if err != nil {
		return errors.Wrap(err, "marshal telegram message")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, url.PathEscape(t.botToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build telegram request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send telegram message")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("telegram responded with status %d", resp.StatusCode)
	}
	return nil
}
