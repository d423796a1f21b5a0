package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sellerwatch/sellerwatch/internal/model"
)

const defaultAPIBase = "https://api.telegram.org"

// Telegram delivers change events to a Telegram chat.
type Telegram struct {
	apiBase    string
	token      string
	chatID     string
	enabled    bool
	httpClient *http.Client
	logger     *slog.Logger

	// sellerNames maps seller usernames to display names.
	sellerNames map[string]string
}

// TelegramOption configures a Telegram sink.
type TelegramOption func(*Telegram)

// WithAPIBase overrides the Bot API base URL, mainly for tests.
func WithAPIBase(base string) TelegramOption {
	return func(t *Telegram) { t.apiBase = base }
}

// WithSellerNames sets display names used in message headers.
func WithSellerNames(names map[string]string) TelegramOption {
	return func(t *Telegram) { t.sellerNames = names }
}

// WithTelegramHTTPClient sets a custom HTTP client.
func WithTelegramHTTPClient(hc *http.Client) TelegramOption {
	return func(t *Telegram) { t.httpClient = hc }
}

// WithTelegramLogger sets the logger.
func WithTelegramLogger(logger *slog.Logger) TelegramOption {
	return func(t *Telegram) { t.logger = logger }
}

// NewTelegram creates a Telegram sink. An empty token or chat ID
// disables sending; Deliver then succeeds without side effects.
func NewTelegram(token, chatID string, opts ...TelegramOption) *Telegram {
	t := &Telegram{
		apiBase: defaultAPIBase,
		token:   token,
		chatID:  chatID,
		enabled: token != "" && chatID != "",
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Enabled reports whether the sink actually sends messages.
func (t *Telegram) Enabled() bool { return t.enabled }

// Deliver formats and sends one change event.
func (t *Telegram) Deliver(ctx context.Context, ev model.ChangeEvent) error {
	if !t.enabled {
		return nil
	}

	text, err := t.formatEvent(ev)
	if err != nil {
		return err
	}
	return t.sendMessage(ctx, text)
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) sendMessage(ctx context.Context, text string) error {
	payload, err := json.Marshal(sendMessageRequest{
		ChatID:    t.chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var result sendMessageResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("telegram api: %s (status %d)", result.Description, resp.StatusCode)
	}
	return nil
}

func (t *Telegram) sellerName(sellerID string) string {
	if name, ok := t.sellerNames[sellerID]; ok && name != "" {
		return name
	}
	return sellerID
}
