package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gopkg.in/telebot.v4"

	"persona-relay/internal/domain"
)

const (
	defaultAPIURL = "https://api.telegram.org"
	// messageMaxLength is Telegram's hard message size limit, in characters.
	messageMaxLength = 4096
)

// allowedUpdates restricts webhook deliveries to what the dispatcher handles.
var allowedUpdates = []string{"message", "callback_query"}

// Client talks to the Telegram Bot API. It never polls: updates arrive
// through the webhook and are decoded by DecodeUpdate.
type Client struct {
	bot        *telebot.Bot
	httpClient *http.Client
}

type Option func(*clientConfig)

type clientConfig struct {
	apiURL     string
	httpClient *http.Client
}

func WithAPIURL(apiURL string) Option {
	return func(c *clientConfig) {
		if u := strings.TrimRight(strings.TrimSpace(apiURL), "/"); u != "" {
			c.apiURL = u
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *clientConfig) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// New creates a Client for the bot identified by token. No network call is
// made until the first API method is used.
func New(token string, opts ...Option) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("telegram: bot token must not be empty")
	}
	cfg := clientConfig{
		apiURL:     defaultAPIURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	bot, err := telebot.NewBot(telebot.Settings{
		URL:     cfg.apiURL,
		Token:   token,
		Client:  cfg.httpClient,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return &Client{bot: bot, httpClient: cfg.httpClient}, nil
}

// SendText delivers text to the chat, split into several messages when it
// exceeds the platform limit.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range splitMessage(text, messageMaxLength) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.bot.Send(telebot.ChatID(chatID), chunk); err != nil {
			return fmt.Errorf("telegram: send message to %d: %w", chatID, err)
		}
	}
	return nil
}

// SendPersonaPicker sends text with one inline button per persona.
func (c *Client) SendPersonaPicker(ctx context.Context, chatID int64, text string, personas []domain.Persona) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.bot.Send(telebot.ChatID(chatID), text, personaKeyboard(personas)); err != nil {
		return fmt.Errorf("telegram: send persona picker to %d: %w", chatID, err)
	}
	return nil
}

// AnswerCallback acknowledges an inline button press so the client stops
// showing its progress indicator.
func (c *Client) AnswerCallback(ctx context.Context, callbackID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.bot.Respond(&telebot.Callback{ID: callbackID}); err != nil {
		return fmt.Errorf("telegram: answer callback %s: %w", callbackID, err)
	}
	return nil
}

// SendTyping shows the typing indicator in the chat.
func (c *Client) SendTyping(ctx context.Context, chatID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.bot.Notify(telebot.ChatID(chatID), telebot.Typing); err != nil {
		return fmt.Errorf("telegram: send chat action to %d: %w", chatID, err)
	}
	return nil
}

// RegisterWebhook points the bot's update delivery at url. Telegram treats
// a repeated call with the same url as a no-op.
func (c *Client) RegisterWebhook(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return errors.New("telegram: webhook url must not be empty")
	}
	_, err := c.bot.Raw("setWebhook", map[string]any{
		"url":             url,
		"allowed_updates": allowedUpdates,
	})
	if err != nil {
		return fmt.Errorf("telegram: set webhook: %w", err)
	}
	return nil
}

// WebhookInfo is the platform's view of the current webhook registration.
type WebhookInfo struct {
	URL                string `json:"url"`
	PendingUpdateCount int    `json:"pending_update_count"`
	LastErrorDate      int64  `json:"last_error_date,omitempty"`
	LastErrorMessage   string `json:"last_error_message,omitempty"`
}

type webhookInfoResponse struct {
	Result WebhookInfo `json:"result"`
}

func (c *Client) WebhookInfo(ctx context.Context) (WebhookInfo, error) {
	if err := ctx.Err(); err != nil {
		return WebhookInfo{}, err
	}
	raw, err := c.bot.Raw("getWebhookInfo", map[string]any{})
	if err != nil {
		return WebhookInfo{}, fmt.Errorf("telegram: get webhook info: %w", err)
	}
	var out webhookInfoResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return WebhookInfo{}, fmt.Errorf("telegram: decode webhook info: %w", err)
	}
	return out.Result, nil
}

// Close releases idle pooled connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func personaKeyboard(personas []domain.Persona) *telebot.ReplyMarkup {
	rows := make([][]telebot.InlineButton, 0, len(personas))
	for _, p := range personas {
		rows = append(rows, []telebot.InlineButton{{
			Text: p.Label,
			Data: p.Tag.CallbackData(),
		}})
	}
	return &telebot.ReplyMarkup{InlineKeyboard: rows}
}

// splitMessage cuts text into chunks of at most limit runes, preferring to
// break after a newline in the second half of a chunk.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i >= limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
