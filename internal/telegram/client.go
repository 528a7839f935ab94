// Package telegram is the messaging collaborator: it long-polls the Bot API
// for posts in one configured channel and delivers their text to the
// pipeline, and it carries operator prompts and commands over the same bot.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ovais-007/KitePilot/internal/observ"
)

// MessageHandler receives the raw text of each post in the watched channel.
type MessageHandler func(text string)

// CommandHandler receives operator commands ("/map ...") and returns the
// reply to send back, or empty for none.
type CommandHandler func(command string) string

type Config struct {
	BotToken           string
	BaseURL            string // override for tests; default api.telegram.org
	PollTimeoutSeconds int    // long-poll timeout, default 30
}

type Client struct {
	token       string
	baseURL     string
	pollTimeout int
	httpClient  *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	if cfg.PollTimeoutSeconds <= 0 {
		cfg.PollTimeoutSeconds = 30
	}
	return &Client{
		token:       cfg.BotToken,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		pollTimeout: cfg.PollTimeoutSeconds,
		httpClient: &http.Client{
			// Must outlive the server-side long-poll window.
			Timeout: time.Duration(cfg.PollTimeoutSeconds+5) * time.Second,
		},
	}, nil
}

// Send posts a message to a chat.
func (c *Client) Send(chatID int64, text string) error {
	payload, err := json.Marshal(map[string]any{"chat_id": chatID, "text": text})
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}
	resp, err := c.httpClient.Post(c.method("sendMessage"), "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("telegram: sendMessage status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// SendWithRetry sends with exponential backoff, for operator prompts that
// should survive a flaky network.
func (c *Client) SendWithRetry(ctx context.Context, chatID int64, text string, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if lastErr = c.Send(chatID, text); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(1<<uint(i)) * time.Second):
		}
	}
	return fmt.Errorf("telegram: %d retries exhausted: %w", maxRetries+1, lastErr)
}

type chat struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Type     string `json:"type"`
}

type message struct {
	Text string `json:"text"`
	Chat chat   `json:"chat"`
}

type update struct {
	UpdateID    int64    `json:"update_id"`
	Message     *message `json:"message"`
	ChannelPost *message `json:"channel_post"`
}

// Listen long-polls getUpdates until ctx is cancelled. Posts in channel go
// to onMessage; slash commands from adminChatID go to onCommand. Everything
// from any other chat is dropped before the parser ever sees it.
func (c *Client) Listen(ctx context.Context, channel string, adminChatID int64, onMessage MessageHandler, onCommand CommandHandler) error {
	wantChannel := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "@"))
	var offset int64

	for {
		select {
		case <-ctx.Done():
			observ.Log("telegram_listener_stopped", nil)
			return ctx.Err()
		default:
		}

		updates, err := c.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			observ.Warn("telegram_poll_error", map[string]any{"error": err.Error()})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			c.route(u, wantChannel, adminChatID, onMessage, onCommand)
		}
	}
}

func (c *Client) route(u update, wantChannel string, adminChatID int64, onMessage MessageHandler, onCommand CommandHandler) {
	msg := u.ChannelPost
	if msg == nil {
		msg = u.Message
	}
	if msg == nil || msg.Text == "" {
		return
	}

	text := strings.TrimSpace(msg.Text)
	switch {
	case strings.EqualFold(msg.Chat.Username, wantChannel) && wantChannel != "":
		observ.IncCounter("telegram_messages_total", map[string]string{"kind": "channel"})
		onMessage(text)
	case msg.Chat.ID == adminChatID && strings.HasPrefix(text, "/"):
		observ.IncCounter("telegram_messages_total", map[string]string{"kind": "command"})
		if onCommand == nil {
			return
		}
		if reply := onCommand(text); reply != "" {
			if err := c.Send(msg.Chat.ID, reply); err != nil {
				observ.Warn("telegram_reply_failed", map[string]any{"error": err.Error()})
			}
		}
	default:
		// other chats are filtered before the parser
	}
}

func (c *Client) getUpdates(ctx context.Context, offset int64) ([]update, error) {
	q := url.Values{
		"timeout": {fmt.Sprint(c.pollTimeout)},
	}
	if offset > 0 {
		q.Set("offset", fmt.Sprint(offset))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.method("getUpdates")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read getUpdates response: %w", err)
	}
	var envelope struct {
		OK     bool     `json:"ok"`
		Result []update `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode getUpdates response: %w", err)
	}
	if !envelope.OK {
		return nil, fmt.Errorf("getUpdates returned ok=false")
	}
	return envelope.Result, nil
}

func (c *Client) method(name string) string {
	return c.baseURL + "/bot" + c.token + "/" + name
}
