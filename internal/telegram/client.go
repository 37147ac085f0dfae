// Package telegram implements the Telegram bot transport: an outbound
// sendMessage client and an inbound webhook handler.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const defaultAPIBase = "https://api.telegram.org"

// Client sends messages through the Telegram Bot API. It implements
// bot.Sender: delivery failures are logged and swallowed so a Telegram outage
// cannot corrupt conversation state.
type Client struct {
	token      string
	apiBase    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Telegram client for the given bot token.
func NewClient(token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		token:      token,
		apiBase:    defaultAPIBase,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type sendMessageRequest struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send delivers a reply to a Telegram chat. The conversation id is the chat
// id in decimal form.
func (c *Client) Send(ctx context.Context, conversationID, text string) {
	chatID, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		c.logger.Error("Invalid chat id", "conversation_id", conversationID, "error", err)
		return
	}

	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text})
	if err != nil {
		c.logger.Error("Failed to marshal sendMessage", "error", err)
		return
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.apiBase, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		c.logger.Error("Failed to build sendMessage request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("sendMessage failed", "chat_id", chatID, "error", err)
		return
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("Failed to close response body", "error", closeErr)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		c.logger.Warn("sendMessage response read failed", "chat_id", chatID, "error", err)
		return
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || !parsed.OK {
		c.logger.Warn("sendMessage rejected", "chat_id", chatID,
			"status", resp.StatusCode, "description", parsed.Description)
	}
}
