package telegram

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// handleTimeout bounds a single message turn, including the model calls.
const handleTimeout = 90 * time.Second

// queueCapacity bounds the per-conversation backlog. Telegram delivers one
// update at a time per chat in practice; the headroom absorbs retry bursts.
const queueCapacity = 32

// workerIdleTimeout is how long a conversation worker lingers without
// traffic before shutting down.
const workerIdleTimeout = 5 * time.Minute

// Update is the subset of a Telegram update the bot cares about.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is an inbound Telegram message.
type Message struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Chat      Chat   `json:"chat"`
}

// Chat identifies the Telegram conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// Engine is the conversational engine the webhook feeds into.
type Engine interface {
	HandleMessage(ctx context.Context, conversationID, text string)
}

// Webhook receives Telegram updates and dispatches them to the engine.
// Updates for the same chat are handled one at a time, in arrival order;
// sessions rely on the transport delivering each conversation serially.
type Webhook struct {
	engine Engine
	secret string
	logger *slog.Logger

	mu     sync.Mutex
	queues map[string]chan string
}

// NewWebhook creates a webhook handler. When secret is non-empty, updates
// without the matching secret token header are rejected.
func NewWebhook(engine Engine, secret string, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		engine: engine,
		secret: secret,
		logger: logger,
		queues: make(map[string]chan string),
	}
}

// ServeHTTP handles one webhook delivery. Telegram retries non-2xx responses,
// so anything that merely doesn't interest us is acknowledged with 200.
func (h *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" && r.Header.Get(secretTokenHeader) != h.secret {
		h.logger.Warn("Webhook secret mismatch", "ip", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var update Update
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&update); err != nil {
		h.logger.Warn("Malformed webhook body", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if update.Message == nil || update.Message.Text == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	conversationID := strconv.FormatInt(update.Message.Chat.ID, 10)
	text := update.Message.Text
	h.logger.Debug("Webhook update received", "update_id", update.UpdateID, "chat_id", conversationID)

	// Acknowledge immediately; the turn (DB plus model calls) can take far
	// longer than Telegram's delivery timeout.
	h.dispatch(conversationID, text)
	w.WriteHeader(http.StatusOK)
}

// dispatch hands the message to the chat's worker, starting one if needed.
// Each worker drains its queue one message at a time, so two updates from
// the same chat never reach the engine concurrently.
func (h *Webhook) dispatch(conversationID, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	q, ok := h.queues[conversationID]
	if !ok {
		q = make(chan string, queueCapacity)
		h.queues[conversationID] = q
		go h.drain(conversationID, q)
	}
	select {
	case q <- text:
	default:
		h.logger.Warn("Conversation queue full, dropping update", "chat_id", conversationID)
	}
}

func (h *Webhook) drain(conversationID string, q chan string) {
	idle := time.NewTimer(workerIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case text := <-q:
			ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
			h.engine.HandleMessage(ctx, conversationID, text)
			cancel()
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(workerIdleTimeout)
		case <-idle.C:
			// Enqueues happen under mu, so an empty queue here cannot race
			// with a concurrent send.
			h.mu.Lock()
			if len(q) == 0 {
				delete(h.queues, conversationID)
				h.mu.Unlock()
				return
			}
			h.mu.Unlock()
			idle.Reset(workerIdleTimeout)
		}
	}
}
