// Package chatws exposes the conversational engine over WebSocket for the
// web frontend. Each connection is its own conversation.
package chatws

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ConversationPrefix marks conversation ids that belong to WebSocket
// connections, so the reply router can tell them apart from Telegram chat ids.
const ConversationPrefix = "ws-"

// Engine is the conversational engine the transport feeds into.
type Engine interface {
	HandleMessage(ctx context.Context, conversationID, text string)
}

// Hub tracks live connections by conversation id and routes replies back to
// them. It implements the engine's Sender contract for WebSocket
// conversations.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*websocket.Conn
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:  make(map[string]*websocket.Conn),
		logger: logger,
	}
}

func (h *Hub) register(conversationID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conversationID] = conn
}

func (h *Hub) unregister(conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conversationID)
}

// Send delivers a reply to a live connection. A conversation whose connection
// is gone just drops the message; the engine state survives for a reconnect.
func (h *Hub) Send(ctx context.Context, conversationID, text string) {
	h.mu.RLock()
	conn, ok := h.conns[conversationID]
	h.mu.RUnlock()
	if !ok {
		h.logger.Debug("Reply dropped, connection gone", "conversation_id", conversationID)
		return
	}

	data, err := json.Marshal(wsMessage{Type: "reply", Content: text})
	if err != nil {
		h.logger.Error("Failed to marshal reply", "error", err)
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		h.logger.Debug("WebSocket write failed", "conversation_id", conversationID, "error", err)
	}
}

// wsMessage is the frame format in both directions.
type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// Handler upgrades HTTP requests to WebSocket chat sessions.
type Handler struct {
	engine        Engine
	hub           *Hub
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewHandler creates a WebSocket chat handler.
func NewHandler(engine Engine, hub *Hub, allowedOrigin string, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:        engine,
		hub:           hub,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "conversation ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	conversationID := newConversationID()
	h.hub.register(conversationID, ws)
	defer h.hub.unregister(conversationID)
	h.logger.Info("Chat connection opened", "conversation_id", conversationID, "ip", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.readLoop(ctx, ws, conversationID)
	h.logger.Info("Chat connection closed", "conversation_id", conversationID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop handles inbound frames one at a time. Messages run synchronously,
// which gives the engine the serial-delivery guarantee it relies on.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, conversationID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "conversation_id", conversationID)
			} else {
				h.logger.Warn("WebSocket read error", "conversation_id", conversationID, "error", err)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Plain text frames are accepted as messages.
			h.engine.HandleMessage(ctx, conversationID, string(data))
			continue
		}

		switch msg.Type {
		case "message":
			h.engine.HandleMessage(ctx, conversationID, msg.Content)
		case "ping":
			pong, _ := json.Marshal(wsMessage{Type: "pong"})
			if err := ws.Write(ctx, websocket.MessageText, pong); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
			}
		default:
			h.logger.Debug("Ignoring unknown frame type", "type", msg.Type)
		}
	}
}

func newConversationID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return ConversationPrefix + strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return ConversationPrefix + hex.EncodeToString(buf)
}
