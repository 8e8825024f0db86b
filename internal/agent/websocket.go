package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/CryptoSmartNow/bizmart-agent/internal/identity"
	"github.com/CryptoSmartNow/bizmart-agent/internal/store"
	"github.com/coder/websocket"
)

// wsMessage represents the WebSocket chat message structure.
type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// WebSocketHandler handles WebSocket-based agent chat sessions. Each chat
// frame is answered with a stream of response frames followed by a done
// frame, mirroring the SSE endpoint's event semantics.
type WebSocketHandler struct {
	service       *Service
	repo          store.Repository
	rateLimiter   *RateLimiter
	log           ConversationLogger
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket chat handler.
func NewWebSocketHandler(service *Service, repo store.Repository, rateLimiter *RateLimiter, conversationLogger ConversationLogger, allowedOrigin string, isDev bool) *WebSocketHandler {
	if conversationLogger == nil {
		conversationLogger = noopConversationLogger{}
	}
	return &WebSocketHandler{
		service:       service,
		repo:          repo,
		rateLimiter:   rateLimiter,
		log:           conversationLogger,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	slog.Info("WebSocket chat connection", "user_id", userID, "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.chatLoop(ctx, ws, userID, sessionID)
	slog.Info("WebSocket chat session ended", "user_id", userID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) chatLoop(ctx context.Context, ws *websocket.Conn, userID, sessionID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			if writeErr := h.writeJSON(ws, map[string]string{"type": "error", "error": "invalid_message"}); writeErr != nil {
				return
			}
			continue
		}

		switch msg.Type {
		case "chat":
			if msg.Content == "" {
				if err := h.writeJSON(ws, map[string]string{"type": "error", "error": "message_required"}); err != nil {
					return
				}
				continue
			}
			if h.rateLimiter != nil && !h.rateLimiter.Allow(userID) {
				if err := h.writeJSON(ws, map[string]string{"type": "error", "error": "rate_limited"}); err != nil {
					return
				}
				continue
			}
			if !h.streamResponses(ctx, ws, userID, sessionID, msg.Content) {
				return
			}
		case "ping":
			if err := h.writeJSON(ws, map[string]string{"type": "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		}

		// Update last seen asynchronously with timeout.
		go func() {
			updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.repo.UpdateLastSeen(updateCtx, userID, time.Now()); err != nil {
				slog.Warn("Failed to update last seen", "error", err)
			}
		}()
	}
}

// streamResponses runs one agent turn and forwards each event as a frame.
// Returns false when the connection is no longer writable.
func (h *WebSocketHandler) streamResponses(ctx context.Context, ws *websocket.Conn, userID, sessionID, content string) bool {
	h.log.Log(ConversationLogEvent{
		UserID:     userID,
		SessionID:  sessionID,
		Channel:    "chat_ws",
		Direction:  "inbound",
		EventType:  "chat_user_message",
		ContentRaw: content,
	})

	req := ChatRequest{Message: content, UserID: userID, SessionID: sessionID}
	for resp := range h.service.ProcessMessage(ctx, req) {
		h.log.Log(ConversationLogEvent{
			UserID:     userID,
			SessionID:  sessionID,
			Channel:    "chat_ws",
			Direction:  "outbound",
			EventType:  "agent_response",
			Kind:       string(resp.Kind),
			ContentRaw: resp.Content,
		})
		if err := h.writeJSON(ws, resp); err != nil {
			slog.Warn("WebSocket write error", "error", err, "user_id", userID)
			return false
		}
	}
	if err := h.writeJSON(ws, map[string]string{"type": "done"}); err != nil {
		slog.Warn("WebSocket write error", "error", err, "user_id", userID)
		return false
	}
	return true
}

func (h *WebSocketHandler) writeJSON(ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(context.Background(), websocket.MessageText, data)
}
