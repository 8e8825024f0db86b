package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/CryptoSmartNow/bizmart-agent/internal/config"
	"github.com/CryptoSmartNow/bizmart-agent/internal/domain"
	"github.com/CryptoSmartNow/bizmart-agent/internal/identity"
	"github.com/CryptoSmartNow/bizmart-agent/internal/store"
	"github.com/CryptoSmartNow/bizmart-agent/internal/web3"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// transcriptLimit bounds how many entries a stored session transcript keeps.
const transcriptLimit = 200

// RateLimiter implements a per-user rate limiter. The key is userID only,
// not userID:sessionID, so clients cannot bypass throttling by rotating
// session IDs.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a new rate limiter and starts the background
// eviction goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
	rl.startEviction()
	return rl
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// startEviction runs a background goroutine that periodically removes
// expired keys from the requests map, preventing unbounded memory growth.
func (r *RateLimiter) startEviction() {
	go func() {
		ticker := time.NewTicker(r.window)
		defer ticker.Stop()
		for range ticker.C {
			r.mu.Lock()
			cutoff := time.Now().Add(-r.window)
			for key, times := range r.requests {
				var fresh []time.Time
				for _, t := range times {
					if t.After(cutoff) {
						fresh = append(fresh, t)
					}
				}
				if len(fresh) == 0 {
					delete(r.requests, key)
				} else {
					r.requests[key] = fresh
				}
			}
			r.mu.Unlock()
		}
	}()
}

// Handler exposes the agent over HTTP.
type Handler struct {
	service     *Service
	repo        store.Repository
	chain       *web3.Client
	rateLimiter *RateLimiter
	log         ConversationLogger
	cfg         *config.Config
}

// NewHandler creates the agent HTTP handler.
func NewHandler(service *Service, repo store.Repository, chain *web3.Client, conversationLogger ConversationLogger, cfg *config.Config) *Handler {
	if conversationLogger == nil {
		conversationLogger = noopConversationLogger{}
	}

	rateLimitRequests := 10
	rateLimitWindow := time.Minute
	if cfg != nil {
		rateLimitRequests = cfg.RateLimit.RequestsPerWindow
		rateLimitWindow = cfg.RateLimit.WindowDuration
	}

	return &Handler{
		service:     service,
		repo:        repo,
		chain:       chain,
		rateLimiter: NewRateLimiter(rateLimitRequests, rateLimitWindow),
		log:         conversationLogger,
		cfg:         cfg,
	}
}

// RateLimiter returns the handler's per-user rate limiter so other
// transports can share the same throttling state.
func (h *Handler) RateLimiter() *RateLimiter {
	return h.rateLimiter
}

// RegisterRoutes registers the agent endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/agent/chat", h.HandleChat)
	r.Get("/api/agent/proposals", h.HandleListProposals)
	r.Post("/api/agent/proposals/{id}/signed", h.HandleProposalSigned)
	r.Get("/api/agent/stats", h.HandleStats)
	r.Get("/api/agent/markets", h.HandleMarketCount)
	r.Get("/api/agent/markets/{address}", h.HandleMarketState)
	r.Get("/api/health", h.HandleHealth)
}

// Close releases handler resources.
func (h *Handler) Close() {
	if err := h.log.Close(); err != nil {
		slog.Warn("failed to close conversation logger", "error", err)
	}
}

// HandleChat handles POST /api/agent/chat requests, streaming the agent's
// response events over SSE.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	// Rate-limit by userID only so clients cannot bypass throttling by
	// rotating session IDs.
	if !h.rateLimiter.Allow(userID) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	maxBodySize := int64(defaultMaxRequestBodySize)
	if h.cfg != nil {
		maxBodySize = h.cfg.SSE.MaxRequestBodySize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	req.UserID = userID
	req.SessionID = sessionID
	reqID := chiMiddleware.GetReqID(r.Context())

	slog.Info("agent chat request",
		"user_id", userID,
		"session_id", sessionID,
		"message_length", len(req.Message),
	)
	h.log.Log(ConversationLogEvent{
		UserID:     userID,
		SessionID:  sessionID,
		Channel:    "chat_http",
		Direction:  "inbound",
		EventType:  "chat_user_message",
		ContentRaw: req.Message,
		Meta:       map[string]any{"request_id": reqID},
	})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	transcript := []domain.StoredMessage{{Role: "user", Content: req.Message}}

	// The pipeline runs in its own goroutine so keepalives go out while the
	// subprocess thinks. The request context cancels it on disconnect.
	events := make(chan *Response)
	go func() {
		defer close(events)
		for resp := range h.service.ProcessMessage(r.Context(), req) {
			select {
			case events <- resp:
			case <-r.Context().Done():
				return
			}
		}
	}()

	keepalive := 10 * time.Second
	if h.cfg != nil && h.cfg.SSE.KeepaliveInterval > 0 {
		keepalive = h.cfg.SSE.KeepaliveInterval
	}
	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	for {
		select {
		case resp, ok := <-events:
			if !ok {
				h.persistTranscript(r, userID, sessionID, transcript)
				return
			}
			resp = h.decorateProposal(r, resp)

			h.log.Log(ConversationLogEvent{
				UserID:     userID,
				SessionID:  sessionID,
				Channel:    "chat_http",
				Direction:  "outbound",
				EventType:  "agent_response",
				Kind:       string(resp.Kind),
				ContentRaw: resp.Content,
				Meta:       map[string]any{"request_id": reqID},
			})
			if resp.Kind != KindThought {
				transcript = append(transcript, domain.StoredMessage{
					Role: "assistant", Kind: string(resp.Kind), Content: resp.Content,
				})
			}

			data, err := json.Marshal(resp)
			if err != nil {
				slog.Warn("failed to marshal chat response", "error", err)
				if writeErr := writeSSE(w, "error", "failed to serialize response"); writeErr != nil {
					slog.Warn("failed to write SSE serialization error", "error", writeErr)
				}
				flusher.Flush()
				return
			}
			if err := writeSSE(w, "message", string(data)); err != nil {
				slog.Warn("failed to write SSE message event", "error", err)
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// decorateProposal persists a proposal event and rewires its data to carry
// the stored ID so the UI can confirm the signature later.
func (h *Handler) decorateProposal(r *http.Request, resp *Response) *Response {
	if resp.Kind != KindProposal {
		return resp
	}
	proposal, ok := resp.Data.(*web3.MarketProposal)
	if !ok {
		return resp
	}

	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	id, err := h.repo.SaveProposal(r.Context(), &domain.Proposal{
		UserID:          userID,
		SessionID:       sessionID,
		Description:     proposal.Description,
		MetadataURI:     proposal.Params.MetadataURI,
		TradingDeadline: proposal.Params.TradingDeadline,
		ResolveTime:     proposal.Params.ResolveTime,
		LiquidityParam:  proposal.Params.LiquidityParam,
		CreationFee:     proposal.Params.CreationFee,
		ChainID:         proposal.ChainID,
		Factory:         proposal.Contracts.Factory,
		Collateral:      proposal.Contracts.CollateralToken,
		Oracle:          proposal.Params.Oracle,
		CreatedAt:       time.Now(),
	})
	if err != nil {
		slog.Warn("failed to persist proposal", "user_id", userID, "error", err)
		return resp
	}

	return &Response{
		Kind:    resp.Kind,
		Content: resp.Content,
		Data: map[string]any{
			"id":       id,
			"proposal": proposal,
		},
	}
}

func (h *Handler) persistTranscript(r *http.Request, userID, sessionID string, entries []domain.StoredMessage) {
	ctx := r.Context()
	existing, err := h.repo.GetAgentSession(ctx, userID, sessionID)
	if err != nil {
		slog.Warn("failed to load session transcript", "user_id", userID, "error", err)
		return
	}

	var stored []domain.StoredMessage
	now := time.Now()
	created := now
	if existing != nil {
		created = existing.CreatedAt
		if existing.MessagesJSON != "" {
			if err := json.Unmarshal([]byte(existing.MessagesJSON), &stored); err != nil {
				slog.Warn("discarding unreadable session transcript", "user_id", userID, "error", err)
				stored = nil
			}
		}
	}

	stored = append(stored, entries...)
	if len(stored) > transcriptLimit {
		stored = stored[len(stored)-transcriptLimit:]
	}

	data, err := json.Marshal(stored)
	if err != nil {
		slog.Warn("failed to marshal session transcript", "user_id", userID, "error", err)
		return
	}
	if err := h.repo.UpsertAgentSession(ctx, &domain.AgentSession{
		UserID:       userID,
		SessionID:    sessionID,
		MessagesJSON: string(data),
		CreatedAt:    created,
		UpdatedAt:    now,
	}); err != nil {
		slog.Warn("failed to persist session transcript", "user_id", userID, "error", err)
	}
}

// HandleListProposals handles GET /api/agent/proposals.
func (h *Handler) HandleListProposals(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	proposals, err := h.repo.ListProposals(r.Context(), userID)
	if err != nil {
		slog.Error("failed to list proposals", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list proposals")
		return
	}
	if proposals == nil {
		proposals = []*domain.Proposal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": proposals})
}

// HandleProposalSigned handles POST /api/agent/proposals/{id}/signed.
func (h *Handler) HandleProposalSigned(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid proposal id")
		return
	}

	var body struct {
		TxHash string `json:"txHash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TxHash == "" {
		writeError(w, http.StatusBadRequest, "txHash is required")
		return
	}

	proposal, err := h.repo.GetProposal(r.Context(), id)
	if err != nil {
		slog.Error("failed to load proposal", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load proposal")
		return
	}
	if proposal == nil || proposal.UserID != userID {
		writeError(w, http.StatusNotFound, "proposal not found")
		return
	}

	if err := h.repo.MarkProposalSigned(r.Context(), id, body.TxHash); err != nil {
		if errors.Is(err, store.ErrProposalNotPending) {
			writeError(w, http.StatusConflict, "proposal is not pending")
			return
		}
		slog.Error("failed to mark proposal signed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update proposal")
		return
	}

	slog.Info("proposal signed", "id", id, "user_id", userID, "tx_hash", body.TxHash)
	writeJSON(w, http.StatusOK, map[string]any{"status": domain.ProposalStatusSigned})
}

// HandleStats handles GET /api/agent/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Stats())
}

// HandleMarketCount handles GET /api/agent/markets, returning how many
// markets the factory has deployed.
func (h *Handler) HandleMarketCount(w http.ResponseWriter, r *http.Request) {
	if !h.chain.Reachable(r.Context()) {
		writeError(w, http.StatusServiceUnavailable, "chain RPC not configured")
		return
	}

	count, err := h.chain.MarketCount(r.Context(), h.cfg.FactoryAddress)
	if err != nil {
		slog.Error("failed to read market count", "error", err)
		writeError(w, http.StatusBadGateway, "failed to read market count")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count})
}

// HandleMarketState handles GET /api/agent/markets/{address}.
func (h *Handler) HandleMarketState(w http.ResponseWriter, r *http.Request) {
	if !h.chain.Reachable(r.Context()) {
		writeError(w, http.StatusServiceUnavailable, "chain RPC not configured")
		return
	}

	state, err := h.chain.MarketSnapshot(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		slog.Warn("failed to read market state", "error", err)
		writeError(w, http.StatusBadGateway, "failed to read market state")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// HandleHealth handles GET /api/health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	dbOK := true
	if err := h.repo.Ping(r.Context()); err != nil {
		dbOK = false
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]any{
		"status":        httpStatusLabel(status),
		"database":      dbOK,
		"rpc_reachable": h.chain.Reachable(r.Context()),
	})
}

func httpStatusLabel(status int) string {
	if status == http.StatusOK {
		return "ok"
	}
	return "degraded"
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
