package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/CryptoSmartNow/bizmart-agent/internal/config"
	"github.com/CryptoSmartNow/bizmart-agent/internal/domain"
	"github.com/CryptoSmartNow/bizmart-agent/internal/identity"
	"github.com/CryptoSmartNow/bizmart-agent/internal/store"
	"github.com/go-chi/chi/v5"
)

func testHandlerConfig() *config.Config {
	return &config.Config{
		RateLimit: config.RateLimitConfig{
			RequestsPerWindow: 100,
			WindowDuration:    time.Minute,
		},
		SSE: config.SSEConfig{MaxRequestBodySize: 1 << 20},
	}
}

// newTestServer builds a full HTTP stack over a fallback-only agent: the
// scripted executor fails every invocation, so responses are deterministic
// without a chain or an installed CLI.
func newTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, store.Repository, *Handler) {
	t.Helper()

	repo, err := store.NewSQLite(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	wsCfg := testWorkspaceConfig(t)
	runner := NewRunner(wsCfg, nil, failingExecutor{}, nil)
	interp := NewInterpreter(&fakeDispatcher{}, nil)
	workspace := NewWorkspaceInitializer(wsCfg, &scriptedExecutor{results: []*ExecResult{{}}}, nil)
	service := NewService(runner, interp, NewFallbackEngine(), workspace, nil)

	handler := NewHandler(service, repo, nil, nil, cfg)
	t.Cleanup(handler.Close)

	r := chi.NewRouter()
	r.Use(identity.Middleware(repo, true))
	handler.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, repo, handler
}

var errOpenClawMissing = errors.New("openclaw binary not found")

type failingExecutor struct{}

func (failingExecutor) Run(_ context.Context, _ string, _ []string, _ map[string]string) (*ExecResult, error) {
	return nil, errOpenClawMissing
}

func postChat(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/agent/chat", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("chat request failed: %v", err)
	}
	return resp
}

func TestHandleChatStreamsSSE(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, testHandlerConfig())
	resp := postChat(t, srv, `{"message": "mint some usdc"}`)
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", ct)
	}

	events := readSSEResponses(t, resp)
	if len(events) < 2 {
		t.Fatalf("expected a fallback stream, got %d events", len(events))
	}
	if events[0].Kind != KindThought {
		t.Fatalf("expected an opening thought, got %s", events[0].Kind)
	}
	last := events[len(events)-1]
	if last.Kind != KindMessage || !strings.Contains(last.Content, "mint") {
		t.Fatalf("unexpected terminal event: %+v", last)
	}
}

func TestHandleChatRejectsEmptyMessage(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, testHandlerConfig())
	resp := postChat(t, srv, `{"message": ""}`)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHandleChatRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	cfg := testHandlerConfig()
	cfg.SSE.MaxRequestBodySize = 64
	srv, _, _ := newTestServer(t, cfg)

	resp := postChat(t, srv, `{"message": "`+strings.Repeat("x", 256)+`"}`)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
}

func TestHandleChatRateLimits(t *testing.T) {
	t.Parallel()

	cfg := testHandlerConfig()
	cfg.RateLimit.RequestsPerWindow = 1
	srv, _, _ := newTestServer(t, cfg)

	// Reuse the anon cookie so both requests hit the same user bucket.
	first := postChat(t, srv, `{"message": "hello"}`)
	_ = first.Body.Close()
	cookie := anonCookie(t, first)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/agent/chat", strings.NewReader(`{"message": "hello again"}`))
	if err != nil {
		t.Fatal(err)
	}
	req.AddCookie(cookie)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
}

func TestHandleChatPersistsTranscript(t *testing.T) {
	t.Parallel()

	srv, repo, _ := newTestServer(t, testHandlerConfig())

	resp := postChat(t, srv, `{"message": "what's my balance?"}`)
	events := readSSEResponses(t, resp)
	if len(events) == 0 {
		t.Fatal("expected a response stream")
	}
	cookie := anonCookie(t, resp)
	userID := cookie.Value

	session, err := repo.GetAgentSession(t.Context(), userID, identity.DefaultSessionIDValue)
	if err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	if session == nil {
		t.Fatal("expected a persisted session transcript")
	}

	var stored []domain.StoredMessage
	if err := json.Unmarshal([]byte(session.MessagesJSON), &stored); err != nil {
		t.Fatalf("unreadable transcript: %v", err)
	}
	if len(stored) < 2 {
		t.Fatalf("expected user and assistant entries, got %d", len(stored))
	}
	if stored[0].Role != "user" || stored[0].Content != "what's my balance?" {
		t.Fatalf("unexpected first entry: %+v", stored[0])
	}
	for _, m := range stored[1:] {
		if m.Kind == string(KindThought) {
			t.Fatal("thoughts must not be persisted")
		}
	}
}

func TestListProposalsEmpty(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, testHandlerConfig())
	resp, err := srv.Client().Get(srv.URL + "/api/agent/proposals")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Proposals []*domain.Proposal `json:"proposals"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Proposals == nil {
		t.Fatal("proposals must decode to an empty array, not null")
	}
}

func TestProposalSignedFlow(t *testing.T) {
	t.Parallel()

	srv, repo, _ := newTestServer(t, testHandlerConfig())

	// Establish identity first so the proposal can belong to this user.
	warmup := postChat(t, srv, `{"message": "hi"}`)
	_, _ = io.Copy(io.Discard, warmup.Body)
	_ = warmup.Body.Close()
	cookie := anonCookie(t, warmup)

	id, err := repo.SaveProposal(t.Context(), &domain.Proposal{
		UserID:      cookie.Value,
		SessionID:   identity.DefaultSessionIDValue,
		Description: "Rain tomorrow?",
		ChainID:     84532,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to seed proposal: %v", err)
	}

	signedURL := srv.URL + "/api/agent/proposals/" + strconv.FormatInt(id, 10) + "/signed"
	req, err := http.NewRequest(http.MethodPost, signedURL, strings.NewReader(`{"txHash": "0xdeadbeef"}`))
	if err != nil {
		t.Fatal(err)
	}
	req.AddCookie(cookie)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	// A second confirmation must conflict.
	req2, err := http.NewRequest(http.MethodPost, signedURL, strings.NewReader(`{"txHash": "0xother"}`))
	if err != nil {
		t.Fatal(err)
	}
	req2.AddCookie(cookie)
	resp2, err := srv.Client().Do(req2)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp2.Body.Close()
	if resp2.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on double sign, got %d", resp2.StatusCode)
	}
}

func TestProposalSignedRejectsForeignProposal(t *testing.T) {
	t.Parallel()

	srv, repo, _ := newTestServer(t, testHandlerConfig())

	id, err := repo.SaveProposal(t.Context(), &domain.Proposal{
		UserID:    "anon_" + strings.Repeat("f", 32),
		SessionID: "other",
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := srv.Client().Post(
		srv.URL+"/api/agent/proposals/"+strconv.FormatInt(id, 10)+"/signed",
		"application/json",
		strings.NewReader(`{"txHash": "0xdeadbeef"}`),
	)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's proposal, got %d", resp.StatusCode)
	}
}

func TestHandleStats(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, testHandlerConfig())
	resp, err := srv.Client().Get(srv.URL + "/api/agent/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var stats Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.ActionCount == 0 || stats.FallbackPatternCount == 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, testHandlerConfig())
	resp, err := srv.Client().Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["database"] != true {
		t.Fatalf("expected database ok: %v", body)
	}
	if body["rpc_reachable"] != false {
		t.Fatalf("expected rpc unreachable without a client: %v", body)
	}
}

func TestMarketEndpointsUnavailableWithoutRPC(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, testHandlerConfig())
	for _, path := range []string{
		"/api/agent/markets",
		"/api/agent/markets/0x0000000000000000000000000000000000000001",
	} {
		resp, err := srv.Client().Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected 503 without a chain client, got %d", path, resp.StatusCode)
		}
	}
}

func TestRateLimiterAllowsWithinWindow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, time.Minute)
	if !rl.Allow("u1") || !rl.Allow("u1") {
		t.Fatal("expected first two requests to pass")
	}
	if rl.Allow("u1") {
		t.Fatal("expected the third request to be limited")
	}
	if !rl.Allow("u2") {
		t.Fatal("another user must not be affected")
	}
}

func readSSEResponses(t *testing.T, resp *http.Response) []*Response {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read SSE body: %v", err)
	}

	var events []*Response
	for _, line := range strings.Split(string(data), "\n") {
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var r Response
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			t.Fatalf("bad SSE data line %q: %v", payload, err)
		}
		events = append(events, &r)
	}
	return events
}

func anonCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == identity.AnonCookieName {
			return c
		}
	}
	t.Fatal("anon cookie not set")
	return nil
}
