package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/CryptoSmartNow/bizmart-agent/internal/web3"
)

func newTestService(t *testing.T, runnerExec CommandExecutor, dispatcher *fakeDispatcher) *Service {
	t.Helper()
	cfg := testWorkspaceConfig(t)
	runner := NewRunner(cfg, nil, runnerExec, nil)
	interp := NewInterpreter(dispatcher, nil)
	workspace := NewWorkspaceInitializer(cfg, &scriptedExecutor{results: []*ExecResult{{}}}, nil)
	return NewService(runner, interp, NewFallbackEngine(), workspace, nil)
}

func collectStream(t *testing.T, s *Service, message string) []*Response {
	t.Helper()
	var events []*Response
	for resp := range s.ProcessMessage(context.Background(), ChatRequest{
		Message:   message,
		UserID:    "user-1",
		SessionID: "sess-1",
	}) {
		events = append(events, resp)
	}
	if len(events) == 0 {
		t.Fatal("stream must never be empty")
	}
	last := events[len(events)-1]
	switch last.Kind {
	case KindMessage, KindProposal, KindError:
	default:
		t.Fatalf("stream must end with a terminal event, got %s", last.Kind)
	}
	return events
}

func TestProcessMessageFallsBackWhenInvocationFails(t *testing.T) {
	t.Parallel()

	exec := &scriptedExecutor{errs: []error{errors.New("executable file not found")}}
	s := newTestService(t, exec, &fakeDispatcher{})

	events := collectStream(t, s, "mint some usdc please")

	want := []ResponseKind{KindThought, KindThought, KindError, KindMessage}
	got := kinds(events)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if events[0].Content != thoughtConsulting {
		t.Fatalf("unexpected opening thought: %q", events[0].Content)
	}
	if events[1].Content != thoughtFallback {
		t.Fatalf("unexpected fallback thought: %q", events[1].Content)
	}
	if !strings.Contains(events[2].Content, "unavailable") {
		t.Fatalf("error should say the strategist is unavailable: %q", events[2].Content)
	}
	if !strings.Contains(events[3].Content, "mint") {
		t.Fatalf("fallback should answer the mint request: %q", events[3].Content)
	}
}

func TestProcessMessageDispatchesAction(t *testing.T) {
	t.Parallel()

	exec := &scriptedExecutor{results: []*ExecResult{{
		Stdout: `log noise {"action": "mint_usdc", "parameters": {}} more noise`,
	}}}
	d := &fakeDispatcher{result: &web3.ToolResult{Success: true, Message: "Minted 1000 test USDC."}}
	s := newTestService(t, exec, d)

	events := collectStream(t, s, "mint usdc")

	if len(d.calls) != 1 || d.calls[0].action != "mint_usdc" {
		t.Fatalf("expected one mint_usdc dispatch, got %+v", d.calls)
	}
	last := events[len(events)-1]
	if last.Kind != KindMessage || last.Content != "Minted 1000 test USDC." {
		t.Fatalf("unexpected terminal event: %+v", last)
	}
}

func TestProcessMessageStreamsProposal(t *testing.T) {
	t.Parallel()

	exec := &scriptedExecutor{results: []*ExecResult{{
		Stdout: `{"action": "create_market", "parameters": {"description": "Rain tomorrow?"}}`,
	}}}
	proposal := &web3.MarketProposal{Type: "create_market", Description: "Rain tomorrow?"}
	d := &fakeDispatcher{result: &web3.ToolResult{
		Success:  true,
		Message:  "Review and sign.",
		Proposal: proposal,
	}}
	s := newTestService(t, exec, d)

	events := collectStream(t, s, "create a market about rain")
	last := events[len(events)-1]
	if last.Kind != KindProposal {
		t.Fatalf("expected a terminal proposal, got %v", kinds(events))
	}
	if last.Data != proposal {
		t.Fatal("proposal data lost in transit")
	}
}

func TestProcessMessageRelaysLooseReply(t *testing.T) {
	t.Parallel()

	exec := &scriptedExecutor{results: []*ExecResult{{
		Stdout: `{"reply": "Markets settle at the resolve time."}`,
	}}}
	s := newTestService(t, exec, &fakeDispatcher{})

	events := collectStream(t, s, "when do markets settle?")
	last := events[len(events)-1]
	if last.Kind != KindMessage || last.Content != "Markets settle at the resolve time." {
		t.Fatalf("unexpected terminal event: %+v", last)
	}
}

func TestProcessMessageRelaysLooseReplyBesideEmptyEnvelope(t *testing.T) {
	t.Parallel()

	exec := &scriptedExecutor{results: []*ExecResult{{
		Stdout: `{"payloads": [], "reply": "hi there"}`,
	}}}
	s := newTestService(t, exec, &fakeDispatcher{})

	events := collectStream(t, s, "hello")
	last := events[len(events)-1]
	if last.Kind != KindMessage || last.Content != "hi there" {
		t.Fatalf("empty envelope must not mask the loose reply: %+v", last)
	}
}

func TestProcessMessageRelaysRawProse(t *testing.T) {
	t.Parallel()

	exec := &scriptedExecutor{results: []*ExecResult{{
		Stdout: "Nothing actionable, just chatting.\n",
	}}}
	s := newTestService(t, exec, &fakeDispatcher{})

	events := collectStream(t, s, "hi")
	last := events[len(events)-1]
	if last.Kind != KindMessage || last.Content != "Nothing actionable, just chatting." {
		t.Fatalf("unexpected terminal event: %+v", last)
	}
}

func TestProcessMessageHandlesEmptyOutput(t *testing.T) {
	t.Parallel()

	exec := &scriptedExecutor{results: []*ExecResult{{Stdout: "   \n"}}}
	s := newTestService(t, exec, &fakeDispatcher{})

	events := collectStream(t, s, "hmm")
	last := events[len(events)-1]
	if last.Kind != KindMessage || last.Content != msgUnparseable {
		t.Fatalf("expected the unparseable notice, got %+v", last)
	}
}

func TestProcessMessageUnknownActionSingleError(t *testing.T) {
	t.Parallel()

	exec := &scriptedExecutor{results: []*ExecResult{{
		Stdout: `{"action": "launch_rocket", "parameters": {}}`,
	}}}
	d := &fakeDispatcher{}
	s := newTestService(t, exec, d)

	events := collectStream(t, s, "launch a rocket")

	var errCount int
	for _, e := range events {
		if e.Kind == KindError {
			errCount++
		}
	}
	if errCount != 1 {
		t.Fatalf("expected exactly one error event, got %v", kinds(events))
	}
	if len(d.calls) != 0 {
		t.Fatal("unknown actions must not reach the dispatcher")
	}
}

func TestStatsReflectsDispatcher(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{wallet: true}
	s := newTestService(t, &scriptedExecutor{}, d)

	stats := s.Stats()
	if stats.ActionCount != len(d.Actions()) {
		t.Fatalf("unexpected action count: %d", stats.ActionCount)
	}
	if !stats.WalletConfigured {
		t.Fatal("expected wallet to be reported as configured")
	}
	if stats.FallbackPatternCount == 0 {
		t.Fatal("expected fallback patterns to be counted")
	}
}
