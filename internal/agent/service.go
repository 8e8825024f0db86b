package agent

import (
	"context"
	"iter"
	"log/slog"
	"strings"
)

const (
	thoughtConsulting    = "Consulting the BizMart strategist..."
	thoughtFallback      = "OpenClaw connection failed, switching to basic mode..."
	errStrategistOffline = "The AI strategist is unavailable right now."
	msgUnparseable       = "I couldn't make sense of that response. Could you rephrase your request?"
)

// Service orchestrates one chat turn: workspace setup, the OpenClaw
// invocation, payload interpretation, and the degraded fallback path.
type Service struct {
	runner    *Runner
	interp    *Interpreter
	fallback  *FallbackEngine
	workspace *WorkspaceInitializer
	logger    *slog.Logger
}

// NewService wires the agent pipeline.
func NewService(runner *Runner, interp *Interpreter, fallback *FallbackEngine, workspace *WorkspaceInitializer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		runner:    runner,
		interp:    interp,
		fallback:  fallback,
		workspace: workspace,
		logger:    logger,
	}
}

// ProcessMessage handles one user message and streams response events.
// The stream is never empty and always terminates with a Message, Proposal,
// or Error event; no failure inside the pipeline escapes as a panic or an
// unterminated stream.
func (s *Service) ProcessMessage(ctx context.Context, req ChatRequest) iter.Seq[*Response] {
	return func(yield func(*Response) bool) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("agent pipeline panic", "panic", r, "user_id", req.UserID)
				yield(ErrorEvent("Something went wrong while processing your message."))
			}
		}()

		s.workspace.EnsureReady(ctx)

		if !yield(Thought(thoughtConsulting)) {
			return
		}

		result, err := s.runner.Invoke(ctx, req.Message, req.SessionID)
		if err != nil {
			s.logger.Warn("openclaw invocation failed, using fallback",
				"user_id", req.UserID, "session_id", req.SessionID, "error", err)
			s.respondFallback(req.Message, err.Error(), yield)
			return
		}

		if result.JSON != nil {
			s.respondJSON(ctx, result.JSON, yield)
			return
		}

		// Conversational fallback: the tool exited cleanly without JSON.
		if text := strings.TrimSpace(result.Raw); text != "" {
			yield(Message(text))
			return
		}
		yield(Message(msgUnparseable))
	}
}

func (s *Service) respondJSON(ctx context.Context, obj map[string]any, yield func(*Response) bool) {
	payload := ClassifyPayload(obj)

	handled, stopped := s.interp.Interpret(ctx, payload, yield)
	if stopped || handled {
		return
	}

	// Looser parsing: the payload produced no events, but the object may
	// still carry conversational content under a loose key. Re-scan the
	// original object so an empty payloads array does not mask a reply.
	if payload.Kind == PayloadMessage {
		yield(Message(payload.Text))
		return
	}
	if text := looseContent(obj); text != "" {
		yield(Message(text))
		return
	}
	yield(Message(msgUnparseable))
}

func (s *Service) respondFallback(message, cause string, yield func(*Response) bool) {
	if !yield(Thought(thoughtFallback)) {
		return
	}
	if !yield(ErrorEvent(errStrategistOffline + " (" + cause + ")")) {
		return
	}
	for resp := range s.fallback.Respond(message) {
		if !yield(resp) {
			return
		}
	}
}

// Stats returns agent statistics for the stats endpoint.
func (s *Service) Stats() Stats {
	return Stats{
		FallbackPatternCount: s.fallback.PatternCount(),
		ActionCount:          len(s.interp.dispatcher.Actions()),
		WalletConfigured:     s.interp.dispatcher.HasWallet(),
	}
}
