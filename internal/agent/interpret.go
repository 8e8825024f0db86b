package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/CryptoSmartNow/bizmart-agent/internal/web3"
)

// maxNestingDepth bounds recursive interpretation of actions embedded in
// envelope entry text.
const maxNestingDepth = 3

// ToolDispatcher executes a named action against the chain.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, action string, params map[string]any) (*web3.ToolResult, error)
	Actions() []string
	HasWallet() bool
}

// Interpreter walks classified payloads and emits response events,
// dispatching actions as it finds them.
type Interpreter struct {
	dispatcher ToolDispatcher
	logger     *slog.Logger
}

// NewInterpreter creates an interpreter over the given dispatcher.
func NewInterpreter(dispatcher ToolDispatcher, logger *slog.Logger) *Interpreter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpreter{dispatcher: dispatcher, logger: logger}
}

// Interpret emits events for the payload through yield. It returns handled
// (whether the payload resolved the turn, successfully or not, so the caller
// should not try looser parsing) and stopped (the consumer aborted the
// stream; no more events may be yielded).
func (in *Interpreter) Interpret(ctx context.Context, p *Payload, yield func(*Response) bool) (handled, stopped bool) {
	return in.interpret(ctx, p, yield, 0)
}

func (in *Interpreter) interpret(ctx context.Context, p *Payload, yield func(*Response) bool, depth int) (handled, stopped bool) {
	if p == nil || depth > maxNestingDepth {
		return false, false
	}

	switch p.Kind {
	case PayloadAction:
		return in.interpretAction(ctx, p, yield)
	case PayloadEnvelope:
		return in.interpretEnvelope(ctx, p, yield, depth)
	default:
		return false, false
	}
}

func (in *Interpreter) interpretAction(ctx context.Context, p *Payload, yield func(*Response) bool) (handled, stopped bool) {
	action := p.Invocation.Action

	// Unknown actions resolve the turn with a single explicit error;
	// silently dropping them would hide LLM hallucinations from the user.
	if !in.knownAction(action) {
		return true, !yield(ErrorEvent(fmt.Sprintf("Unknown action %q: I can't do that.", action)))
	}

	if p.Note != "" {
		if !yield(Message(p.Note)) {
			return true, true
		}
	}
	if !yield(Thought(fmt.Sprintf("Invoking %s...", action))) {
		return true, true
	}

	result, err := in.dispatcher.Dispatch(ctx, action, p.Invocation.Parameters)
	if err != nil {
		in.logger.Warn("action dispatch failed", "action", action, "error", err)
		return true, !yield(ErrorEvent(err.Error()))
	}

	// A proposal needs the user's signature before anything else can
	// happen, so it always ends the turn.
	if result.Proposal != nil {
		return true, !yield(&Response{
			Kind:    KindProposal,
			Content: result.Message,
			Data:    result.Proposal,
		})
	}

	if result.TxHash != "" {
		if !yield(&Response{
			Kind:    KindAction,
			Content: fmt.Sprintf("Transaction submitted: %s", result.TxHash),
			Data:    result,
		}) {
			return true, true
		}
	}
	return true, !yield(Message(result.Message))
}

func (in *Interpreter) interpretEnvelope(ctx context.Context, p *Payload, yield func(*Response) bool, depth int) (handled, stopped bool) {
	for _, entry := range p.Entries {
		if entry.Text != "" {
			// LLM output sometimes nests one more JSON action inside a
			// text field; a handled embedded action ends the whole turn.
			if embedded := ExtractJSON(entry.Text); embedded != nil {
				nested := ClassifyPayload(embedded)
				if nested.Kind == PayloadAction || nested.Kind == PayloadEnvelope {
					nestedHandled, nestedStopped := in.interpret(ctx, nested, yield, depth+1)
					if nestedStopped {
						return true, true
					}
					if nestedHandled {
						return true, false
					}
				}
			}
			if !yield(Message(entry.Text)) {
				return true, true
			}
			handled = true
		}
		if entry.MediaURL != "" {
			if !yield(Message(fmt.Sprintf("Attachment: %s", entry.MediaURL))) {
				return true, true
			}
			handled = true
		}
	}
	return handled, false
}

func (in *Interpreter) knownAction(action string) bool {
	for _, known := range in.dispatcher.Actions() {
		if known == action {
			return true
		}
	}
	return false
}
