// Package agent implements the BizMart chat agent: it bridges free-form user
// messages to the external OpenClaw CLI and relays structured actions to the
// prediction-market contracts.
package agent

// ResponseKind categorizes agent response events.
type ResponseKind string

const (
	// KindThought is transient status the UI shows while working.
	KindThought ResponseKind = "thought"
	// KindAction reports a completed on-chain operation.
	KindAction ResponseKind = "action"
	// KindMessage is a chat bubble.
	KindMessage ResponseKind = "message"
	// KindError is a visible, non-crashing inline failure notice.
	KindError ResponseKind = "error"
	// KindProposal carries a prepared transaction awaiting user signature.
	KindProposal ResponseKind = "proposal"
)

// Response is one event in the agent's reply stream. Every ProcessMessage
// call yields at least one Response and the stream always terminates with a
// Message, Proposal, or Error event.
type Response struct {
	Kind    ResponseKind `json:"kind"`
	Content string       `json:"content"`
	Data    any          `json:"data,omitempty"`
}

// Thought builds a thought event.
func Thought(content string) *Response {
	return &Response{Kind: KindThought, Content: content}
}

// Message builds a chat message event.
func Message(content string) *Response {
	return &Response{Kind: KindMessage, Content: content}
}

// ErrorEvent builds an error event.
func ErrorEvent(content string) *Response {
	return &Response{Kind: KindError, Content: content}
}

// ChatRequest represents a chat request to the agent.
type ChatRequest struct {
	Message   string `json:"message"`
	UserID    string `json:"-"`
	SessionID string `json:"-"`
}

// ToolInvocation is a parsed action request from the LLM's output,
// unvalidated until dispatched.
type ToolInvocation struct {
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
}

// PayloadKind classifies a parsed JSON payload.
type PayloadKind int

const (
	// PayloadUnrecognized means no known shape matched.
	PayloadUnrecognized PayloadKind = iota
	// PayloadAction is an action request, optionally with a note.
	PayloadAction
	// PayloadEnvelope wraps a list of text/media entries, possibly nesting
	// further action JSON inside entry text.
	PayloadEnvelope
	// PayloadMessage is plain conversational content under a loose key.
	PayloadMessage
)

// Payload is the structural classification of raw parsed JSON, decided once
// up front instead of property-probing at every call site.
type Payload struct {
	Kind       PayloadKind
	Invocation ToolInvocation
	// Note is the conversational text accompanying an action.
	Note    string
	Entries []EnvelopeEntry
	Text    string
}

// EnvelopeEntry is one item of a payloads array.
type EnvelopeEntry struct {
	Text     string
	MediaURL string
}

// looseContentKeys are checked in priority order when no action or envelope
// is present.
var looseContentKeys = []string{"reply", "message", "text", "content", "response"}

// ClassifyPayload converts raw parsed JSON into the payload union.
// Decision order: action, payloads array, loose content keys, unrecognized.
func ClassifyPayload(obj map[string]any) *Payload {
	if obj == nil {
		return &Payload{Kind: PayloadUnrecognized}
	}

	if action, ok := obj["action"].(string); ok && action != "" {
		p := &Payload{
			Kind:       PayloadAction,
			Invocation: ToolInvocation{Action: action, Parameters: map[string]any{}},
		}
		if params, ok := obj["parameters"].(map[string]any); ok {
			p.Invocation.Parameters = params
		}
		for _, key := range []string{"message", "reply", "text"} {
			if note, ok := obj[key].(string); ok && note != "" {
				p.Note = note
				break
			}
		}
		return p
	}

	if rawEntries, ok := obj["payloads"].([]any); ok {
		p := &Payload{Kind: PayloadEnvelope}
		for _, raw := range rawEntries {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			e := EnvelopeEntry{}
			if text, ok := entry["text"].(string); ok {
				e.Text = text
			}
			for _, key := range []string{"mediaUrl", "media_url", "attachment"} {
				if u, ok := entry[key].(string); ok && u != "" {
					e.MediaURL = u
					break
				}
			}
			if e.Text != "" || e.MediaURL != "" {
				p.Entries = append(p.Entries, e)
			}
		}
		return p
	}

	if text := looseContent(obj); text != "" {
		return &Payload{Kind: PayloadMessage, Text: text}
	}

	return &Payload{Kind: PayloadUnrecognized}
}

// looseContent returns the first non-empty loose content key, if any.
func looseContent(obj map[string]any) string {
	for _, key := range looseContentKeys {
		if text, ok := obj[key].(string); ok && text != "" {
			return text
		}
	}
	return ""
}

// Stats contains agent statistics.
type Stats struct {
	FallbackPatternCount int  `json:"fallback_pattern_count"`
	ActionCount          int  `json:"action_count"`
	WalletConfigured     bool `json:"wallet_configured"`
}
