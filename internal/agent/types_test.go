package agent

import (
	"testing"
)

func TestClassifyPayloadAction(t *testing.T) {
	t.Parallel()

	p := ClassifyPayload(map[string]any{
		"action":     "buy_shares",
		"parameters": map[string]any{"outcome": "YES"},
		"message":    "Placing your bet now.",
	})
	if p.Kind != PayloadAction {
		t.Fatalf("expected action payload, got %v", p.Kind)
	}
	if p.Invocation.Action != "buy_shares" {
		t.Fatalf("unexpected action: %q", p.Invocation.Action)
	}
	if p.Invocation.Parameters["outcome"] != "YES" {
		t.Fatalf("unexpected parameters: %v", p.Invocation.Parameters)
	}
	if p.Note != "Placing your bet now." {
		t.Fatalf("unexpected note: %q", p.Note)
	}
}

func TestClassifyPayloadActionWithoutParameters(t *testing.T) {
	t.Parallel()

	p := ClassifyPayload(map[string]any{"action": "mint_usdc"})
	if p.Kind != PayloadAction {
		t.Fatalf("expected action payload, got %v", p.Kind)
	}
	if p.Invocation.Parameters == nil {
		t.Fatal("expected non-nil parameters map")
	}
}

func TestClassifyPayloadEnvelope(t *testing.T) {
	t.Parallel()

	p := ClassifyPayload(map[string]any{
		"payloads": []any{
			map[string]any{"text": "first"},
			map[string]any{"mediaUrl": "https://example.com/chart.png"},
			map[string]any{},
			"not an object",
		},
	})
	if p.Kind != PayloadEnvelope {
		t.Fatalf("expected envelope payload, got %v", p.Kind)
	}
	if len(p.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(p.Entries))
	}
	if p.Entries[0].Text != "first" {
		t.Fatalf("unexpected first entry: %+v", p.Entries[0])
	}
	if p.Entries[1].MediaURL != "https://example.com/chart.png" {
		t.Fatalf("unexpected second entry: %+v", p.Entries[1])
	}
}

func TestClassifyPayloadLooseKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		obj  map[string]any
		want string
	}{
		{"reply wins", map[string]any{"reply": "a", "message": "b"}, "a"},
		{"message", map[string]any{"message": "b"}, "b"},
		{"text", map[string]any{"text": "c"}, "c"},
		{"content", map[string]any{"content": "d"}, "d"},
		{"response", map[string]any{"response": "e"}, "e"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := ClassifyPayload(tc.obj)
			if p.Kind != PayloadMessage {
				t.Fatalf("expected message payload, got %v", p.Kind)
			}
			if p.Text != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, p.Text)
			}
		})
	}
}

func TestClassifyPayloadActionTakesPriorityOverLooseKeys(t *testing.T) {
	t.Parallel()

	p := ClassifyPayload(map[string]any{
		"action": "redeem_winnings",
		"reply":  "redeeming now",
	})
	if p.Kind != PayloadAction {
		t.Fatalf("expected action payload, got %v", p.Kind)
	}
}

func TestClassifyPayloadUnrecognized(t *testing.T) {
	t.Parallel()

	for _, obj := range []map[string]any{
		nil,
		{},
		{"level": "info"},
		{"action": 42},
		{"reply": ""},
	} {
		if p := ClassifyPayload(obj); p.Kind != PayloadUnrecognized {
			t.Fatalf("expected unrecognized for %v, got %v", obj, p.Kind)
		}
	}
}
