package web3

import (
	"context"
	"errors"
	"testing"
)

func newTestDispatcher(cfg DispatcherConfig) *Dispatcher {
	// nil client: configuration errors must surface before any RPC use.
	return NewDispatcher(nil, cfg, nil)
}

func TestDispatchUnknownAction(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(testDispatcherConfig())
	_, err := d.Dispatch(context.Background(), "stake_tokens", map[string]any{})
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestMintUSDCRefusesMainnet(t *testing.T) {
	t.Parallel()

	cfg := testDispatcherConfig()
	cfg.ChainID = cfg.MainnetChainID

	d := newTestDispatcher(cfg)
	_, err := d.Dispatch(context.Background(), "mint_usdc", map[string]any{})
	if !errors.Is(err, ErrMainnetFaucet) {
		t.Fatalf("expected ErrMainnetFaucet, got %v", err)
	}
}

func TestMintUSDCFailsFastWithoutRPC(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(testDispatcherConfig())
	_, err := d.Dispatch(context.Background(), "mint_usdc", map[string]any{})
	if !errors.Is(err, ErrRPCNotConfigured) {
		t.Fatalf("expected ErrRPCNotConfigured, got %v", err)
	}
}

func TestBuySharesValidatesBeforeChainUse(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(testDispatcherConfig())
	ctx := context.Background()

	tests := []struct {
		name   string
		params map[string]any
	}{
		{"missing market", map[string]any{"outcome": "YES", "amount": 5}},
		{"missing outcome", map[string]any{"marketAddress": "0x3333333333333333333333333333333333333333", "amount": 5}},
		{"bad outcome", map[string]any{"marketAddress": "0x3333333333333333333333333333333333333333", "outcome": "MAYBE", "amount": 5}},
		{"missing amount", map[string]any{"marketAddress": "0x3333333333333333333333333333333333333333", "outcome": "YES"}},
		{"bad amount", map[string]any{"marketAddress": "0x3333333333333333333333333333333333333333", "outcome": "YES", "amount": "lots"}},
		{"bad address", map[string]any{"marketAddress": "not-an-address", "outcome": "YES", "amount": 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Dispatch(ctx, "buy_shares", tt.params)
			if err == nil {
				t.Fatal("expected validation error")
			}
			// Parameter problems must be reported as such, never as a
			// missing-RPC error: validation runs first.
			if errors.Is(err, ErrRPCNotConfigured) {
				t.Fatalf("validation should fail before chain preflight: %v", err)
			}
		})
	}
}

func TestCreateMarketReturnsProposalWithoutChain(t *testing.T) {
	t.Parallel()

	// No RPC, no wallet: create_market still works because it only
	// prepares a transaction for the user to sign.
	d := newTestDispatcher(testDispatcherConfig())
	res, err := d.Dispatch(context.Background(), "create_market", map[string]any{
		"metadataUri":     "ipfs://question",
		"tradingDeadline": "2026-01-01",
		"resolveTime":     "2026-06-01",
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if res.Proposal == nil {
		t.Fatal("expected a proposal in the result")
	}
	if res.TxHash != "" {
		t.Errorf("create_market must not submit a transaction, got hash %q", res.TxHash)
	}
	if !res.Success {
		t.Error("expected success")
	}
}

func TestCreateMarketSnakeCaseParams(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(testDispatcherConfig())
	res, err := d.Dispatch(context.Background(), "create_market", map[string]any{
		"metadata_uri":     "ipfs://question",
		"trading_deadline": float64(1767225600),
		"resolve_time":     float64(1780272000),
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if res.Proposal.Params.TradingDeadline != 1767225600 {
		t.Errorf("tradingDeadline = %d, want 1767225600", res.Proposal.Params.TradingDeadline)
	}
}

func TestParseOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   any
		want    uint8
		wantErr bool
	}{
		{float64(1), outcomeYes, false},
		{float64(2), outcomeNo, false},
		{"1", outcomeYes, false},
		{"NO", outcomeNo, false},
		{"yes", outcomeYes, false},
		{float64(3), 0, true},
		{"maybe", 0, true},
		{nil, 0, true},
	}
	for _, tt := range tests {
		got, err := parseOutcome(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseOutcome(%v): expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseOutcome(%v): %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseOutcome(%v) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestResolveMarketFailsFastWithoutWallet(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(testDispatcherConfig())
	_, err := d.Dispatch(context.Background(), "resolve_market", map[string]any{
		"marketAddress": "0x3333333333333333333333333333333333333333",
		"outcome":       float64(1),
	})
	if !errors.Is(err, ErrRPCNotConfigured) {
		t.Fatalf("expected ErrRPCNotConfigured for nil client, got %v", err)
	}
}
