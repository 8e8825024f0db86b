package web3

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	// ErrUnknownAction is returned for action names outside the known set.
	ErrUnknownAction = errors.New("unknown action")

	// ErrMainnetFaucet is returned when mint_usdc is attempted against the
	// production chain. The refusal happens before any RPC call.
	ErrMainnetFaucet = errors.New("faucet mint refused: configured chain is mainnet")
)

// Outcome identifiers accepted by resolve_market.
const (
	outcomeYes = 1
	outcomeNo  = 2
)

// ToolResult is the outcome of one dispatched action.
type ToolResult struct {
	Success  bool            `json:"success"`
	TxHash   string          `json:"txHash,omitempty"`
	Message  string          `json:"message"`
	Proposal *MarketProposal `json:"proposal,omitempty"`
}

// DispatcherConfig carries the contract addresses and defaults the actions
// need. It is injected at construction; the dispatcher reads no environment.
type DispatcherConfig struct {
	ChainID          int64
	MainnetChainID   int64
	Factory          string
	CollateralToken  string
	DefaultLiquidity string
	DefaultFee       string
}

// Dispatcher maps named agent actions onto on-chain operations.
type Dispatcher struct {
	client *Client
	cfg    DispatcherConfig
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher. client may be nil when no RPC is
// configured; every action that needs the chain then fails with a clear
// configuration error instead of a low-level RPC failure.
func NewDispatcher(client *Client, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{client: client, cfg: cfg, logger: logger}
}

// Actions returns the known action names.
func (d *Dispatcher) Actions() []string {
	return []string{
		"create_market", "buy_shares", "approve_usdc",
		"mint_usdc", "resolve_market", "redeem_winnings",
	}
}

// HasWallet reports whether a signing key is configured.
func (d *Dispatcher) HasWallet() bool {
	return d.client.HasSigner()
}

// Dispatch validates parameters for the named action and executes it.
// create_market never submits a transaction; it returns a proposal for the
// caller to sign. All other actions use the agent's hot key.
func (d *Dispatcher) Dispatch(ctx context.Context, action string, params map[string]any) (*ToolResult, error) {
	d.logger.Info("dispatching action", "action", action)

	switch action {
	case "create_market":
		return d.createMarket(params)
	case "buy_shares":
		return d.buyShares(ctx, params)
	case "approve_usdc":
		return d.approveUSDC(ctx, params)
	case "mint_usdc":
		return d.mintUSDC(ctx)
	case "resolve_market":
		return d.resolveMarket(ctx, params)
	case "redeem_winnings":
		return d.redeemWinnings(ctx, params)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

func (d *Dispatcher) createMarket(params map[string]any) (*ToolResult, error) {
	metadataURI, err := requireString(params, "metadataUri", "metadata_uri")
	if err != nil {
		return nil, err
	}
	deadline, ok := anyParam(params, "tradingDeadline", "trading_deadline")
	if !ok {
		return nil, fmt.Errorf("create_market: missing required parameter tradingDeadline")
	}
	resolveTime, ok := anyParam(params, "resolveTime", "resolve_time")
	if !ok {
		return nil, fmt.Errorf("create_market: missing required parameter resolveTime")
	}
	description, _ := stringParam(params, "description", "question")

	proposal, err := NewMarketProposal(d.cfg, metadataURI, description, deadline, resolveTime)
	if err != nil {
		return nil, fmt.Errorf("create_market: %w", err)
	}

	return &ToolResult{
		Success:  true,
		Message:  "Market proposal prepared. Sign the transaction in your wallet to create it.",
		Proposal: proposal,
	}, nil
}

func (d *Dispatcher) buyShares(ctx context.Context, params map[string]any) (*ToolResult, error) {
	market, err := requireString(params, "marketAddress", "market_address")
	if err != nil {
		return nil, err
	}
	outcome, err := requireString(params, "outcome")
	if err != nil {
		return nil, err
	}
	amountRaw, ok := anyParam(params, "amount")
	if !ok {
		return nil, fmt.Errorf("buy_shares: missing required parameter amount")
	}

	var method string
	switch strings.ToUpper(strings.TrimSpace(outcome)) {
	case "YES":
		method = "buyYes"
	case "NO":
		method = "buyNo"
	default:
		return nil, fmt.Errorf("buy_shares: outcome must be YES or NO, got %q", outcome)
	}

	amount, err := ToBaseUnits(amountRaw, usdcDecimals)
	if err != nil {
		return nil, fmt.Errorf("buy_shares: %w", err)
	}

	marketAddr, err := parseAddress(market)
	if err != nil {
		return nil, fmt.Errorf("buy_shares: %w", err)
	}
	if err := d.preflight(); err != nil {
		return nil, err
	}

	tx, err := d.client.transact(ctx, d.client.boundMarket(marketAddr), method, amount)
	if err != nil {
		return nil, fmt.Errorf("buy_shares: %w", err)
	}

	return &ToolResult{
		Success: true,
		TxHash:  tx.Hash().Hex(),
		Message: fmt.Sprintf("Bought %s shares on %s for %s USDC.", strings.ToUpper(outcome), market, formatBaseUnits(amount, usdcDecimals)),
	}, nil
}

func (d *Dispatcher) approveUSDC(ctx context.Context, params map[string]any) (*ToolResult, error) {
	spender, err := requireString(params, "spenderAddress", "spender_address", "spender")
	if err != nil {
		return nil, err
	}
	amountRaw, ok := anyParam(params, "amount")
	if !ok {
		return nil, fmt.Errorf("approve_usdc: missing required parameter amount")
	}

	spenderAddr, err := parseAddress(spender)
	if err != nil {
		return nil, fmt.Errorf("approve_usdc: %w", err)
	}
	amount, err := ToBaseUnits(amountRaw, usdcDecimals)
	if err != nil {
		return nil, fmt.Errorf("approve_usdc: %w", err)
	}

	token, err := parseAddress(d.cfg.CollateralToken)
	if err != nil {
		return nil, fmt.Errorf("approve_usdc: collateral token misconfigured: %w", err)
	}
	if err := d.preflight(); err != nil {
		return nil, err
	}

	tx, err := d.client.transact(ctx, d.client.boundToken(token), "approve", spenderAddr, amount)
	if err != nil {
		return nil, fmt.Errorf("approve_usdc: %w", err)
	}

	return &ToolResult{
		Success: true,
		TxHash:  tx.Hash().Hex(),
		Message: fmt.Sprintf("Approved %s USDC for %s.", formatBaseUnits(amount, usdcDecimals), spender),
	}, nil
}

func (d *Dispatcher) mintUSDC(ctx context.Context) (*ToolResult, error) {
	if d.cfg.ChainID == d.cfg.MainnetChainID {
		return nil, ErrMainnetFaucet
	}

	token, err := parseAddress(d.cfg.CollateralToken)
	if err != nil {
		return nil, fmt.Errorf("mint_usdc: collateral token misconfigured: %w", err)
	}
	if err := d.preflight(); err != nil {
		return nil, err
	}

	tx, err := d.client.transact(ctx, d.client.boundToken(token), "faucet")
	if err != nil {
		return nil, fmt.Errorf("mint_usdc: %w", err)
	}

	message := "Test USDC minted to the agent wallet."
	// Balance read is best effort; the mint already succeeded.
	if balance, err := d.client.TokenBalance(ctx, d.cfg.CollateralToken, d.client.Address().Hex()); err == nil {
		message = fmt.Sprintf("Test USDC minted to the agent wallet. Balance: %s USDC.", balance)
	} else {
		d.logger.Warn("post-mint balance read failed", "error", err)
	}

	return &ToolResult{
		Success: true,
		TxHash:  tx.Hash().Hex(),
		Message: message,
	}, nil
}

func (d *Dispatcher) resolveMarket(ctx context.Context, params map[string]any) (*ToolResult, error) {
	market, err := requireString(params, "marketAddress", "market_address")
	if err != nil {
		return nil, err
	}
	outcomeRaw, ok := anyParam(params, "outcome")
	if !ok {
		return nil, fmt.Errorf("resolve_market: missing required parameter outcome")
	}

	outcome, err := parseOutcome(outcomeRaw)
	if err != nil {
		return nil, fmt.Errorf("resolve_market: %w", err)
	}

	marketAddr, err := parseAddress(market)
	if err != nil {
		return nil, fmt.Errorf("resolve_market: %w", err)
	}
	if err := d.preflight(); err != nil {
		return nil, err
	}

	// No client-side oracle check: a non-oracle caller surfaces as a revert.
	tx, err := d.client.transact(ctx, d.client.boundMarket(marketAddr), "resolve", outcome)
	if err != nil {
		return nil, fmt.Errorf("resolve_market: %w", err)
	}

	label := "YES"
	if outcome == outcomeNo {
		label = "NO"
	}
	return &ToolResult{
		Success: true,
		TxHash:  tx.Hash().Hex(),
		Message: fmt.Sprintf("Market %s resolved as %s.", market, label),
	}, nil
}

func (d *Dispatcher) redeemWinnings(ctx context.Context, params map[string]any) (*ToolResult, error) {
	market, err := requireString(params, "marketAddress", "market_address")
	if err != nil {
		return nil, err
	}
	marketAddr, err := parseAddress(market)
	if err != nil {
		return nil, fmt.Errorf("redeem_winnings: %w", err)
	}
	if err := d.preflight(); err != nil {
		return nil, err
	}

	tx, err := d.client.transact(ctx, d.client.boundMarket(marketAddr), "redeem")
	if err != nil {
		return nil, fmt.Errorf("redeem_winnings: %w", err)
	}

	return &ToolResult{
		Success: true,
		TxHash:  tx.Hash().Hex(),
		Message: fmt.Sprintf("Winnings redeemed from %s.", market),
	}, nil
}

// preflight fails fast before building any transaction when the chain client
// or signing key is missing.
func (d *Dispatcher) preflight() error {
	if d.client == nil {
		return ErrRPCNotConfigured
	}
	if !d.client.HasSigner() {
		return ErrWalletNotConfigured
	}
	return nil
}

func parseOutcome(v any) (uint8, error) {
	switch t := v.(type) {
	case float64:
		return outcomeFromInt(int(t))
	case int:
		return outcomeFromInt(t)
	case int64:
		return outcomeFromInt(int(t))
	case string:
		switch strings.ToUpper(strings.TrimSpace(t)) {
		case "1", "YES":
			return outcomeYes, nil
		case "2", "NO":
			return outcomeNo, nil
		}
		return 0, fmt.Errorf("outcome must be 1 (YES) or 2 (NO), got %q", t)
	default:
		return 0, fmt.Errorf("unsupported outcome type %T", v)
	}
}

func outcomeFromInt(n int) (uint8, error) {
	if n != outcomeYes && n != outcomeNo {
		return 0, fmt.Errorf("outcome must be 1 (YES) or 2 (NO), got %d", n)
	}
	return uint8(n), nil
}

func anyParam(params map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := params[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringParam(params map[string]any, keys ...string) (string, bool) {
	v, ok := anyParam(params, keys...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

func requireString(params map[string]any, keys ...string) (string, error) {
	if s, ok := stringParam(params, keys...); ok {
		return s, nil
	}
	return "", fmt.Errorf("missing required parameter %s", keys[0])
}
