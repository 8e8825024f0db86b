package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/CryptoSmartNow/bizmart-agent/internal/config"
)

const identityFileName = "IDENTITY.md"

const baseIdentity = `# BizMart Strategist

You are the BizMart savings strategist: a careful, plain-spoken assistant for
a DeFi savings platform. You help users understand prediction markets, check
balances, and prepare on-chain operations. You never invent market data and
you never promise returns.
`

// toolCapabilities is appended to the identity document exactly once; a
// containment check keeps repeated initialization from duplicating it.
const toolCapabilities = `
## Tools

You can request these on-chain operations as JSON actions:
- create_market(metadataUri, tradingDeadline, resolveTime): prepare a market for user signature
- buy_shares(marketAddress, outcome YES|NO, amount): buy outcome shares with USDC
- approve_usdc(spenderAddress, amount): grant a USDC allowance
- mint_usdc(): mint test USDC (testnet only)
- resolve_market(marketAddress, outcome 1=YES 2=NO): resolve a market you oracle
- redeem_winnings(marketAddress): redeem a resolved position
`

// WorkspaceInitializer prepares the persistent identity directory the
// OpenClaw CLI reads. EnsureReady is idempotent and safe to race: the worst
// case is a redundant, harmless re-initialization.
type WorkspaceInitializer struct {
	cfg    config.OpenClawConfig
	exec   CommandExecutor
	logger *slog.Logger

	mu    sync.Mutex
	ready bool
}

// NewWorkspaceInitializer creates an initializer over the given executor.
func NewWorkspaceInitializer(cfg config.OpenClawConfig, executor CommandExecutor, logger *slog.Logger) *WorkspaceInitializer {
	if logger == nil {
		logger = slog.Default()
	}
	if executor == nil {
		executor = NewCommandExecutor()
	}
	return &WorkspaceInitializer{cfg: cfg, exec: executor, logger: logger}
}

// EnsureReady prepares the workspace directory and registers the sub-agent's
// identity with the CLI. Failures are logged and never fatal: the rest of
// the system keeps working in degraded mode, and the next call retries.
func (w *WorkspaceInitializer) EnsureReady(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ready {
		return
	}

	identityPath, err := w.writeIdentity()
	if err != nil {
		w.logger.Warn("workspace identity setup failed", "error", err)
		return
	}

	if err := w.registerIdentity(ctx, identityPath); err != nil {
		w.logger.Warn("openclaw identity registration failed, continuing in degraded mode",
			"agent", w.cfg.AgentName, "error", err)
		return
	}

	w.ready = true
}

func (w *WorkspaceInitializer) writeIdentity() (string, error) {
	if err := os.MkdirAll(w.cfg.StateDir, 0755); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}

	path := filepath.Join(w.cfg.StateDir, identityFileName)
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("read identity file: %w", err)
	}

	content := string(existing)
	if content == "" {
		content = baseIdentity
	}
	if !strings.Contains(content, "## Tools") {
		content += toolCapabilities
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("write identity file: %w", err)
	}
	return path, nil
}

// registerIdentity sets the sub-agent identity, creating the sub-agent first
// if it does not exist yet.
func (w *WorkspaceInitializer) registerIdentity(ctx context.Context, identityPath string) error {
	setArgs := []string{"agents", "set-identity", "--agent", w.cfg.AgentName, "--file", identityPath}

	res, err := w.exec.Run(ctx, w.cfg.Binary, setArgs, w.creds())
	if err == nil && res.ExitCode == 0 {
		return nil
	}

	// A nonzero exit usually means the sub-agent does not exist yet.
	createArgs := []string{"agents", "create", w.cfg.AgentName}
	if res, err = w.exec.Run(ctx, w.cfg.Binary, createArgs, w.creds()); err != nil {
		return fmt.Errorf("create sub-agent: %w", err)
	} else if res.ExitCode != 0 {
		return fmt.Errorf("create sub-agent exited with code %d: %s", res.ExitCode, tail(res.Stderr, stderrTailBytes))
	}

	if res, err = w.exec.Run(ctx, w.cfg.Binary, setArgs, w.creds()); err != nil {
		return fmt.Errorf("set identity after create: %w", err)
	} else if res.ExitCode != 0 {
		return fmt.Errorf("set identity exited with code %d: %s", res.ExitCode, tail(res.Stderr, stderrTailBytes))
	}
	return nil
}

func (w *WorkspaceInitializer) creds() map[string]string {
	return map[string]string{"OPENCLAW_STATE_DIR": w.cfg.StateDir}
}
