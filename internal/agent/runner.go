package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/CryptoSmartNow/bizmart-agent/internal/config"
)

// stderrTailBytes bounds how much stderr is embedded in invocation errors.
const stderrTailBytes = 512

// systemInstruction is prefixed to every message so the sub-agent answers
// with machine-readable actions instead of prose when a tool applies.
const systemInstruction = "[SYSTEM] You are the BizMart savings strategist. " +
	"When the user asks for an on-chain operation, respond with a single JSON object " +
	`{"action": "<tool>", "parameters": {...}, "message": "<short explanation>"} ` +
	"using only the tools you were configured with. Otherwise reply conversationally.\n\n"

// ExecResult captures one finished subprocess run.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandExecutor runs an external command to completion. Implementations
// must honor ctx cancellation by killing the child process.
type CommandExecutor interface {
	Run(ctx context.Context, name string, args []string, env map[string]string) (*ExecResult, error)
}

// execCommandExecutor is the production CommandExecutor backed by os/exec.
type execCommandExecutor struct{}

// NewCommandExecutor returns the os/exec-backed executor.
func NewCommandExecutor() CommandExecutor {
	return execCommandExecutor{}
}

func (execCommandExecutor) Run(ctx context.Context, name string, args []string, env map[string]string) (*ExecResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	// Explicit allow-list only: the parent environment is not inherited
	// beyond PATH and HOME, which the CLI needs to resolve itself and its
	// own config.
	cmdEnv := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmdEnv = append(cmdEnv, k+"="+env[k])
	}
	cmd.Env = cmdEnv

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return result, nil
	case errors.As(err, &exitErr):
		// The process ran and exited nonzero; its output may still be
		// usable, so this is not a transport failure.
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	default:
		return nil, fmt.Errorf("run %s: %w", name, err)
	}
}

// InvokeResult is the outcome of one OpenClaw invocation. Exactly one of
// JSON and Raw is populated on success.
type InvokeResult struct {
	JSON map[string]any
	Raw  string
}

// Runner invokes the external OpenClaw CLI for one chat turn.
type Runner struct {
	cfg    config.OpenClawConfig
	creds  map[string]string
	exec   CommandExecutor
	logger *slog.Logger
}

// NewRunner creates a runner over the given executor. creds is the explicit
// credential allow-list forwarded to the child environment.
func NewRunner(cfg config.OpenClawConfig, creds map[string]string, executor CommandExecutor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if executor == nil {
		executor = NewCommandExecutor()
	}
	return &Runner{cfg: cfg, creds: creds, exec: executor, logger: logger}
}

// Invoke runs the CLI with the user message and returns either the extracted
// JSON payload or, when the tool answered in prose with a zero exit, the raw
// stdout text. A nonzero exit only fails the invocation when no usable JSON
// was printed before the failure.
func (r *Runner) Invoke(ctx context.Context, message, sessionID string) (*InvokeResult, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	args := []string{
		"agent", "--local",
		"--agent", r.cfg.AgentName,
		"--message", systemInstruction + message,
		"--session-id", sessionID,
		"--json",
		"--thinking", "minimal",
	}

	res, err := r.exec.Run(ctx, r.cfg.Binary, args, r.creds)
	if err != nil {
		return nil, fmt.Errorf("invoke openclaw: %w", err)
	}

	// A crash after printing a usable answer must not discard the answer.
	if obj := ExtractJSON(res.Stdout); obj != nil {
		if res.ExitCode != 0 {
			r.logger.Warn("openclaw exited nonzero but produced JSON",
				"exit_code", res.ExitCode, "session_id", sessionID)
		}
		return &InvokeResult{JSON: obj}, nil
	}

	if res.ExitCode != 0 {
		return nil, fmt.Errorf("openclaw exited with code %d: %s",
			res.ExitCode, tail(res.Stderr, stderrTailBytes))
	}

	return &InvokeResult{Raw: strings.TrimSpace(res.Stdout)}, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
