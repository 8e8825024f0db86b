package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/CryptoSmartNow/bizmart-agent/internal/config"
)

type execCall struct {
	name string
	args []string
	env  map[string]string
}

// scriptedExecutor replays queued results in order and records every call.
type scriptedExecutor struct {
	results []*ExecResult
	errs    []error
	calls   []execCall
}

func (s *scriptedExecutor) Run(_ context.Context, name string, args []string, env map[string]string) (*ExecResult, error) {
	s.calls = append(s.calls, execCall{name: name, args: args, env: env})
	i := len(s.calls) - 1
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	var res *ExecResult
	if i < len(s.results) {
		res = s.results[i]
	}
	if res == nil && err == nil {
		res = &ExecResult{}
	}
	return res, err
}

func testRunnerConfig() config.OpenClawConfig {
	return config.OpenClawConfig{
		Binary:    "openclaw",
		AgentName: "bizmart",
		StateDir:  "/tmp/openclaw-state",
		Timeout:   30 * time.Second,
	}
}

func TestInvokeExtractsJSONFromNoisyOutput(t *testing.T) {
	t.Parallel()

	exec := &scriptedExecutor{results: []*ExecResult{{
		Stdout: "booting...\n" + `{"action": "mint_usdc", "parameters": {}}` + "\ndone",
	}}}
	r := NewRunner(testRunnerConfig(), map[string]string{"ANTHROPIC_API_KEY": "k"}, exec, nil)

	res, err := r.Invoke(context.Background(), "mint me some usdc", "sess-1")
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if res.JSON == nil || res.JSON["action"] != "mint_usdc" {
		t.Fatalf("expected extracted action, got %+v", res)
	}
	if res.Raw != "" {
		t.Fatalf("JSON result must not also carry raw text: %q", res.Raw)
	}
}

func TestInvokeKeepsJSONOnNonzeroExit(t *testing.T) {
	t.Parallel()

	exec := &scriptedExecutor{results: []*ExecResult{{
		Stdout:   `{"reply": "done before the crash"}`,
		Stderr:   "panic: late teardown failure",
		ExitCode: 1,
	}}}
	r := NewRunner(testRunnerConfig(), nil, exec, nil)

	res, err := r.Invoke(context.Background(), "hello", "sess-1")
	if err != nil {
		t.Fatalf("a usable answer must survive a nonzero exit: %v", err)
	}
	if res.JSON == nil || res.JSON["reply"] != "done before the crash" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestInvokeFailsOnNonzeroExitWithoutJSON(t *testing.T) {
	t.Parallel()

	exec := &scriptedExecutor{results: []*ExecResult{{
		Stdout:   "no json here",
		Stderr:   "auth error: missing API key",
		ExitCode: 2,
	}}}
	r := NewRunner(testRunnerConfig(), nil, exec, nil)

	_, err := r.Invoke(context.Background(), "hello", "sess-1")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "code 2") {
		t.Fatalf("error should carry the exit code: %v", err)
	}
	if !strings.Contains(err.Error(), "missing API key") {
		t.Fatalf("error should carry the stderr tail: %v", err)
	}
}

func TestInvokeReturnsRawProseOnCleanExit(t *testing.T) {
	t.Parallel()

	exec := &scriptedExecutor{results: []*ExecResult{{
		Stdout: "  Markets look quiet today.  \n",
	}}}
	r := NewRunner(testRunnerConfig(), nil, exec, nil)

	res, err := r.Invoke(context.Background(), "how are the markets?", "sess-1")
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if res.JSON != nil {
		t.Fatalf("expected raw result, got JSON %v", res.JSON)
	}
	if res.Raw != "Markets look quiet today." {
		t.Fatalf("expected trimmed prose, got %q", res.Raw)
	}
}

func TestInvokeWrapsTransportError(t *testing.T) {
	t.Parallel()

	cause := errors.New("executable file not found in $PATH")
	exec := &scriptedExecutor{errs: []error{cause}}
	r := NewRunner(testRunnerConfig(), nil, exec, nil)

	_, err := r.Invoke(context.Background(), "hello", "sess-1")
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
}

func TestInvokePassesCredentialsAndArguments(t *testing.T) {
	t.Parallel()

	exec := &scriptedExecutor{results: []*ExecResult{{Stdout: `{"reply": "ok"}`}}}
	creds := map[string]string{
		"ANTHROPIC_API_KEY":  "secret",
		"OPENCLAW_STATE_DIR": "/tmp/openclaw-state",
	}
	r := NewRunner(testRunnerConfig(), creds, exec, nil)

	if _, err := r.Invoke(context.Background(), "ping", "sess-9"); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if len(exec.calls) != 1 {
		t.Fatalf("expected one exec call, got %d", len(exec.calls))
	}
	call := exec.calls[0]
	if call.name != "openclaw" {
		t.Fatalf("unexpected binary: %q", call.name)
	}
	if call.env["ANTHROPIC_API_KEY"] != "secret" {
		t.Fatalf("credentials not forwarded: %v", call.env)
	}

	joined := strings.Join(call.args, " ")
	for _, want := range []string{"agent", "--local", "--agent bizmart", "--session-id sess-9", "--json"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args missing %q: %v", want, call.args)
		}
	}
	if !strings.Contains(joined, "ping") {
		t.Fatalf("args missing the user message: %v", call.args)
	}
}

func TestTailTruncatesLongOutput(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 600) + "END"
	got := tail(long, 64)
	if !strings.HasPrefix(got, "...") {
		t.Fatalf("expected truncation marker: %q", got)
	}
	if !strings.HasSuffix(got, "END") {
		t.Fatalf("expected the tail end to survive: %q", got)
	}
	if got := tail("short", 64); got != "short" {
		t.Fatalf("short input must pass through: %q", got)
	}
}
