package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNoProvider means no ready inference provider exists.
var ErrNoProvider = errors.New("no ready inference provider found")

// ExecError is a single provider attempt that failed or timed out. The
// fallback chain recovers from these; only a full-chain failure surfaces.
type ExecError struct {
	Provider string
	Timeout  bool
	Summary  string // single-line stderr summary, never raw output
}

func (e *ExecError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("provider %s timed out", e.Provider)
	}
	return fmt.Sprintf("provider %s failed: %s", e.Provider, e.Summary)
}

// Run executes one prompt against one provider with a wall-clock timeout.
// The prompt travels as a single argv element; it is never concatenated
// into a shell string. On timeout the whole process tree is killed.
func (b *Bridge) Run(ctx context.Context, rt *Runtime, provider, prompt string, timeout time.Duration) (string, error) {
	st, ok := rt.Statuses[provider]
	if !ok || !st.Ready {
		return "", &ExecError{Provider: provider, Summary: "provider not ready"}
	}

	argv, outFile, err := b.buildArgv(rt, provider, prompt, false)
	if err != nil {
		return "", &ExecError{Provider: provider, Summary: err.Error()}
	}
	if outFile != "" {
		defer os.Remove(outFile)
	}

	var stdout, stderr bytes.Buffer
	res := b.runProcess(ctx, rt, provider, st.CLIPath, argv, &stdout, &stderr, timeout)
	if res != nil {
		return "", res
	}

	if outFile != "" {
		// codex writes the final message to a file instead of stdout.
		data, err := os.ReadFile(outFile)
		if err == nil && len(data) > 0 {
			return strings.TrimSpace(string(data)), nil
		}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// runProcess spawns the CLI in its own process group, waits with the
// timeout, and guarantees the tree is terminated on every exit path.
func (b *Bridge) runProcess(ctx context.Context, rt *Runtime, provider, cliPath string, argv []string, stdout, stderr *bytes.Buffer, timeout time.Duration) *ExecError {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command(cliPath, argv...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = b.childEnv(rt, provider)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return &ExecError{Provider: provider, Summary: summarize(err.Error())}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return &ExecError{Provider: provider, Summary: summarize(stderr.String())}
		}
		b.logger.Debug("provider run completed",
			zap.String("provider", provider),
			zap.Duration("elapsed", time.Since(started)))
		return nil
	case <-execCtx.Done():
		killTree(cmd)
		<-done
		if ctx.Err() != nil {
			// Caller cancellation, not the provider's fault.
			return &ExecError{Provider: provider, Summary: "canceled"}
		}
		return &ExecError{Provider: provider, Timeout: true, Summary: fmt.Sprintf("timed out after %s", timeout)}
	}
}

// killTree terminates the child's process group: TERM, a short grace
// period, then KILL.
func killTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid := -cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)
	time.Sleep(200 * time.Millisecond)
	_ = syscall.Kill(pgid, syscall.SIGKILL)
}

// childEnv builds the subprocess environment: the inherited environment,
// the selected credential, workspace-scoped temp dirs, and (for pi) the
// workspace node runtime on PATH. Credentials exist only here and in the
// Runtime; they are never formatted into logs.
func (b *Bridge) childEnv(rt *Runtime, provider string) []string {
	env := os.Environ()
	if ref, ok := rt.secrets[provider]; ok && ref.envVar != "" {
		env = append(env, ref.envVar+"="+ref.value)
	}
	if b.workspaceTmp != "" {
		for _, k := range []string{"TMPDIR", "TMP", "TEMP"} {
			env = append(env, k+"="+b.workspaceTmp)
		}
	}
	if provider == "pi" && b.nodeDir != "" {
		env = append(env, "PATH="+b.nodeDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
	if provider == "ollama" {
		if host := os.Getenv("OLLAMA_HOST"); host != "" {
			env = append(env, "OLLAMA_HOST="+host)
		}
	}
	return env
}

// buildArgv produces the provider's documented argument form. The second
// return value is a temp file the provider writes output to, when used.
func (b *Bridge) buildArgv(rt *Runtime, provider, prompt string, streaming bool) ([]string, string, error) {
	switch provider {
	case "codex":
		base := []string{"exec", "--skip-git-repo-check", "--dangerously-bypass-approvals-and-sandbox"}
		if streaming {
			return append(base, "--json", "--color", "never", prompt), "", nil
		}
		outFile := filepath.Join(b.workspaceTmp, "codex-"+uuid.NewString()+".txt")
		return append(base, "--output-last-message", outFile, prompt), outFile, nil

	case "claude":
		switch b.claudePromptFlag(rt) {
		case "--print":
			return []string{"--print", prompt}, "", nil
		case "-p":
			return []string{"-p", prompt}, "", nil
		default:
			return []string{prompt}, "", nil
		}

	case "gemini":
		if streaming {
			return []string{"--output-format", "stream-json", prompt}, "", nil
		}
		return []string{"--output-format", "text", prompt}, "", nil

	case "pi":
		return []string{"--print", "--mode", "text", "--no-session", "--no-tools", "--no-extensions", "--no-skills", prompt}, "", nil

	case "ollama":
		model := b.ollamaModel()
		if model == "" {
			return nil, "", fmt.Errorf("ollama model not configured")
		}
		return []string{"run", model, prompt}, "", nil
	}
	return nil, "", fmt.Errorf("unknown provider %q", provider)
}

// claudePromptFlag probes `claude --help` once and caches which prompt
// flag this install supports. Chat and reasoner calls overlap, so the
// cache is guarded for the duration of the probe.
func (b *Bridge) claudePromptFlag(rt *Runtime) string {
	b.probeMu.Lock()
	defer b.probeMu.Unlock()
	if cached, ok := b.helpProbe["claude"]; ok {
		return cached
	}
	flag := "" // positional fallback
	if st, ok := rt.Statuses["claude"]; ok && st.CLIInstalled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		out, _ := exec.CommandContext(ctx, st.CLIPath, "--help").CombinedOutput()
		help := string(out)
		switch {
		case strings.Contains(help, "--print"):
			flag = "--print"
		case strings.Contains(help, "-p"):
			flag = "-p"
		}
	}
	b.helpProbe["claude"] = flag
	return flag
}

func (b *Bridge) ollamaModel() string {
	if settings, err := LoadSettings(b.settingsPath); err == nil && settings.OllamaModel != "" {
		return settings.OllamaModel
	}
	return os.Getenv("OLLAMA_MODEL")
}

// summarize reduces stderr to a single informative line.
func summarize(stderr string) string {
	for _, line := range strings.Split(strings.TrimSpace(stderr), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			if len(line) > 200 {
				line = line[:200]
			}
			return line
		}
	}
	return "exited with error"
}
