package inference

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// writeScript drops an executable shell script and returns its path.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

// fakeRuntime builds a Runtime whose "claude" and "pi" providers point at
// stub scripts. claude is exercised via its positional-prompt form.
func fakeRuntime(statuses map[string]Status) *Runtime {
	return &Runtime{Statuses: statuses, secrets: map[string]secretRef{}}
}

func testBridge(t *testing.T) *Bridge {
	t.Helper()
	b := NewBridge(Options{
		WorkspaceTmp: t.TempDir(),
		SettingsPath: filepath.Join(t.TempDir(), "inference-settings.json"),
		Logger:       zap.NewNop(),
	})
	// Skip the live --help probe; force positional prompt for claude.
	b.helpProbe["claude"] = ""
	b.watchdog = 50 * time.Millisecond
	return b
}

func TestRun_ReturnsStdout(t *testing.T) {
	dir := t.TempDir()
	cli := writeScript(t, dir, "claude", `echo "hello from stub"`)
	rt := fakeRuntime(map[string]Status{
		"claude": {CLIName: "claude", CLIPath: cli, CLIInstalled: true, KeyPresent: true, Ready: true},
	})
	rt.Selected = "claude"

	b := testBridge(t)
	out, err := b.Run(context.Background(), rt, "claude", "hi", 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "hello from stub", out)
}

func TestRun_FailureSummarizesStderr(t *testing.T) {
	dir := t.TempDir()
	cli := writeScript(t, dir, "claude", `echo "boom" >&2; exit 1`)
	rt := fakeRuntime(map[string]Status{
		"claude": {CLIPath: cli, CLIInstalled: true, KeyPresent: true, Ready: true},
	})
	rt.Selected = "claude"

	b := testBridge(t)
	_, err := b.Run(context.Background(), rt, "claude", "hi", 5*time.Second)
	require.Error(t, err)
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, "boom", execErr.Summary)
}

func TestRun_TimeoutKillsChild(t *testing.T) {
	dir := t.TempDir()
	cli := writeScript(t, dir, "claude", `sleep 30`)
	rt := fakeRuntime(map[string]Status{
		"claude": {CLIPath: cli, CLIInstalled: true, KeyPresent: true, Ready: true},
	})
	rt.Selected = "claude"

	b := testBridge(t)
	start := time.Now()
	_, err := b.Run(context.Background(), rt, "claude", "hi", 500*time.Millisecond)
	require.Error(t, err)
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	require.True(t, execErr.Timeout)
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestRunWithFallback_SecondProviderWins(t *testing.T) {
	dir := t.TempDir()
	bad := writeScript(t, dir, "claude", `echo "boom" >&2; exit 1`)
	good := writeScript(t, dir, "pi", `echo "pi says hi"`)
	rt := fakeRuntime(map[string]Status{
		"claude": {CLIPath: bad, CLIInstalled: true, KeyPresent: true, Ready: true},
		"pi":     {CLIPath: good, CLIInstalled: true, KeyPresent: true, Ready: true},
	})
	rt.Selected = "claude"

	b := testBridge(t)
	res, err := b.RunWithFallback(context.Background(), rt, "hi", 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "pi", res.Provider)
	require.Equal(t, "pi says hi", res.Text)
}

func TestRunWithFallback_FailureRecordedForAudit(t *testing.T) {
	dir := t.TempDir()
	bad := writeScript(t, dir, "claude", `echo "boom" >&2; exit 1`)
	good := writeScript(t, dir, "pi", `echo "pi says hi"`)
	rt := fakeRuntime(map[string]Status{
		"claude": {CLIPath: bad, CLIInstalled: true, KeyPresent: true, Ready: true},
		"pi":     {CLIPath: good, CLIInstalled: true, KeyPresent: true, Ready: true},
	})
	rt.Selected = "claude"

	var mu sync.Mutex
	type failure struct{ provider, summary string }
	var seen []failure
	b := NewBridge(Options{
		WorkspaceTmp: t.TempDir(),
		SettingsPath: filepath.Join(t.TempDir(), "inference-settings.json"),
		Logger:       zap.NewNop(),
		NotifyFailure: func(provider, summary string) {
			mu.Lock()
			seen = append(seen, failure{provider, summary})
			mu.Unlock()
		},
	})
	b.helpProbe["claude"] = ""

	res, err := b.RunWithFallback(context.Background(), rt, "hi", 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "pi", res.Provider)
	require.Equal(t, []failure{{"claude", "boom"}}, seen)
}

func TestClaudePromptFlag_ConcurrentCallsShareOneProbe(t *testing.T) {
	dir := t.TempDir()
	cli := writeScript(t, dir, "claude", `echo "usage: claude --print <prompt>"`)
	rt := fakeRuntime(map[string]Status{
		"claude": {CLIName: "claude", CLIPath: cli, CLIInstalled: true, Ready: true},
	})

	b := NewBridge(Options{
		WorkspaceTmp: t.TempDir(),
		SettingsPath: filepath.Join(t.TempDir(), "inference-settings.json"),
		Logger:       zap.NewNop(),
	})

	var wg sync.WaitGroup
	flags := make([]string, 8)
	for i := range flags {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			flags[i] = b.claudePromptFlag(rt)
		}(i)
	}
	wg.Wait()
	for _, flag := range flags {
		require.Equal(t, "--print", flag)
	}
}

func TestRunWithFallback_AllFailListsSummaries(t *testing.T) {
	dir := t.TempDir()
	bad1 := writeScript(t, dir, "claude", `echo "first down" >&2; exit 1`)
	bad2 := writeScript(t, dir, "pi", `echo "second down" >&2; exit 1`)
	rt := fakeRuntime(map[string]Status{
		"claude": {CLIPath: bad1, CLIInstalled: true, KeyPresent: true, Ready: true},
		"pi":     {CLIPath: bad2, CLIInstalled: true, KeyPresent: true, Ready: true},
	})
	rt.Selected = "claude"

	b := testBridge(t)
	_, err := b.RunWithFallback(context.Background(), rt, "hi", 5*time.Second)
	require.Error(t, err)
	require.Contains(t, err.Error(), "first down")
	require.Contains(t, err.Error(), "second down")
}

func TestRunWithFallback_NoProviders(t *testing.T) {
	b := testBridge(t)
	_, err := b.RunWithFallback(context.Background(), fakeRuntime(map[string]Status{}), "hi", time.Second)
	require.ErrorIs(t, err, ErrNoProvider)
}

func TestStream_SimulatedDeltasAndWatchdog(t *testing.T) {
	dir := t.TempDir()
	cli := writeScript(t, dir, "pi", `sleep 0.3; echo "slow but steady answer"`)
	rt := fakeRuntime(map[string]Status{
		"pi": {CLIPath: cli, CLIInstalled: true, KeyPresent: true, Ready: true},
	})
	rt.Selected = "pi"

	b := testBridge(t)

	var mu sync.Mutex
	var kinds []string
	var sawWatchdog bool
	sink := func(kind, payload string) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, kind)
		if kind == KindStatus && strings.Contains(payload, "debug: waiting on provider=pi") {
			sawWatchdog = true
		}
	}

	res, err := b.StreamWithFallback(context.Background(), rt, "hi", 5*time.Second, sink)
	require.NoError(t, err)
	require.Equal(t, "slow but steady answer", res.Text)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, KindProvider, kinds[0], "attempt notice first")
	require.Contains(t, kinds, KindDelta)
	require.True(t, sawWatchdog, "watchdog status must fire during silence")
}

func TestStream_CancellationTerminatesChild(t *testing.T) {
	dir := t.TempDir()
	cli := writeScript(t, dir, "pi", `sleep 30`)
	rt := fakeRuntime(map[string]Status{
		"pi": {CLIPath: cli, CLIInstalled: true, KeyPresent: true, Ready: true},
	})
	rt.Selected = "pi"

	b := testBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := b.StreamWithFallback(ctx, rt, "hi", 60*time.Second, func(string, string) {})
	require.Error(t, err)
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestTranslateStreamLine_Codex(t *testing.T) {
	delta, _, _ := translateStreamLine("codex", []byte(`{"type":"item.delta","item":{"type":"text","delta":"tok"}}`))
	require.Equal(t, "tok", delta)

	text, _, _ := translateStreamLine("codex", []byte(`{"type":"item.completed","item":{"type":"agent_message","text":"done"}}`))
	require.Equal(t, "done", text)

	_, task, _ := translateStreamLine("codex", []byte(`{"type":"item.completed","item":{"type":"web_search","text":"https://example.com"}}`))
	require.Contains(t, task, "browsing")
}

func TestTranslateStreamLine_Gemini(t *testing.T) {
	delta, _, _ := translateStreamLine("gemini", []byte(`{"type":"message","role":"assistant","delta":"chunk"}`))
	require.Equal(t, "chunk", delta)
}

func TestChunkText(t *testing.T) {
	chunks := chunkText("abcdefgh", 3)
	require.Equal(t, []string{"abc", "def", "gh"}, chunks)
	require.Nil(t, chunkText("", 3))
}
