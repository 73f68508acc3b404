package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Stream event kinds delivered to the sink.
const (
	KindProvider = "provider" // attempt notice: payload is the provider name
	KindTask     = "task"     // human-readable action the provider announced
	KindStatus   = "status"   // debug/diagnostic line
	KindDelta    = "delta"    // token chunk
)

// Sink receives streaming events. Called from the streaming goroutine;
// implementations must be fast and non-blocking.
type Sink func(kind, payload string)

// StreamWithFallback streams a prompt through the fallback chain. Providers
// with native streaming get their JSON stream translated to sink events;
// the others run synchronously and replay the result as simulated deltas.
// A watchdog emits a status heartbeat while the provider is silent so the
// UI always sees progress. Cancelling ctx terminates the child process.
func (b *Bridge) StreamWithFallback(ctx context.Context, rt *Runtime, prompt string, timeout time.Duration, sink Sink) (Result, error) {
	providers := rt.ReadyProviders()
	if len(providers) == 0 {
		return Result{}, ErrNoProvider
	}

	var failures []string
	for _, provider := range providers {
		sink(KindProvider, provider)

		var (
			text string
			err  error
		)
		if definitions[provider].streaming {
			text, err = b.streamNative(ctx, rt, provider, prompt, timeout, sink)
		} else {
			text, err = b.streamSimulated(ctx, rt, provider, prompt, timeout, sink)
		}
		if err == nil {
			return Result{Provider: provider, Text: text}, nil
		}
		b.logger.Warn("streaming attempt failed",
			zap.String("provider", provider),
			zap.Error(err))
		b.notifyFail(provider, failureSummary(err))
		failures = append(failures, err.Error())
		if ctx.Err() != nil {
			break
		}
	}
	return Result{}, fmt.Errorf("all providers failed: %s", strings.Join(failures, "; "))
}

// streamSimulated executes synchronously under the watchdog, then replays
// the answer as delta chunks.
func (b *Bridge) streamSimulated(ctx context.Context, rt *Runtime, provider, prompt string, timeout time.Duration, sink Sink) (string, error) {
	stop := b.startWatchdog(ctx, provider, sink)
	text, err := b.Run(ctx, rt, provider, prompt, timeout)
	stop()
	if err != nil {
		return "", err
	}
	for _, chunk := range chunkText(text, 48) {
		sink(KindDelta, chunk)
	}
	return text, nil
}

// streamNative spawns the provider in streaming mode and translates its
// line-delimited JSON to sink events.
func (b *Bridge) streamNative(ctx context.Context, rt *Runtime, provider, prompt string, timeout time.Duration, sink Sink) (string, error) {
	st := rt.Statuses[provider]
	argv, _, err := b.buildArgv(rt, provider, prompt, true)
	if err != nil {
		return "", &ExecError{Provider: provider, Summary: err.Error()}
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command(st.CLIPath, argv...)
	cmd.Env = b.childEnv(rt, provider)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", &ExecError{Provider: provider, Summary: err.Error()}
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", &ExecError{Provider: provider, Summary: summarize(err.Error())}
	}

	// The child dies with the context: timeout or caller cancellation.
	killOnce := sync.OnceFunc(func() { killTree(cmd) })
	go func() {
		<-execCtx.Done()
		killOnce()
	}()

	stop := b.startWatchdog(execCtx, provider, sink)
	defer stop()

	var full strings.Builder
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		delta, task, status := translateStreamLine(provider, line)
		if task != "" {
			sink(KindTask, task)
		}
		if status != "" {
			sink(KindStatus, status)
		}
		if delta != "" {
			sink(KindDelta, delta)
			full.WriteString(delta)
		}
	}

	err = cmd.Wait()
	if execCtx.Err() == context.DeadlineExceeded {
		return "", &ExecError{Provider: provider, Timeout: true, Summary: fmt.Sprintf("timed out after %s", timeout)}
	}
	if ctx.Err() != nil {
		return "", &ExecError{Provider: provider, Summary: "canceled"}
	}
	if err != nil {
		return "", &ExecError{Provider: provider, Summary: summarize(stderr.String())}
	}
	return strings.TrimSpace(full.String()), nil
}

// startWatchdog emits a status heartbeat with elapsed time every interval
// until the returned stop function runs.
func (b *Bridge) startWatchdog(ctx context.Context, provider string, sink Sink) func() {
	done := make(chan struct{})
	var once sync.Once
	started := time.Now()
	interval := b.watchdog
	if interval <= 0 {
		interval = watchdogInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				elapsed := time.Since(started).Round(time.Second)
				sink(KindStatus, fmt.Sprintf("debug: waiting on provider=%s elapsed=%s", provider, elapsed))
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

// codexStreamEvent is the codex --json line shape.
type codexStreamEvent struct {
	Type string `json:"type"`
	Item struct {
		Type  string `json:"type"`
		Text  string `json:"text"`
		Delta string `json:"delta"`
	} `json:"item"`
}

// geminiStreamEvent is the gemini stream-json line shape.
type geminiStreamEvent struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content string `json:"content"`
	Delta   string `json:"delta"`
}

// translateStreamLine maps one provider JSON line to (delta, task, status).
// Unparsable lines become status lines so nothing is silently dropped.
func translateStreamLine(provider string, line []byte) (delta, task, status string) {
	switch provider {
	case "codex":
		var ev codexStreamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return "", "", "debug: unparsed stream line"
		}
		switch {
		case ev.Type == "item.delta":
			return ev.Item.Delta, "", ""
		case ev.Type == "item.completed":
			switch ev.Item.Type {
			case "agent_message", "message", "text":
				return ev.Item.Text, "", ""
			case "web_search", "browser":
				return "", describeTask(ev.Item.Text), ""
			case "command_execution":
				return "", "running a command", ""
			case "reasoning":
				return "", "", "thinking"
			}
		case strings.HasPrefix(ev.Type, "turn."):
			return "", "", "debug: " + ev.Type
		}
		return "", "", ""

	case "gemini":
		var ev geminiStreamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return "", "", "debug: unparsed stream line"
		}
		if ev.Type == "message" && ev.Role == "assistant" {
			if ev.Delta != "" {
				return ev.Delta, "", ""
			}
			return ev.Content, "", ""
		}
		return "", "", ""
	}
	return "", "", ""
}

func describeTask(detail string) string {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return "browsing the web"
	}
	if len(detail) > 80 {
		detail = detail[:80] + "…"
	}
	return "browsing " + detail
}

// chunkText splits text into rune-safe chunks for simulated deltas.
func chunkText(text string, size int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}
