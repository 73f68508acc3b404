package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Result pairs a provider name with its output text.
type Result struct {
	Provider string
	Text     string
}

// RunWithFallback tries the selected provider, then every other ready
// provider in priority order, returning on the first success. On total
// failure it returns one error listing per-provider summaries.
func (b *Bridge) RunWithFallback(ctx context.Context, rt *Runtime, prompt string, timeout time.Duration) (Result, error) {
	providers := rt.ReadyProviders()
	if len(providers) == 0 {
		return Result{}, ErrNoProvider
	}

	var failures []string
	for _, provider := range providers {
		text, err := b.Run(ctx, rt, provider, prompt, timeout)
		if err == nil {
			return Result{Provider: provider, Text: text}, nil
		}
		b.logger.Warn("provider attempt failed",
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

// failureSummary reduces an attempt error to its one-line form for the
// audit trail.
func failureSummary(err error) string {
	var execErr *ExecError
	if errors.As(err, &execErr) && execErr.Summary != "" {
		return execErr.Summary
	}
	return err.Error()
}
