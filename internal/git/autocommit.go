// Package git is the narrow subprocess boundary for workspace
// auto-commits. The runtime records workspace drift periodically; it
// never pushes and never rewrites history.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const commandTimeout = 30 * time.Second

// Result reports one auto-commit attempt.
type Result struct {
	Committed bool
	Message   string
	// IdentityMissing is set when git refuses to commit because
	// user.name/user.email are unset. The caller surfaces one operator
	// request; repeats are deduped here.
	IdentityMissing bool
}

// AutoCommitter runs a stage-and-commit pass over the workspace.
type AutoCommitter struct {
	root   string
	logger *zap.Logger

	mu             sync.Mutex
	identityNudged bool
}

func NewAutoCommitter(root string, logger *zap.Logger) *AutoCommitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutoCommitter{root: root, logger: logger}
}

// Commit stages everything and commits if the tree is dirty. A clean
// tree or a non-repo workspace is a quiet no-op.
func (a *AutoCommitter) Commit(ctx context.Context, message string) (Result, error) {
	if !a.isRepo(ctx) {
		return Result{Message: "not a git repository"}, nil
	}

	status, err := a.run(ctx, "status", "--porcelain")
	if err != nil {
		return Result{}, fmt.Errorf("git status: %w", err)
	}
	if strings.TrimSpace(status) == "" {
		return Result{Message: "clean"}, nil
	}

	if _, err := a.run(ctx, "add", "-A"); err != nil {
		return Result{}, fmt.Errorf("git add: %w", err)
	}

	out, err := a.run(ctx, "commit", "-m", message)
	if err != nil {
		if isIdentityError(out) || isIdentityError(err.Error()) {
			return a.identityResult(), nil
		}
		return Result{}, fmt.Errorf("git commit: %w", err)
	}

	a.logger.Debug("auto-commit recorded", zap.String("message", message))
	return Result{Committed: true, Message: message}, nil
}

// identityResult reports the missing-identity condition, flagging only
// the first occurrence so the operator is asked once per run.
func (a *AutoCommitter) identityResult() Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	first := !a.identityNudged
	a.identityNudged = true
	return Result{IdentityMissing: first, Message: "git identity not configured"}
}

func (a *AutoCommitter) isRepo(ctx context.Context) bool {
	out, err := a.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

func (a *AutoCommitter) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = a.root
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}

func isIdentityError(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "please tell me who you are") ||
		strings.Contains(lower, "empty ident") ||
		strings.Contains(lower, "user.email") ||
		strings.Contains(lower, "user.name")
}
