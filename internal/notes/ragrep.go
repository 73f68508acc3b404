package notes

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

const (
	ragrepBinary   = "ragrep"
	ragrepTimeout  = 10 * time.Second
	ragrepMaxRunes = 1200
)

// Recall runs the workspace semantic-recall helper against the memory
// index and returns its output as a bounded string. The helper's index
// is opaque to us. An absent binary, a failure, or a timeout all yield
// an empty recall; reasoning proceeds without it.
func Recall(ctx context.Context, workspaceRoot, query string) string {
	bin, err := exec.LookPath(ragrepBinary)
	if err != nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, ragrepTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, query)
	cmd.Dir = workspaceRoot
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return ""
	}

	text := strings.TrimSpace(out.String())
	runes := []rune(text)
	if len(runes) > ragrepMaxRunes {
		text = string(runes[:ragrepMaxRunes])
	}
	return text
}
