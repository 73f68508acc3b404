// Package notes reads and writes the operator-facing workspace
// documents: daily logs, MEMORY.md excerpts, and the semantic-recall
// helper used to seed reasoning prompts.
package notes

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tako/internal/workspace"
)

// EnsureDailyLog creates today's log with its header if missing and
// returns its path. Idempotent.
func EnsureDailyLog(paths *workspace.Paths, now time.Time) (string, error) {
	day := now.UTC().Format("2006-01-02")
	path := paths.DailyLogFile(day)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create daily log dir: %w", err)
	}
	header := fmt.Sprintf("# %s\n\n## Notes\n\n## Outcomes\n\n", day)
	if err := os.WriteFile(path, []byte(header), 0o644); err != nil {
		return "", fmt.Errorf("create daily log: %w", err)
	}
	return path, nil
}

// AppendDailyNote adds a timestamped bullet under today's log, creating
// the log first if needed.
func AppendDailyNote(paths *workspace.Paths, now time.Time, note string) error {
	path, err := EnsureDailyLog(paths, now)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open daily log: %w", err)
	}
	defer f.Close()
	line := fmt.Sprintf("- %s %s\n", now.UTC().Format("15:04"), note)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append daily note: %w", err)
	}
	return nil
}
