package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// secretFiles are workspace-relative paths that must never be tracked by the
// workspace VCS. Startup refuses to proceed if they are.
var secretFiles = []string{
	RuntimeDirName + "/keys.json",
	RuntimeDirName + "/state/inference-settings.json",
}

// CheckTrackedSecrets refuses startup when any secret file is tracked by git.
// A workspace without a .git directory, or without git on PATH, passes.
func CheckTrackedSecrets(ctx context.Context, root string) error {
	if _, err := os.Stat(filepath.Join(root, ".git")); err != nil {
		return nil
	}
	gitBin, err := exec.LookPath("git")
	if err != nil {
		return nil
	}

	for _, rel := range secretFiles {
		cmd := exec.CommandContext(ctx, gitBin, "ls-files", "--error-unmatch", rel)
		cmd.Dir = root
		if err := cmd.Run(); err == nil {
			return fmt.Errorf("secret file %s is tracked by git; add it to .gitignore and run `git rm --cached %s`", rel, rel)
		}
	}
	return nil
}

// EnsureIgnoreEntries appends the runtime secret paths to the workspace
// .gitignore when they are missing. Idempotent; creates the file on demand.
func EnsureIgnoreEntries(root string) error {
	path := filepath.Join(root, ".gitignore")
	existing := ""
	if data, err := os.ReadFile(path); err == nil {
		existing = string(data)
	}

	var missing []string
	for _, rel := range secretFiles {
		if !containsLine(existing, rel) {
			missing = append(missing, rel)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open .gitignore: %w", err)
	}
	defer f.Close()

	if existing != "" && !strings.HasSuffix(existing, "\n") {
		if _, err := f.WriteString("\n"); err != nil {
			return err
		}
	}
	for _, rel := range missing {
		if _, err := f.WriteString(rel + "\n"); err != nil {
			return fmt.Errorf("append .gitignore entry: %w", err)
		}
	}
	return nil
}

func containsLine(text, want string) bool {
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == want {
			return true
		}
	}
	return false
}
