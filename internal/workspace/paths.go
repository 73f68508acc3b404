// Package workspace resolves the Takobot workspace on disk and owns the
// hidden .tako runtime tree: state files, locks, logs, temp space, and the
// key material the rest of the runtime reads through narrow accessors.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Sentinel files used to locate a workspace root.
const (
	SentinelConfig = "tako.toml"
	DocSoul        = "SOUL.md"
	DocMemory      = "MEMORY.md"
)

// RuntimeDirName is the hidden directory that holds all runtime state.
const RuntimeDirName = ".tako"

// Paths holds every resolved location the runtime touches. Built once at
// startup and passed by reference; the struct is immutable after Ensure.
type Paths struct {
	Root    string // workspace root
	Runtime string // <root>/.tako

	State         string // <runtime>/state
	Conversations string // <runtime>/state/conversations
	Locks         string // <runtime>/locks
	Logs          string // <runtime>/logs
	Tmp           string // <runtime>/tmp
	XMTPData      string // <runtime>/xmtp

	ConfigFile   string // <root>/tako.toml
	KeysFile     string // <runtime>/keys.json
	OperatorFile string // <runtime>/operator.json
	LockFile     string // <runtime>/locks/tako.lock

	EventsFile            string // <runtime>/state/events.jsonl
	DoseFile              string // <runtime>/state/dose.json
	InferenceFile         string // <runtime>/state/inference.json
	InferenceSettingsFile string // <runtime>/state/inference-settings.json
	OpenLoopsFile         string // <runtime>/state/open_loops.json
	SensorsDB             string // <runtime>/state/sensors.db
	TasksFile             string // <runtime>/state/tasks.json
	OutcomesFile          string // <runtime>/state/outcomes.json
	ExtensionsFile        string // <runtime>/state/extensions.json

	AppLog     string // <runtime>/logs/app.log
	RuntimeLog string // <runtime>/logs/runtime.log
}

// Resolve walks parent directories from start looking for a workspace root.
// Priority: a tako.toml sentinel, then the minimal doc set (SOUL.md and
// MEMORY.md together), then start itself.
func Resolve(start string) (*Paths, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace start dir: %w", err)
	}

	root := abs
	if found, ok := walkUp(abs, func(dir string) bool {
		return fileExists(filepath.Join(dir, SentinelConfig))
	}); ok {
		root = found
	} else if found, ok := walkUp(abs, func(dir string) bool {
		return fileExists(filepath.Join(dir, DocSoul)) && fileExists(filepath.Join(dir, DocMemory))
	}); ok {
		root = found
	}

	return At(root), nil
}

// At builds the path set for a known workspace root without probing parents.
func At(root string) *Paths {
	rt := filepath.Join(root, RuntimeDirName)
	state := filepath.Join(rt, "state")
	locks := filepath.Join(rt, "locks")
	logs := filepath.Join(rt, "logs")
	return &Paths{
		Root:    root,
		Runtime: rt,

		State:         state,
		Conversations: filepath.Join(state, "conversations"),
		Locks:         locks,
		Logs:          logs,
		Tmp:           filepath.Join(rt, "tmp"),
		XMTPData:      filepath.Join(rt, "xmtp"),

		ConfigFile:   filepath.Join(root, SentinelConfig),
		KeysFile:     filepath.Join(rt, "keys.json"),
		OperatorFile: filepath.Join(rt, "operator.json"),
		LockFile:     filepath.Join(locks, "tako.lock"),

		EventsFile:            filepath.Join(state, "events.jsonl"),
		DoseFile:              filepath.Join(state, "dose.json"),
		InferenceFile:         filepath.Join(state, "inference.json"),
		InferenceSettingsFile: filepath.Join(state, "inference-settings.json"),
		OpenLoopsFile:         filepath.Join(state, "open_loops.json"),
		SensorsDB:             filepath.Join(state, "sensors.db"),
		TasksFile:             filepath.Join(state, "tasks.json"),
		OutcomesFile:          filepath.Join(state, "outcomes.json"),
		ExtensionsFile:        filepath.Join(state, "extensions.json"),

		AppLog:     filepath.Join(logs, "app.log"),
		RuntimeLog: filepath.Join(logs, "runtime.log"),
	}
}

// Ensure creates the runtime directory tree. Idempotent.
func (p *Paths) Ensure() error {
	for _, dir := range []string{p.Runtime, p.State, p.Conversations, p.Locks, p.Logs, p.Tmp} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create runtime dir %s: %w", dir, err)
		}
	}
	return nil
}

// SoulFile returns the path to the workspace SOUL.md document.
func (p *Paths) SoulFile() string { return filepath.Join(p.Root, DocSoul) }

// MemoryFile returns the path to the workspace MEMORY.md document.
func (p *Paths) MemoryFile() string { return filepath.Join(p.Root, DocMemory) }

// DailyLogFile returns the daily log path for the given ISO date (YYYY-MM-DD).
func (p *Paths) DailyLogFile(dayISO string) string {
	return filepath.Join(p.Root, "logs", dayISO+".md")
}

func walkUp(start string, match func(dir string) bool) (string, bool) {
	dir := start
	for {
		if match(dir) {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
