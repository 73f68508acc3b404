package sensors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"tako/internal/events"
)

const notesInterval = 5 * time.Minute

// Notes watches the operator-editable workspace documents (MEMORY.md
// and the notes directory) through fsnotify and reports edits on the
// next poll. Writes are coalesced per path between polls, so a burst of
// editor saves yields one event.
type Notes struct {
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu      sync.Mutex
	changed map[string]time.Time
	done    chan struct{}
}

// NewNotes starts watching the given paths. Directories are watched as
// a whole; missing paths are skipped silently (the operator may not
// have created notes/ yet).
func NewNotes(logger *zap.Logger, paths ...string) (*Notes, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("start notes watcher: %w", err)
	}
	n := &Notes{
		watcher: watcher,
		logger:  logger,
		changed: make(map[string]time.Time),
		done:    make(chan struct{}),
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := watcher.Add(p); err != nil {
			logger.Warn("notes watch failed", zap.String("path", p), zap.Error(err))
		}
	}
	go n.loop()
	return n, nil
}

func (n *Notes) loop() {
	for {
		select {
		case ev, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if name == "" || name[0] == '.' {
				continue
			}
			n.mu.Lock()
			n.changed[ev.Name] = time.Now()
			n.mu.Unlock()
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			n.logger.Warn("notes watcher error", zap.Error(err))
		case <-n.done:
			return
		}
	}
}

func (n *Notes) Name() string            { return "notes" }
func (n *Notes) Interval() time.Duration { return notesInterval }

// Poll drains the accumulated change set into events.
func (n *Notes) Poll(ctx context.Context) ([]events.Event, error) {
	n.mu.Lock()
	pending := n.changed
	n.changed = make(map[string]time.Time)
	n.mu.Unlock()

	var out []events.Event
	for path := range pending {
		out = append(out, events.Event{
			Type:     "workspace.note.changed",
			Severity: events.SeverityInfo,
			Message:  fmt.Sprintf("workspace note changed: %s", filepath.Base(path)),
			Metadata: map[string]any{"path": path},
		})
	}
	return out, nil
}

// Close stops the watcher goroutine. Idempotent.
func (n *Notes) Close() error {
	select {
	case <-n.done:
		return nil
	default:
	}
	close(n.done)
	return n.watcher.Close()
}
