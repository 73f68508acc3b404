package sensors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tako/internal/events"
	"tako/internal/workspace"
)

const (
	healthInterval   = 15 * time.Minute
	eventLogSoftByte = 64 << 20 // warn when the log crosses 64MB
	doseStaleAfter   = 24 * time.Hour
)

// Health probes the workspace itself: log growth, state-dir
// writability, snapshot staleness. Each distinct issue is reported at
// most once per calendar day through the seen store.
type Health struct {
	paths *workspace.Paths
	seen  *SeenStore
	now   func() time.Time
}

func NewHealth(paths *workspace.Paths, seen *SeenStore) *Health {
	return &Health{paths: paths, seen: seen, now: time.Now}
}

func (h *Health) Name() string            { return "health" }
func (h *Health) Interval() time.Duration { return healthInterval }

func (h *Health) Poll(ctx context.Context) ([]events.Event, error) {
	var out []events.Event
	day := h.now().UTC().Format("2006-01-02")

	report := func(issue, message string) error {
		fresh, err := h.seen.MarkIfNew(ctx, h.Name(), day+"/"+issue)
		if err != nil {
			return err
		}
		if fresh {
			out = append(out, events.Event{
				Type:     "health.check.issue." + issue,
				Severity: events.SeverityWarn,
				Message:  message,
				Metadata: map[string]any{"issue": issue},
			})
		}
		return nil
	}

	if info, err := os.Stat(h.paths.EventsFile); err == nil && info.Size() > eventLogSoftByte {
		if err := report("eventlog", fmt.Sprintf("event log is %dMB, consider compressing", info.Size()>>20)); err != nil {
			return out, err
		}
	}

	probe := filepath.Join(h.paths.State, ".health-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		if rerr := report("statedir", fmt.Sprintf("state dir not writable: %v", err)); rerr != nil {
			return out, rerr
		}
	} else {
		os.Remove(probe)
	}

	if info, err := os.Stat(h.paths.DoseFile); err == nil && h.now().Sub(info.ModTime()) > doseStaleAfter {
		if err := report("dose", "dose snapshot has not been written for over a day"); err != nil {
			return out, err
		}
	}

	return out, nil
}
