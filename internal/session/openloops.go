package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"tako/internal/events"
)

const recentSignalWindow = 2 * time.Hour

// OpenLoops is the derived index of outstanding work: open tasks,
// blank daily outcomes, and recent warn/error signals. It is recomputed
// on every heartbeat tick and persisted to state/open_loops.json purely
// as a convenience; the file is safe to delete.
type OpenLoops struct {
	Computed      time.Time `json:"computed"`
	OpenTasks     []string  `json:"open_tasks"`
	OutcomesBlank bool      `json:"outcomes_blank"`
	RecentSignals []string  `json:"recent_signals"`
}

// Count is the scalar shown by the status surface.
func (l OpenLoops) Count() int {
	n := len(l.OpenTasks) + len(l.RecentSignals)
	if l.OutcomesBlank {
		n++
	}
	return n
}

// LoopComputer recomputes and caches the open-loops view. It also
// subscribes to the bus to keep a ring of recent warn/error signals.
type LoopComputer struct {
	path     string
	tasks    *TaskStore
	outcomes *OutcomeStore
	now      func() time.Time

	mu      sync.Mutex
	signals []events.Event
	current OpenLoops
}

func NewLoopComputer(path string, tasks *TaskStore, outcomes *OutcomeStore) *LoopComputer {
	return &LoopComputer{path: path, tasks: tasks, outcomes: outcomes, now: time.Now}
}

func (c *LoopComputer) Name() string { return "open-loops" }

// OnEvent keeps warn and error signals for the recent window.
func (c *LoopComputer) OnEvent(ev events.Event) {
	if ev.Severity != events.SeverityWarn && ev.Severity != events.SeverityError && ev.Severity != events.SeverityCritical {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signals = append(c.signals, ev)
	cutoff := c.now().Add(-recentSignalWindow)
	for len(c.signals) > 0 && c.signals[0].TS.Before(cutoff) {
		c.signals = c.signals[1:]
	}
}

// Recompute rebuilds the derived view and persists it best-effort.
func (c *LoopComputer) Recompute(_ context.Context) error {
	now := c.now()

	var openTitles []string
	for _, t := range c.tasks.List(true) {
		openTitles = append(openTitles, t.Title)
	}

	c.mu.Lock()
	cutoff := now.Add(-recentSignalWindow)
	var recent []string
	for _, ev := range c.signals {
		if !ev.TS.Before(cutoff) {
			recent = append(recent, fmt.Sprintf("[%s] %s: %s", ev.Severity, ev.Type, ev.Message))
		}
	}
	loops := OpenLoops{
		Computed:      now,
		OpenTasks:     openTitles,
		OutcomesBlank: c.outcomes.BlankToday(now),
		RecentSignals: recent,
	}
	c.current = loops
	c.mu.Unlock()

	data, err := json.MarshalIndent(loops, "", "  ")
	if err != nil {
		return fmt.Errorf("encode open loops: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("write open loops: %w", err)
	}
	return nil
}

// Current returns the last computed view.
func (c *LoopComputer) Current() OpenLoops {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
