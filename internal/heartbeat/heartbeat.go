// Package heartbeat is the single scheduler of background cadence:
// heartbeat ticks, DOSE decay, sensor polling, exploration, git
// auto-commit, snapshot persistence, and the periodic update check.
package heartbeat

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tako/internal/dose"
	"tako/internal/events"
	"tako/internal/git"
	"tako/internal/notes"
	"tako/internal/sensors"
	"tako/internal/stage"
	"tako/internal/workspace"
)

const (
	minInterval    = time.Second
	jitterFraction = 0.2
	gitEvery       = 10 * time.Minute
	updateEvery    = 6 * time.Hour
)

// Publisher is the slice of the event bus the scheduler needs.
type Publisher interface {
	Publish(evType, message string, severity events.Severity, source string, metadata map[string]any) events.Event
}

// OpenLoops recomputes the derived outstanding-work index.
type OpenLoops interface {
	Recompute(ctx context.Context) error
}

// ExploreFunc runs one exploration pass and reports the topic it chose
// and how many new world observations it produced.
type ExploreFunc func(ctx context.Context, topic string) (string, int, error)

// UpdateChecker probes for a newer release. Implementations only
// report; the scheduler turns results into events.
type UpdateChecker interface {
	Check(ctx context.Context) (latest string, err error)
}

// Options wires the scheduler's collaborators. Paths, Publisher, and
// Dose are required; the rest degrade to no-ops when nil.
type Options struct {
	Paths     *workspace.Paths
	Publisher Publisher
	Dose      *dose.Engine
	Sensors   *sensors.Set
	Committer *git.AutoCommitter
	OpenLoops OpenLoops
	Explore   ExploreFunc
	Updates   UpdateChecker
	Policy    func() stage.Policy

	Interval      time.Duration
	SnapshotEvery int
	Logger        *zap.Logger
}

// Runtime is the heartbeat scheduler. Start and Stop are idempotent.
type Runtime struct {
	opts Options
	log  *zap.Logger

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	group       *errgroup.Group
	lastLabel   string
	lastTick    time.Time
	lastExplore time.Time
	lastGit     time.Time
	tickCount   int
}

func New(opts Options) *Runtime {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Interval < minInterval {
		opts.Interval = minInterval
	}
	if opts.SnapshotEvery <= 0 {
		opts.SnapshotEvery = 10
	}
	return &Runtime{opts: opts, log: opts.Logger}
}

// Start launches the tick loop and the update-check task.
func (r *Runtime) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	group, loopCtx := errgroup.WithContext(loopCtx)
	r.group = group

	now := time.Now()
	r.lastTick = now
	r.lastExplore = now
	r.lastGit = now
	r.lastLabel = r.opts.Dose.Label()

	group.Go(func() error {
		r.tickLoop(loopCtx)
		return nil
	})
	if r.opts.Updates != nil {
		group.Go(func() error {
			r.updateLoop(loopCtx)
			return nil
		})
	}
}

// Stop halts the loops and waits for them to exit. Idempotent.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel, group := r.cancel, r.group
	r.mu.Unlock()

	cancel()
	_ = group.Wait()
}

// RequestExplore runs the exploration routine immediately, skipping the
// cadence timer.
func (r *Runtime) RequestExplore(ctx context.Context, topic string) (string, int, error) {
	r.mu.Lock()
	r.lastExplore = time.Now()
	r.mu.Unlock()
	return r.explore(ctx, topic)
}

// HandleInput nudges the affective state on operator activity. The UI
// calls this on every submitted turn.
func (r *Runtime) HandleInput(text string) {
	if text == "" {
		return
	}
	r.opts.Dose.ApplyEvent("operator.input", string(events.SeverityInfo), "operator", "operator activity", nil)
}

func (r *Runtime) tickLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(jittered(r.opts.Interval)):
			r.tick(ctx)
		}
	}
}

// tick runs one heartbeat pass. It never lets a step failure escape.
func (r *Runtime) tick(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("heartbeat tick panicked", zap.Any("panic", rec))
			r.opts.Publisher.Publish("runtime.tick.panic", "heartbeat tick panicked",
				events.SeverityError, "heartbeat", map[string]any{"panic": rec})
		}
	}()

	now := time.Now()

	if _, err := notes.EnsureDailyLog(r.opts.Paths, now); err != nil {
		r.log.Warn("daily log ensure failed", zap.Error(err))
	}

	r.mu.Lock()
	dt := now.Sub(r.lastTick)
	r.lastTick = now
	r.tickCount++
	count := r.tickCount
	r.mu.Unlock()

	label := r.opts.Dose.Tick(now, dt)

	if r.opts.OpenLoops != nil {
		if err := r.opts.OpenLoops.Recompute(ctx); err != nil {
			r.log.Warn("open loops recompute failed", zap.Error(err))
		}
	}

	r.mu.Lock()
	labelChanged := label != r.lastLabel
	r.lastLabel = label
	r.mu.Unlock()
	if labelChanged {
		r.opts.Publisher.Publish("dose.mode.changed", "mood is now "+label,
			events.SeverityInfo, "dose", map[string]any{"label": label})
		if err := dose.Save(r.opts.Paths.DoseFile, r.opts.Dose.Snapshot()); err != nil {
			r.log.Warn("dose snapshot failed", zap.Error(err))
		}
	}

	r.maybeCommit(ctx, now)
	r.maybeExplore(ctx, now)

	if count%r.opts.SnapshotEvery == 0 {
		if err := dose.Save(r.opts.Paths.DoseFile, r.opts.Dose.Snapshot()); err != nil {
			r.log.Warn("dose snapshot failed", zap.Error(err))
		}
	}

	if r.opts.Sensors != nil {
		r.opts.Sensors.PollDue(ctx, now, r.opts.Publisher)
	}
}

func (r *Runtime) maybeCommit(ctx context.Context, now time.Time) {
	if r.opts.Committer == nil {
		return
	}
	r.mu.Lock()
	due := now.Sub(r.lastGit) >= gitEvery
	if due {
		r.lastGit = now
	}
	r.mu.Unlock()
	if !due {
		return
	}

	res, err := r.opts.Committer.Commit(ctx, "tako: workspace checkpoint")
	if err != nil {
		r.opts.Publisher.Publish("workspace.git.failed", "auto-commit failed: "+err.Error(),
			events.SeverityWarn, "heartbeat", nil)
		return
	}
	if res.IdentityMissing {
		r.opts.Publisher.Publish("workspace.git.identity",
			"git identity is not configured; run git config user.name and user.email",
			events.SeverityWarn, "heartbeat", nil)
	}
	if res.Committed {
		r.opts.Publisher.Publish("workspace.git.committed", "workspace checkpoint committed",
			events.SeverityInfo, "heartbeat", nil)
	}
}

func (r *Runtime) maybeExplore(ctx context.Context, now time.Time) {
	if r.opts.Explore == nil || r.opts.Policy == nil {
		return
	}
	interval := r.opts.Policy().ExploreInterval
	if interval <= 0 {
		return
	}
	r.mu.Lock()
	due := now.Sub(r.lastExplore) >= interval
	if due {
		r.lastExplore = now
	}
	r.mu.Unlock()
	if !due {
		return
	}
	if _, _, err := r.explore(ctx, ""); err != nil {
		r.log.Warn("exploration failed", zap.Error(err))
	}
}

func (r *Runtime) explore(ctx context.Context, topic string) (string, int, error) {
	if r.opts.Explore == nil {
		return "", 0, nil
	}
	selected, fresh, err := r.opts.Explore(ctx, topic)
	if err != nil {
		r.opts.Publisher.Publish("explore.failed", "exploration failed: "+err.Error(),
			events.SeverityWarn, "heartbeat", nil)
		return "", 0, err
	}
	r.opts.Publisher.Publish("explore.completed", "explored "+selected,
		events.SeverityInfo, "heartbeat",
		map[string]any{"topic": selected, "new_world_count": fresh})
	return selected, fresh, nil
}

func (r *Runtime) updateLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(jittered(updateEvery)):
			latest, err := r.opts.Updates.Check(ctx)
			if err != nil {
				r.log.Debug("update check failed", zap.Error(err))
				continue
			}
			if latest != "" {
				r.opts.Publisher.Publish("update.available", "a newer release is available: "+latest,
					events.SeverityInfo, "heartbeat", map[string]any{"version": latest})
			}
		}
	}
}

// jittered spreads a cadence by ±20% so independent loops do not
// synchronize. Results never drop below the minimum interval.
func jittered(d time.Duration) time.Duration {
	spread := 1 - jitterFraction + 2*jitterFraction*rand.Float64()
	out := time.Duration(float64(d) * spread)
	if out < minInterval {
		out = minInterval
	}
	return out
}
