package cognition

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"tako/internal/events"
)

const (
	type1QueueSize = 256
	type2QueueSize = 64
	maxSeenIDs     = 8192
)

// Triage is the single consumer of the Type1 queue. It subscribes to
// the bus, classifies each event, and hands escalations to Type2.
// Escalation is at most once per event id.
type Triage struct {
	queue     chan events.Event
	tasks     chan Task
	pub       Publisher
	stability func() float64
	logger    *zap.Logger

	mu   sync.Mutex
	seen map[int64]struct{}
}

// NewTriage builds the triage loop. stability reports the current DOSE
// steadiness channel; it is consulted per assessment.
func NewTriage(pub Publisher, stability func() float64, logger *zap.Logger) *Triage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Triage{
		queue:     make(chan events.Event, type1QueueSize),
		tasks:     make(chan Task, type2QueueSize),
		pub:       pub,
		stability: stability,
		logger:    logger,
	}
}

// Tasks is the escalation queue Type2 consumes.
func (t *Triage) Tasks() <-chan Task { return t.tasks }

func (t *Triage) Name() string { return "type1" }

// OnEvent enqueues without blocking the bus. A full queue drops the
// event; the drop itself is reported off the publish path so the bus
// lock is never re-entered.
func (t *Triage) OnEvent(ev events.Event) {
	select {
	case t.queue <- ev:
	default:
		t.logger.Warn("type1 queue full, dropping event", zap.Int64("event_id", ev.ID))
		go t.pub.Publish("type1.queue.dropped", "type1 queue full, event dropped",
			events.SeverityWarn, "type1", map[string]any{"event_id": ev.ID})
	}
}

// Run drains the queue until ctx is done. The loop never dies: every
// event is assessed inside the select and failures stay local.
func (t *Triage) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-t.queue:
			t.handle(ev)
		}
	}
}

func (t *Triage) handle(ev events.Event) {
	escalate, depth, reason := t.assess(ev)
	if !escalate {
		return
	}
	if !t.markEscalated(ev.ID) {
		return
	}

	t.pub.Publish("type1.escalation",
		"escalating "+ev.Type+": "+reason,
		events.SeverityInfo, "type1",
		map[string]any{"event_id": ev.ID, "depth": string(depth), "reason": reason})

	select {
	case t.tasks <- Task{Event: ev, Depth: depth, Reason: reason}:
	default:
		t.logger.Warn("type2 queue full, escalation dropped", zap.Int64("event_id", ev.ID))
	}
}

// assess classifies one event. Returns whether to escalate, at what
// depth, and a human reason.
func (t *Triage) assess(ev events.Event) (bool, Depth, string) {
	if ev.Source == "type1" || ev.Source == "type2" {
		return false, "", ""
	}

	msg := strings.ToLower(ev.Message)
	if strings.Contains(msg, "another tako instance") || strings.Contains(msg, "instance lock") {
		return true, DepthDeep, "duplicate-instance risk"
	}

	switch ev.Severity {
	case events.SeverityCritical:
		return true, DepthDeep, "critical severity"
	case events.SeverityError:
		return true, DepthMedium, "error severity"
	}

	switch {
	case strings.HasPrefix(ev.Type, "health.check.issue"):
		if ev.Severity == events.SeverityWarn {
			if t.stability() > calmStability {
				return true, DepthLight, "health issue, steady mood"
			}
			return true, DepthMedium, "health issue"
		}
	case strings.HasPrefix(ev.Type, "runtime.crash"):
		return true, DepthMedium, "runtime crash"
	case strings.HasPrefix(ev.Type, "runtime.polling"):
		if ev.Severity == events.SeverityWarn {
			if t.stability() > calmStability {
				return true, DepthLight, "polling lag, steady mood"
			}
			return true, DepthMedium, "polling lag"
		}
	case strings.HasPrefix(ev.Type, "runtime.reconnect"):
		if t.stability() < cautiousStability {
			return true, DepthLight, "reconnect while uneasy"
		}
	}

	return false, "", ""
}

// markEscalated records the id and reports whether it was new.
func (t *Triage) markEscalated(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen == nil {
		t.seen = make(map[int64]struct{})
	}
	if _, dup := t.seen[id]; dup {
		return false
	}
	// Ids are monotonic, so once the set is large the old half can
	// never recur; start fresh rather than tracking order.
	if len(t.seen) >= maxSeenIDs {
		t.seen = make(map[int64]struct{})
	}
	t.seen[id] = struct{}{}
	return true
}
