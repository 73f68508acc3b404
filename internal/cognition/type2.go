package cognition

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tako/internal/events"
	"tako/internal/notes"
	"tako/internal/redact"
	"tako/internal/workspace"
)

const (
	// ProviderHeuristic marks a recommendation produced without any
	// provider call; ProviderGateClosed marks one where a provider was
	// ready but the inference gate had not opened yet.
	ProviderHeuristic  = "heuristic"
	ProviderGateClosed = "heuristic:gate-closed"

	recommendationMax = 180
	memoryExcerptMax  = 1500
)

var thinkingInterval = map[Depth]time.Duration{
	DepthLight:  150 * time.Millisecond,
	DepthMedium: 400 * time.Millisecond,
	DepthDeep:   900 * time.Millisecond,
}

var depthTimeout = map[Depth]time.Duration{
	DepthLight:  60 * time.Second,
	DepthMedium: 85 * time.Second,
	DepthDeep:   120 * time.Second,
}

// Budget tracks Type2 consumption for one calendar day. The day is
// checked at consumption time so rollover needs no timer.
type Budget struct {
	DayISO string
	Used   int
}

// Reasoner consumes escalations one at a time and answers each with a
// single bounded recommendation event plus a daily-log note.
type Reasoner struct {
	tasks     <-chan Task
	pub       Publisher
	inference Inference
	gateOpen  func() bool
	doseLabel func() string
	budgetCap func() int // per-day allowance from the active life stage
	paths     *workspace.Paths
	logger    *zap.Logger

	now        func() time.Time
	sleep      func(time.Duration)
	recall     func(ctx context.Context, root, query string) string
	memExcerpt func(path string, maxChars int) (string, error)

	mu     sync.Mutex
	budget Budget
}

// ReasonerOptions wires the reasoner's collaborators.
type ReasonerOptions struct {
	Tasks     <-chan Task
	Publisher Publisher
	Inference Inference
	GateOpen  func() bool
	DoseLabel func() string
	BudgetCap func() int
	Paths     *workspace.Paths
	Logger    *zap.Logger
}

func NewReasoner(opts ReasonerOptions) *Reasoner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reasoner{
		tasks:      opts.Tasks,
		pub:        opts.Publisher,
		inference:  opts.Inference,
		gateOpen:   opts.GateOpen,
		doseLabel:  opts.DoseLabel,
		budgetCap:  opts.BudgetCap,
		paths:      opts.Paths,
		logger:     logger,
		now:        time.Now,
		sleep:      time.Sleep,
		recall:     notes.Recall,
		memExcerpt: notes.MemoryExcerpt,
	}
}

// Run consumes tasks until ctx is done; at most one reflection is in
// flight at any moment.
func (r *Reasoner) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-r.tasks:
			r.Process(ctx, task)
		}
	}
}

// Process handles one escalation end to end.
func (r *Reasoner) Process(ctx context.Context, task Task) {
	if !r.consumeBudget() {
		r.pub.Publish("type2.budget.exhausted",
			fmt.Sprintf("daily reasoning budget spent, dropping escalation for event %d", task.Event.ID),
			events.SeverityWarn, "type2",
			map[string]any{"event_id": task.Event.ID, "depth": string(task.Depth)})
		return
	}

	r.sleep(thinkingInterval[task.Depth])

	provider := ProviderHeuristic
	recommendation := heuristicAdvice(task.Event)

	if r.inference != nil && r.inference.Ready() {
		if r.gateOpen() {
			name, text, err := r.inference.RunWithFallback(ctx, r.buildPrompt(ctx, task), depthTimeout[task.Depth])
			if err != nil {
				r.logger.Warn("type2 inference failed, keeping heuristic",
					zap.Int64("event_id", task.Event.ID), zap.Error(err))
			} else if cleaned := cleanRecommendation(text); cleaned != "" {
				provider = name
				recommendation = cleaned
			}
		} else {
			provider = ProviderGateClosed
		}
	}

	r.pub.Publish("type2.result", recommendation, events.SeverityInfo, "type2", map[string]any{
		"event_id":       task.Event.ID,
		"depth":          string(task.Depth),
		"reason":         task.Reason,
		"provider":       provider,
		"recommendation": recommendation,
	})

	note := fmt.Sprintf("type2 (%s, %s) on %s: %s", task.Depth, provider, task.Event.Type, recommendation)
	if err := notes.AppendDailyNote(r.paths, r.now(), note); err != nil {
		r.logger.Warn("type2 daily note failed", zap.Error(err))
	}
}

// consumeBudget rolls the day if it changed, then takes a slot if one
// is left.
func (r *Reasoner) consumeBudget() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	today := r.now().UTC().Format("2006-01-02")
	if r.budget.DayISO != today {
		r.budget = Budget{DayISO: today}
	}
	if r.budget.Used >= r.budgetCap() {
		return false
	}
	r.budget.Used++
	return true
}

// BudgetUsed reports today's consumption for the status surface.
func (r *Reasoner) BudgetUsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	today := r.now().UTC().Format("2006-01-02")
	if r.budget.DayISO != today {
		return 0
	}
	return r.budget.Used
}

// ResetBudget zeroes today's consumption (life-stage change).
func (r *Reasoner) ResetBudget() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.budget = Budget{DayISO: r.now().UTC().Format("2006-01-02")}
}

func (r *Reasoner) buildPrompt(ctx context.Context, task Task) string {
	var b strings.Builder
	b.WriteString("You are the reflection step of a workspace agent. ")
	b.WriteString("Answer with exactly one plain-text recommendation under 180 characters. No markdown.\n\n")
	fmt.Fprintf(&b, "Event: [%s] %s — %s\n", task.Event.Severity, task.Event.Type, task.Event.Message)
	fmt.Fprintf(&b, "Depth: %s (%s)\n", task.Depth, task.Reason)
	if r.doseLabel != nil {
		fmt.Fprintf(&b, "Mood: %s\n", r.doseLabel())
	}
	if excerpt, err := r.memExcerpt(r.paths.MemoryFile(), memoryExcerptMax); err == nil && excerpt != "" {
		b.WriteString("\nMemory:\n")
		b.WriteString(excerpt)
		b.WriteByte('\n')
	}
	if recalled := r.recall(ctx, r.paths.Root, task.Event.Message); recalled != "" {
		b.WriteString("\nRecall:\n")
		b.WriteString(recalled)
		b.WriteByte('\n')
	}
	return b.String()
}

// heuristicAdvice is the no-provider fallback: a frozen event-type →
// advice table.
func heuristicAdvice(ev events.Event) string {
	msg := strings.ToLower(ev.Message)
	switch {
	case strings.Contains(msg, "another tako instance") || strings.Contains(msg, "instance lock"):
		return "Another instance may hold the workspace lock; stop it before continuing."
	case strings.HasPrefix(ev.Type, "runtime.crash"):
		return "Runtime crashed; check logs/runtime.log and restart the affected transport."
	case strings.HasPrefix(ev.Type, "health.check.issue"):
		return "Review the health warning and clear the underlying issue when convenient."
	case strings.HasPrefix(ev.Type, "runtime.polling"):
		return "Polling is lagging; verify network connectivity and provider status."
	case strings.HasPrefix(ev.Type, "runtime.reconnect"):
		return "Transport reconnected; verify nothing was missed while offline."
	case ev.Severity == events.SeverityCritical:
		return "Critical event observed; inspect the event log and act before resuming routines."
	default:
		return fmt.Sprintf("Review event %s and decide whether action is needed.", ev.Type)
	}
}

// cleanRecommendation reduces provider output to the contract: one
// sanitized line, no markdown markers, at most 180 characters, secrets
// scrubbed.
func cleanRecommendation(text string) string {
	line := events.Sanitize(text)
	line = strings.NewReplacer("*", "", "`", "", "#", "", "_", "", ">", "").Replace(line)
	line = strings.Join(strings.Fields(line), " ")
	line = redact.Scrub(line)
	runes := []rune(line)
	if len(runes) > recommendationMax {
		line = strings.TrimSpace(string(runes[:recommendationMax-1])) + "…"
	}
	return line
}
