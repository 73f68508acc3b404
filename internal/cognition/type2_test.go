package cognition

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tako/internal/events"
	"tako/internal/workspace"
)

type fakeInference struct {
	ready    bool
	provider string
	text     string
	err      error
	calls    int
	prompts  []string
}

func (f *fakeInference) Ready() bool { return f.ready }
func (f *fakeInference) RunWithFallback(_ context.Context, prompt string, _ time.Duration) (string, string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	return f.provider, f.text, f.err
}

func testReasoner(t *testing.T, pub Publisher, inf Inference, gate bool, cap int) *Reasoner {
	t.Helper()
	paths := workspace.At(t.TempDir())
	require.NoError(t, paths.Ensure())

	r := NewReasoner(ReasonerOptions{
		Publisher: pub,
		Inference: inf,
		GateOpen:  func() bool { return gate },
		DoseLabel: func() string { return "balanced" },
		BudgetCap: func() int { return cap },
		Paths:     paths,
	})
	r.sleep = func(time.Duration) {}
	r.recall = func(context.Context, string, string) string { return "" }
	return r
}

func errorTask(id int64) Task {
	return Task{
		Event:  events.Event{ID: id, Type: "runtime.crash", Severity: events.SeverityError, Source: "runtime", Message: "boom"},
		Depth:  DepthMedium,
		Reason: "error severity",
	}
}

func TestProcess_HeuristicWhenNoProvider(t *testing.T) {
	pub := &recordingPublisher{}
	r := testReasoner(t, pub, &fakeInference{ready: false}, true, 10)

	r.Process(context.Background(), errorTask(1))

	results := pub.byType("type2.result")
	require.Len(t, results, 1)
	require.Equal(t, ProviderHeuristic, results[0].Metadata["provider"])
	rec := results[0].Metadata["recommendation"].(string)
	require.NotEmpty(t, rec)
	require.LessOrEqual(t, len([]rune(rec)), 180)
}

func TestProcess_GateClosedSkipsProvider(t *testing.T) {
	pub := &recordingPublisher{}
	inf := &fakeInference{ready: true, provider: "codex", text: "never used"}
	r := testReasoner(t, pub, inf, false, 10)

	r.Process(context.Background(), errorTask(1))

	require.Zero(t, inf.calls, "gate closed must block provider calls")
	results := pub.byType("type2.result")
	require.Len(t, results, 1)
	require.Equal(t, ProviderGateClosed, results[0].Metadata["provider"])
}

func TestProcess_GateOpenUsesProvider(t *testing.T) {
	pub := &recordingPublisher{}
	inf := &fakeInference{ready: true, provider: "codex", text: "Restart the transport **now**.\nSecond line ignored? no, sanitized"}
	r := testReasoner(t, pub, inf, true, 10)

	r.Process(context.Background(), errorTask(1))

	require.Equal(t, 1, inf.calls)
	require.Contains(t, inf.prompts[0], "runtime.crash")
	require.Contains(t, inf.prompts[0], "Mood: balanced")

	results := pub.byType("type2.result")
	require.Len(t, results, 1)
	require.Equal(t, "codex", results[0].Metadata["provider"])
	rec := results[0].Metadata["recommendation"].(string)
	require.NotContains(t, rec, "*", "markdown must be stripped")
	require.NotContains(t, rec, "\n")
}

func TestProcess_ProviderFailureKeepsHeuristic(t *testing.T) {
	pub := &recordingPublisher{}
	inf := &fakeInference{ready: true, err: errors.New("all providers failed")}
	r := testReasoner(t, pub, inf, true, 10)

	r.Process(context.Background(), errorTask(1))

	results := pub.byType("type2.result")
	require.Len(t, results, 1)
	require.Equal(t, ProviderHeuristic, results[0].Metadata["provider"])
}

func TestProcess_BudgetExhaustionOrdering(t *testing.T) {
	pub := &recordingPublisher{}
	r := testReasoner(t, pub, &fakeInference{}, true, 2)

	for id := int64(1); id <= 3; id++ {
		r.Process(context.Background(), errorTask(id))
	}

	require.Len(t, pub.byType("type2.result"), 2)
	exhausted := pub.byType("type2.budget.exhausted")
	require.Len(t, exhausted, 1)
	require.Equal(t, events.SeverityWarn, exhausted[0].Severity)
	require.Equal(t, int64(3), exhausted[0].Metadata["event_id"])

	// Results strictly precede the exhaustion record.
	types := pub.types()
	require.Equal(t, []string{"type2.result", "type2.result", "type2.budget.exhausted"}, types)
}

func TestBudget_DayRolloverResets(t *testing.T) {
	pub := &recordingPublisher{}
	r := testReasoner(t, pub, &fakeInference{}, true, 1)

	day := time.Date(2026, 5, 1, 22, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return day }

	r.Process(context.Background(), errorTask(1))
	r.Process(context.Background(), errorTask(2)) // exhausted
	require.Equal(t, 1, r.BudgetUsed())

	day = day.Add(4 * time.Hour) // next calendar day
	r.Process(context.Background(), errorTask(3))

	require.Len(t, pub.byType("type2.result"), 2)
	require.Equal(t, 1, r.BudgetUsed())
}

func TestResetBudget(t *testing.T) {
	pub := &recordingPublisher{}
	r := testReasoner(t, pub, &fakeInference{}, true, 1)

	r.Process(context.Background(), errorTask(1))
	require.Equal(t, 1, r.BudgetUsed())

	r.ResetBudget()
	require.Zero(t, r.BudgetUsed())

	r.Process(context.Background(), errorTask(2))
	require.Len(t, pub.byType("type2.result"), 2)
}

func TestProcess_AppendsDailyNote(t *testing.T) {
	pub := &recordingPublisher{}
	r := testReasoner(t, pub, &fakeInference{}, true, 10)

	r.Process(context.Background(), errorTask(1))

	day := time.Now().UTC().Format("2006-01-02")
	data, err := os.ReadFile(r.paths.DailyLogFile(day))
	require.NoError(t, err)
	require.Contains(t, string(data), "type2 (medium, heuristic) on runtime.crash")
}

func TestCleanRecommendation(t *testing.T) {
	long := strings.Repeat("advice ", 60)
	got := cleanRecommendation("# " + long)
	require.LessOrEqual(t, len([]rune(got)), 180)
	require.True(t, strings.HasSuffix(got, "…"))
	require.NotContains(t, got, "#")

	require.Equal(t, "plain advice", cleanRecommendation("  plain\nadvice  "))
}

func TestHeuristicAdvice_Table(t *testing.T) {
	require.Contains(t, heuristicAdvice(events.Event{Type: "runtime.crash.xmtp"}), "Runtime crashed")
	require.Contains(t, heuristicAdvice(events.Event{Type: "health.check.issue.dose"}), "health warning")
	require.Contains(t, heuristicAdvice(events.Event{Type: "runtime.polling.slow"}), "Polling")
	require.Contains(t, heuristicAdvice(events.Event{Type: "anything.else"}), "anything.else")
	require.Contains(t, heuristicAdvice(events.Event{Type: "x", Message: "instance lock held"}), "workspace lock")
}
