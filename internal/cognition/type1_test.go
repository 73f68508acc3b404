package cognition

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tako/internal/events"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(evType, message string, severity events.Severity, source string, metadata map[string]any) events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev := events.Event{ID: int64(len(r.events) + 1), Type: evType, Message: message, Severity: severity, Source: source, Metadata: metadata}
	r.events = append(r.events, ev)
	return ev
}

func (r *recordingPublisher) byType(evType string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.events {
		if ev.Type == evType {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func steady(v float64) func() float64 { return func() float64 { return v } }

func TestAssess_Rules(t *testing.T) {
	cases := []struct {
		name      string
		event     events.Event
		stability float64
		escalate  bool
		depth     Depth
	}{
		{"skips own source type1", events.Event{Type: "x", Severity: events.SeverityError, Source: "type1"}, 0.5, false, ""},
		{"skips own source type2", events.Event{Type: "x", Severity: events.SeverityCritical, Source: "type2"}, 0.5, false, ""},
		{"critical goes deep", events.Event{Type: "runtime.crash", Severity: events.SeverityCritical, Source: "runtime"}, 0.5, true, DepthDeep},
		{"error goes medium", events.Event{Type: "chat.failed", Severity: events.SeverityError, Source: "session"}, 0.5, true, DepthMedium},
		{"instance lock goes deep", events.Event{Type: "runtime.start", Severity: events.SeverityInfo, Source: "runtime", Message: "another tako instance is running"}, 0.5, true, DepthDeep},
		{"health warn uneasy goes medium", events.Event{Type: "health.check.issue.dose", Severity: events.SeverityWarn, Source: "health"}, 0.40, true, DepthMedium},
		{"health warn steady goes light", events.Event{Type: "health.check.issue.dose", Severity: events.SeverityWarn, Source: "health"}, 0.85, true, DepthLight},
		{"crash info goes medium", events.Event{Type: "runtime.crash.xmtp", Severity: events.SeverityInfo, Source: "runtime"}, 0.5, true, DepthMedium},
		{"polling warn uneasy goes medium", events.Event{Type: "runtime.polling.slow", Severity: events.SeverityWarn, Source: "runtime"}, 0.40, true, DepthMedium},
		{"polling warn steady goes light", events.Event{Type: "runtime.polling.slow", Severity: events.SeverityWarn, Source: "runtime"}, 0.85, true, DepthLight},
		{"reconnect cautious goes light", events.Event{Type: "runtime.reconnect", Severity: events.SeverityInfo, Source: "runtime"}, 0.30, true, DepthLight},
		{"reconnect steady ignored", events.Event{Type: "runtime.reconnect", Severity: events.SeverityInfo, Source: "runtime"}, 0.60, false, ""},
		{"plain info ignored", events.Event{Type: "chat.message", Severity: events.SeverityInfo, Source: "session"}, 0.5, false, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := NewTriage(&recordingPublisher{}, steady(tc.stability), nil)
			escalate, depth, reason := tr.assess(tc.event)
			require.Equal(t, tc.escalate, escalate)
			if tc.escalate {
				require.Equal(t, tc.depth, depth)
				require.NotEmpty(t, reason)
			}
		})
	}
}

func TestTriage_EscalatesOncePerEventID(t *testing.T) {
	pub := &recordingPublisher{}
	tr := NewTriage(pub, steady(0.5), nil)

	ev := events.Event{ID: 7, Type: "runtime.crash", Severity: events.SeverityError, Source: "runtime", Message: "boom"}
	tr.handle(ev)
	tr.handle(ev)

	require.Len(t, pub.byType("type1.escalation"), 1)
	require.Len(t, tr.tasks, 1)

	task := <-tr.tasks
	require.Equal(t, int64(7), task.Event.ID)
	require.Equal(t, DepthMedium, task.Depth)
}

func TestTriage_RunDrainsSubscribedEvents(t *testing.T) {
	pub := &recordingPublisher{}
	tr := NewTriage(pub, steady(0.5), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	tr.OnEvent(events.Event{ID: 1, Type: "runtime.crash", Severity: events.SeverityError, Source: "runtime"})

	select {
	case task := <-tr.Tasks():
		require.Equal(t, int64(1), task.Event.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("escalation never reached the type2 queue")
	}
	require.Len(t, pub.byType("type1.escalation"), 1)
}
