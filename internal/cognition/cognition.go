// Package cognition holds the dual-speed reasoning loops: Type1 is
// cheap in-process triage over the event stream, Type2 is a budgeted
// reflection step that may consult an inference provider. Neither loop
// ever performs external side effects; the product is always an event.
package cognition

import (
	"context"
	"time"

	"tako/internal/events"
)

// Depth grades how much reasoning an escalation deserves.
type Depth string

const (
	DepthLight  Depth = "light"
	DepthMedium Depth = "medium"
	DepthDeep   Depth = "deep"
)

// Task is one escalation handed from Type1 to Type2.
type Task struct {
	Event  events.Event
	Depth  Depth
	Reason string
}

// Stability thresholds used by the triage heuristics. All rules that
// soften on a steady mood key off these two constants.
const (
	calmStability     = 0.70
	cautiousStability = 0.45
)

// Publisher is the slice of the event bus cognition needs.
type Publisher interface {
	Publish(evType, message string, severity events.Severity, source string, metadata map[string]any) events.Event
}

// Inference is what Type2 needs from the provider bridge.
type Inference interface {
	Ready() bool
	RunWithFallback(ctx context.Context, prompt string, timeout time.Duration) (provider, text string, err error)
}
