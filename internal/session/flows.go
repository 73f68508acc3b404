package session

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Flow is a multi-turn interaction that temporarily captures input.
// Feed returns done=true when the flow releases the router.
type Flow interface {
	Prompt() string
	Feed(ctx context.Context, text string) (Reply, bool)
}

// morningFlow collects up to three daily outcomes, one per line.
// "done" or an empty line finishes early; "cancel" abandons the flow.
type morningFlow struct {
	s     *Session
	items []string
}

func newMorningFlow(s *Session) *morningFlow { return &morningFlow{s: s} }

func (f *morningFlow) Prompt() string {
	if len(f.items) == 0 {
		return "Good morning. What are today's outcomes? (up to 3, one per line; 'done' to finish)"
	}
	return "Next outcome? ('done' to finish)"
}

func (f *morningFlow) Feed(_ context.Context, text string) (Reply, bool) {
	trimmed := strings.TrimSpace(text)
	switch strings.ToLower(trimmed) {
	case "cancel":
		return textReply("Okay, no outcomes set."), true
	case "", "done":
		return f.finish()
	}
	f.items = append(f.items, trimmed)
	if len(f.items) >= 3 {
		return f.finish()
	}
	return textReply(f.Prompt()), false
}

func (f *morningFlow) finish() (Reply, bool) {
	if len(f.items) == 0 {
		return textReply("No outcomes set for today."), true
	}
	if err := f.s.outcomes.Set(time.Now(), f.items); err != nil {
		return errReply("could not save outcomes: " + err.Error()), true
	}
	var b strings.Builder
	b.WriteString("Today's outcomes:\n")
	for i, it := range f.items {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, it)
	}
	return textReply(strings.TrimRight(b.String(), "\n")), true
}
