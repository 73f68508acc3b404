// Package events implements the cognition event record, the append-only
// JSONL audit log, and the in-memory fan-out bus connecting producers
// (sensors, heartbeat, runtime) to subscribers (DOSE folding, Type1 triage).
package events

import (
	"strings"
	"time"
)

// Severity classifies an event for triage.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Event is an immutable cognition record. IDs are strictly increasing
// across the process lifetime and the log write precedes delivery.
type Event struct {
	ID       int64          `json:"id"`
	TS       time.Time      `json:"ts"`
	Type     string         `json:"type"`
	Severity Severity       `json:"severity"`
	Source   string         `json:"source"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Sanitize reduces a message to a single line with control characters
// stripped. Applied to every published message before it reaches the log.
func Sanitize(message string) string {
	var b strings.Builder
	b.Grow(len(message))
	lastSpace := false
	for _, r := range message {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		case r < 0x20 || r == 0x7f:
			// control character, drop
		default:
			b.WriteRune(r)
			lastSpace = r == ' '
		}
	}
	return strings.TrimSpace(b.String())
}

// normalizeSeverity coerces unknown severities to info so a bad producer
// cannot wedge triage.
func normalizeSeverity(s Severity) Severity {
	switch s {
	case SeverityInfo, SeverityWarn, SeverityError, SeverityCritical:
		return s
	default:
		return SeverityInfo
	}
}
