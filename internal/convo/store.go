// Package convo keeps per-session rolling turn history for prompt context
// assembly. Persistence under state/conversations/ is best effort; losing
// the files degrades prompt quality but never blocks operation.
package convo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tako/internal/redact"
)

// Turn is one utterance in a session.
type Turn struct {
	Role string    `json:"role"` // "operator" or "tako"
	Text string    `json:"text"`
	TS   time.Time `json:"ts"`
}

// Caps bound the rendered transcript.
type Caps struct {
	MaxTurns int // user turns kept in a render
	MaxChars int // hard character cap, truncated from the oldest end
}

// DefaultCaps mirror the prompt budget the reasoner assembles against.
var DefaultCaps = Caps{MaxTurns: 12, MaxChars: 6000}

// maxStoredTurns bounds the in-memory ring per session.
const maxStoredTurns = 100

// Store maps session keys to bounded turn rings.
type Store struct {
	mu       sync.Mutex
	dir      string // persistence directory, may be empty for memory-only
	sessions map[string][]Turn
	caps     Caps
}

// NewStore builds a store persisting under dir (empty disables persistence).
func NewStore(dir string, caps Caps) *Store {
	if caps.MaxTurns <= 0 {
		caps = DefaultCaps
	}
	return &Store{dir: dir, sessions: make(map[string][]Turn), caps: caps}
}

// Append records a turn and best-effort persists the session file.
func (s *Store) Append(sessionKey, role, text string) {
	s.mu.Lock()
	turns := append(s.sessions[sessionKey], Turn{Role: role, Text: text, TS: time.Now().UTC()})
	if len(turns) > maxStoredTurns {
		turns = turns[len(turns)-maxStoredTurns:]
	}
	s.sessions[sessionKey] = turns
	snapshot := make([]Turn, len(turns))
	copy(snapshot, turns)
	s.mu.Unlock()

	s.persist(sessionKey, snapshot)
}

// History returns a copy of the session's stored turns in order.
func (s *Store) History(sessionKey string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.sessions[sessionKey]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Render formats a bounded transcript for prompt assembly. Secrets are
// masked before formatting; the result honors both the turn cap (counting
// operator turns) and the character cap (truncating from the oldest end).
func (s *Store) Render(sessionKey string) string {
	turns := s.History(sessionKey)
	if len(turns) == 0 {
		return ""
	}

	// Walk backwards collecting up to MaxTurns operator turns.
	start := 0
	operatorTurns := 0
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == "operator" {
			operatorTurns++
			if operatorTurns >= s.caps.MaxTurns {
				start = i
				break
			}
		}
	}

	var b strings.Builder
	for _, t := range turns[start:] {
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(redact.Scrub(t.Text))
		b.WriteString("\n")
	}
	text := b.String()
	if len(text) > s.caps.MaxChars {
		text = text[len(text)-s.caps.MaxChars:]
		// Re-align to a line boundary so the transcript never starts mid-turn.
		if idx := strings.IndexByte(text, '\n'); idx >= 0 && idx < len(text)-1 {
			text = text[idx+1:]
		}
	}
	return text
}

// ResumeLatest seeds sessionKey's ring with the most recently persisted
// session, so a restart keeps its short-term context. No-op when nothing
// was persisted.
func (s *Store) ResumeLatest(sessionKey string) {
	if s.dir == "" {
		return
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	var latest string
	var latestMod time.Time
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latestMod) {
			latestMod = info.ModTime()
			latest = e.Name()
		}
	}
	if latest == "" {
		return
	}
	data, err := os.ReadFile(filepath.Join(s.dir, latest))
	if err != nil {
		return
	}
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return
	}
	s.mu.Lock()
	s.sessions[sessionKey] = turns
	s.mu.Unlock()
}

// Load restores a session ring from disk, if present.
func (s *Store) Load(sessionKey string) {
	if s.dir == "" {
		return
	}
	data, err := os.ReadFile(s.sessionFile(sessionKey))
	if err != nil {
		return
	}
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return
	}
	s.mu.Lock()
	s.sessions[sessionKey] = turns
	s.mu.Unlock()
}

func (s *Store) persist(sessionKey string, turns []Turn) {
	if s.dir == "" {
		return
	}
	data, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		return
	}
	_ = os.MkdirAll(s.dir, 0o755)
	_ = os.WriteFile(s.sessionFile(sessionKey), data, 0o644)
}

func (s *Store) sessionFile(sessionKey string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, sessionKey)
	return filepath.Join(s.dir, fmt.Sprintf("%s.json", safe))
}
