package session

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Outcome is one intended result for the day, set during the morning
// routine.
type Outcome struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

type outcomeDay struct {
	DayISO string    `json:"day_iso"`
	Items  []Outcome `json:"items"`
}

// OutcomeStore holds today's intended outcomes. Yesterday's entries are
// discarded on the first touch of a new day.
type OutcomeStore struct {
	path string

	mu  sync.Mutex
	day outcomeDay
}

func OpenOutcomeStore(path string) (*OutcomeStore, error) {
	s := &OutcomeStore{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read outcomes: %w", err)
	}
	if err := json.Unmarshal(data, &s.day); err != nil {
		return nil, fmt.Errorf("parse outcomes: %w", err)
	}
	return s, nil
}

func (s *OutcomeStore) roll(now time.Time) {
	today := now.UTC().Format("2006-01-02")
	if s.day.DayISO != today {
		s.day = outcomeDay{DayISO: today}
	}
}

// Set replaces today's outcomes.
func (s *OutcomeStore) Set(now time.Time, texts []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roll(now)
	s.day.Items = s.day.Items[:0]
	for _, t := range texts {
		if t != "" {
			s.day.Items = append(s.day.Items, Outcome{Text: t})
		}
	}
	return s.persist()
}

// Mark toggles outcome n (1-based) to the given done state.
func (s *OutcomeStore) Mark(now time.Time, n int, done bool) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roll(now)
	if n < 1 || n > len(s.day.Items) {
		return Outcome{}, fmt.Errorf("no outcome %d (have %d)", n, len(s.day.Items))
	}
	s.day.Items[n-1].Done = done
	return s.day.Items[n-1], s.persist()
}

// Today lists today's outcomes.
func (s *OutcomeStore) Today(now time.Time) []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roll(now)
	out := make([]Outcome, len(s.day.Items))
	copy(out, s.day.Items)
	return out
}

// BlankToday reports whether no outcomes are set for today.
func (s *OutcomeStore) BlankToday(now time.Time) bool {
	return len(s.Today(now)) == 0
}

func (s *OutcomeStore) persist() error {
	data, err := json.MarshalIndent(s.day, "", "  ")
	if err != nil {
		return fmt.Errorf("encode outcomes: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write outcomes: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write outcomes: %w", err)
	}
	return nil
}
