package session

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task is one operator-tracked item. Short ids (first uuid group) keep
// `done <id>` typeable.
type Task struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	DoneAt    *time.Time `json:"done_at,omitempty"`
}

func (t Task) Open() bool { return t.DoneAt == nil }

// TaskStore persists tasks as a single JSON file under state/.
type TaskStore struct {
	path string

	mu    sync.Mutex
	tasks []Task
}

func OpenTaskStore(path string) (*TaskStore, error) {
	s := &TaskStore{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read task store: %w", err)
	}
	if err := json.Unmarshal(data, &s.tasks); err != nil {
		return nil, fmt.Errorf("parse task store: %w", err)
	}
	return s, nil
}

// Add creates a task and returns it.
func (s *TaskStore) Add(title string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := Task{
		ID:        strings.SplitN(uuid.NewString(), "-", 2)[0],
		Title:     strings.TrimSpace(title),
		CreatedAt: time.Now().UTC(),
	}
	s.tasks = append(s.tasks, task)
	return task, s.persist()
}

// Done marks a task complete by id or unambiguous id prefix.
func (s *TaskStore) Done(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i, t := range s.tasks {
		if t.Open() && strings.HasPrefix(t.ID, id) {
			if idx >= 0 {
				return Task{}, fmt.Errorf("task id %q is ambiguous", id)
			}
			idx = i
		}
	}
	if idx < 0 {
		return Task{}, fmt.Errorf("no open task matches %q", id)
	}
	now := time.Now().UTC()
	s.tasks[idx].DoneAt = &now
	return s.tasks[idx], s.persist()
}

// List returns tasks, open ones first, newest within each group.
func (s *TaskStore) List(openOnly bool) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if openOnly && !t.Open() {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Open() != out[j].Open() {
			return out[i].Open()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// OpenCount reports how many tasks remain open.
func (s *TaskStore) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if t.Open() {
			n++
		}
	}
	return n
}

func (s *TaskStore) persist() error {
	data, err := json.MarshalIndent(s.tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("encode task store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write task store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write task store: %w", err)
	}
	return nil
}
