package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// Log is the append-only JSONL event log under state/events.jsonl.
// The file is never rewritten in place; one JSON object per line.
type Log struct {
	path string
	file *os.File
}

// OpenLog opens (creating if missing) the event log and returns it together
// with the next event id: one greater than the max id seen in the file.
func OpenLog(path string) (*Log, int64, error) {
	maxID, err := scanMaxID(path)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, 0, fmt.Errorf("open event log: %w", err)
	}
	return &Log{path: path, file: f}, maxID + 1, nil
}

// Append writes one event as a JSON line and flushes it. Callers serialize;
// the bus is the single writer.
func (l *Log) Append(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %d: %w", ev.ID, err)
	}
	data = append(data, '\n')
	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("append event %d: %w", ev.ID, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("flush event log: %w", err)
	}
	return nil
}

// Close releases the underlying file handle.
func (l *Log) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the log file location.
func (l *Log) Path() string { return l.path }

// Rotate archives the current file under archivePath and reopens a fresh
// empty log at the same path. Ids keep increasing across rotations, so
// each archive stays internally ordered. Callers serialize with Append.
func (l *Log) Rotate(archivePath string) error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close event log for rotation: %w", err)
	}
	l.file = nil
	if err := os.Rename(l.path, archivePath); err != nil {
		return fmt.Errorf("archive event log: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen event log: %w", err)
	}
	l.file = f
	return nil
}

// Replay reads every parsable event from a log file in order. Trailing
// partial lines and corrupt lines are skipped, not fatal.
func Replay(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open event log for replay: %w", err)
	}
	defer f.Close()

	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("scan event log: %w", err)
	}
	return out, nil
}

func scanMaxID(path string) (int64, error) {
	evs, err := Replay(path)
	if err != nil {
		return 0, err
	}
	var max int64
	for _, ev := range evs {
		if ev.ID > max {
			max = ev.ID
		}
	}
	return max, nil
}
