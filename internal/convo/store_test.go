package convo

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndHistoryOrder(t *testing.T) {
	s := NewStore("", DefaultCaps)
	s.Append("main", "operator", "hello")
	s.Append("main", "tako", "hi there")
	s.Append("main", "operator", "status?")

	h := s.History("main")
	require.Len(t, h, 3)
	require.Equal(t, "hello", h[0].Text)
	require.Equal(t, "status?", h[2].Text)
}

func TestRender_TurnCap(t *testing.T) {
	s := NewStore("", Caps{MaxTurns: 2, MaxChars: 100000})
	for i := 0; i < 10; i++ {
		s.Append("main", "operator", fmt.Sprintf("question %d", i))
		s.Append("main", "tako", fmt.Sprintf("answer %d", i))
	}
	out := s.Render("main")
	require.NotContains(t, out, "question 7")
	require.Contains(t, out, "question 8")
	require.Contains(t, out, "question 9")
}

func TestRender_CharCapTruncatesOldest(t *testing.T) {
	s := NewStore("", Caps{MaxTurns: 50, MaxChars: 200})
	s.Append("main", "operator", strings.Repeat("old ", 100))
	s.Append("main", "tako", "recent reply")
	out := s.Render("main")
	require.LessOrEqual(t, len(out), 200)
	require.Contains(t, out, "recent reply")
}

func TestRender_MasksSecrets(t *testing.T) {
	s := NewStore("", DefaultCaps)
	s.Append("main", "operator", "use key sk-supersecretvalue42x please")
	out := s.Render("main")
	require.NotContains(t, out, "supersecretvalue")
}

func TestPersistAndLoad(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, DefaultCaps)
	s.Append("sess-1", "operator", "remember me")

	s2 := NewStore(dir, DefaultCaps)
	s2.Load("sess-1")
	h := s2.History("sess-1")
	require.Len(t, h, 1)
	require.Equal(t, "remember me", h[0].Text)
}

func TestResumeLatest_CarriesNewestSessionForward(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, DefaultCaps)
	s.Append("sess-old", "operator", "stale context")
	s.Append("sess-new", "operator", "fresh context")
	// Re-touch the newer session so its file mtime wins regardless of
	// filesystem timestamp granularity.
	s.Append("sess-new", "tako", "noted")

	s2 := NewStore(dir, DefaultCaps)
	s2.ResumeLatest("sess-restarted")
	h := s2.History("sess-restarted")
	require.Len(t, h, 2)
	require.Equal(t, "fresh context", h[0].Text)
}

func TestResumeLatest_EmptyDirIsQuiet(t *testing.T) {
	s := NewStore(t.TempDir(), DefaultCaps)
	s.ResumeLatest("sess-1")
	require.Empty(t, s.History("sess-1"))
}

func TestRingBound(t *testing.T) {
	s := NewStore("", DefaultCaps)
	for i := 0; i < 300; i++ {
		s.Append("main", "operator", fmt.Sprintf("turn %d", i))
	}
	require.LessOrEqual(t, len(s.History("main")), 100)
}
