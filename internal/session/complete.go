package session

import (
	"sort"
	"strings"
)

// SplitBuffer derives the completion context from the current input
// buffer: the untouched prefix, the token under completion, and whether
// the slash catalog applies.
func SplitBuffer(buffer string) (prefix, token string, isSlash bool) {
	i := strings.LastIndexByte(buffer, ' ')
	prefix, token = buffer[:i+1], buffer[i+1:]
	if strings.HasPrefix(token, "/") {
		return prefix, strings.TrimPrefix(token, "/"), true
	}
	return prefix, token, false
}

// Complete returns the sorted catalog names starting with the token in
// the current buffer. Slash tokens complete against the full command
// catalog, bare tokens against the plain whitelist; mid-line bare
// tokens complete against nothing.
func (s *Session) Complete(buffer string) (prefix string, matches []string) {
	prefix, token, isSlash := SplitBuffer(buffer)
	switch {
	case isSlash:
		for name := range s.cmds.byName {
			if strings.HasPrefix(name, token) {
				matches = append(matches, "/"+name)
			}
		}
	case prefix == "":
		for name := range s.cmds.plain {
			if strings.HasPrefix(name, token) {
				matches = append(matches, name)
			}
		}
	}
	sort.Strings(matches)
	return prefix, matches
}

// Completer cycles a match set on repeated Tab presses, preserving the
// prefix. A buffer change resets the rotation.
type Completer struct {
	s       *Session
	buffer  string
	matches []string
	prefix  string
	next    int
}

func NewCompleter(s *Session) *Completer { return &Completer{s: s} }

// Tab returns the next suggested buffer and the full match list for
// rendering, or ok=false when nothing completes.
func (c *Completer) Tab(buffer string) (suggestion string, matches []string, ok bool) {
	rotating := len(c.matches) > 0 && c.isRotation(buffer)
	if !rotating {
		c.prefix, c.matches = c.s.Complete(buffer)
		c.next = 0
		c.buffer = buffer
	}
	if len(c.matches) == 0 {
		return "", nil, false
	}
	suggestion = c.prefix + c.matches[c.next]
	c.next = (c.next + 1) % len(c.matches)
	return suggestion, c.matches, true
}

// isRotation reports whether the buffer is one of our own suggestions,
// meaning Tab was pressed again without edits.
func (c *Completer) isRotation(buffer string) bool {
	if buffer == c.buffer {
		return true
	}
	for _, m := range c.matches {
		if buffer == c.prefix+m {
			return true
		}
	}
	return false
}
