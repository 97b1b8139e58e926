package kernel

import (
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/danmuck/jupyterwire/internal/protocol"
)

// HistoryStore serves history_request lookups.
type HistoryStore interface {
	Append(code string) (protocol.HistoryEntry, error)
	// Range returns lines [start, stop) of session; stop <= 0 means the end.
	// Session 0 is the current session.
	Range(session, start, stop int) ([]protocol.HistoryEntry, error)
	Tail(n int) ([]protocol.HistoryEntry, error)
	// Search matches inputs against a glob pattern and keeps the last n
	// (all when n <= 0).
	Search(pattern string, n int, unique bool) ([]protocol.HistoryEntry, error)
}

// MemoryHistory keeps the most recent inputs of one session in memory.
type MemoryHistory struct {
	mu      sync.RWMutex
	session int
	limit   int
	line    int
	entries []protocol.HistoryEntry
}

// NewMemoryHistory keeps at most limit entries; limit <= 0 keeps all.
func NewMemoryHistory(limit int) *MemoryHistory {
	return &MemoryHistory{session: 1, limit: limit}
}

func (h *MemoryHistory) Append(code string) (protocol.HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.line++
	entry := protocol.HistoryEntry{Session: h.session, Line: h.line, Input: code}
	h.entries = append(h.entries, entry)
	if h.limit > 0 && len(h.entries) > h.limit {
		h.entries = append([]protocol.HistoryEntry(nil), h.entries[len(h.entries)-h.limit:]...)
	}
	return entry, nil
}

func (h *MemoryHistory) Range(session, start, stop int) ([]protocol.HistoryEntry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if session == 0 {
		session = h.session
	}
	out := []protocol.HistoryEntry{}
	for _, e := range h.entries {
		if e.Session != session || e.Line < start || (stop > 0 && e.Line >= stop) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (h *MemoryHistory) Tail(n int) ([]protocol.HistoryEntry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return lastN(h.entries, n), nil
}

func (h *MemoryHistory) Search(pattern string, n int, unique bool) ([]protocol.HistoryEntry, error) {
	re, err := globRegexp(pattern)
	if err != nil {
		return nil, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	matched := []protocol.HistoryEntry{}
	seen := make(map[string]bool)
	for i := len(h.entries) - 1; i >= 0; i-- {
		e := h.entries[i]
		if !re.MatchString(e.Input) {
			continue
		}
		if unique {
			if seen[e.Input] {
				continue
			}
			seen[e.Input] = true
		}
		matched = append(matched, e)
		if n > 0 && len(matched) == n {
			break
		}
	}
	slices.Reverse(matched)
	return matched, nil
}

// globRegexp compiles a shell glob where * and ? also match newlines and
// slashes.
func globRegexp(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		pattern = "*"
	}
	quoted := regexp.QuoteMeta(pattern)
	quoted = strings.ReplaceAll(quoted, `\*`, `.*`)
	quoted = strings.ReplaceAll(quoted, `\?`, `.`)
	return regexp.Compile(`(?s)^` + quoted + `$`)
}

func lastN(entries []protocol.HistoryEntry, n int) []protocol.HistoryEntry {
	if n <= 0 || n >= len(entries) {
		return append([]protocol.HistoryEntry{}, entries...)
	}
	return append([]protocol.HistoryEntry{}, entries[len(entries)-n:]...)
}
