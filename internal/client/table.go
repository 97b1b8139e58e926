package client

import (
	"sort"
	"strings"
	"sync"
)

// pendingTable stores outstanding requests by request msg_id. Once sealed
// it refuses new entries with the sealing error.
type pendingTable struct {
	mu     sync.RWMutex
	items  map[string]*PendingRequest
	sealed error
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		items: make(map[string]*PendingRequest),
	}
}

func (t *pendingTable) add(p *PendingRequest) (int, error) {
	key := strings.TrimSpace(p.ID())
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed != nil {
		return len(t.items), t.sealed
	}
	if _, ok := t.items[key]; ok {
		return len(t.items), ErrDuplicateID
	}
	t.items[key] = p
	return len(t.items), nil
}

func (t *pendingTable) get(id string) (*PendingRequest, bool) {
	key := strings.TrimSpace(id)
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.items[key]
	return p, ok
}

// remove reports whether id was present and the remaining size.
func (t *pendingTable) remove(id string) (bool, int) {
	key := strings.TrimSpace(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.items[key]
	delete(t.items, key)
	return ok, len(t.items)
}

// drain empties the table, seals it with err and returns what it held. The
// first seal wins.
func (t *pendingTable) drain(err error) []*PendingRequest {
	t.mu.Lock()
	if t.sealed == nil {
		t.sealed = err
	}
	items := t.items
	t.items = make(map[string]*PendingRequest)
	t.mu.Unlock()
	return sortPending(items)
}

func (t *pendingTable) list() []*PendingRequest {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortPending(t.items)
}

func (t *pendingTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

func sortPending(items map[string]*PendingRequest) []*PendingRequest {
	out := make([]*PendingRequest, 0, len(items))
	for _, p := range items {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].queuedAt.Equal(out[j].queuedAt) {
			return out[i].ID() < out[j].ID()
		}
		return out[i].queuedAt.Before(out[j].queuedAt)
	})
	return out
}
