package presence

import (
	"sort"
	"sync"
)

// Entry is one authenticated live connection.
type Entry struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	DisplayName  string `json:"displayName"`
}

type record struct {
	entry Entry
	seq   uint64
}

// Tracker maps connection ids to identities. A user may hold several
// connections; each is tracked on its own.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]record
	seq     uint64
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]record)}
}

// Register records the identity behind connID. Registering an existing
// connection again replaces its identity but keeps its roster position.
func (t *Tracker) Register(connID, userID, displayName string) Entry {
	e := Entry{ConnectionID: connID, UserID: userID, DisplayName: displayName}
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.entries[connID]; ok {
		t.entries[connID] = record{entry: e, seq: prev.seq}
		return e
	}
	t.seq++
	t.entries[connID] = record{entry: e, seq: t.seq}
	return e
}

func (t *Tracker) Unregister(connID string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.entries[connID]
	if !ok {
		return Entry{}, false
	}
	delete(t.entries, connID)
	return rec.entry, true
}

func (t *Tracker) Lookup(connID string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.entries[connID]
	return rec.entry, ok
}

// ListOnline returns a point-in-time copy ordered by registration.
func (t *Tracker) ListOnline() []Entry {
	t.mu.RLock()
	recs := make([]record, 0, len(t.entries))
	for _, rec := range t.entries {
		recs = append(recs, rec)
	}
	t.mu.RUnlock()
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	out := make([]Entry, len(recs))
	for i, rec := range recs {
		out[i] = rec.entry
	}
	return out
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
