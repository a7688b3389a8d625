package session

import (
    "context"
    "sort"
    "strings"
    "sync"
    "time"
)

// memstore is the in-process Store used when no REDIS_URL is configured.
// Documents are cloned on the way in and out.
type memstore struct {
    mu sync.RWMutex

    docs     map[string]*Session
    reserved map[string]struct{}
}

var _ Store = (*memstore)(nil)

func NewMemoryStore() Store {
    return &memstore{
        docs:     make(map[string]*Session),
        reserved: make(map[string]struct{}),
    }
}

func (m *memstore) Reserve(ctx context.Context, roomID string) (bool, error) {
    id := strings.TrimSpace(roomID)
    m.mu.Lock()
    defer m.mu.Unlock()
    if _, taken := m.reserved[id]; taken { return false, nil }
    m.reserved[id] = struct{}{}
    return true, nil
}

func (m *memstore) Save(ctx context.Context, s *Session) error {
    if s == nil { return nil }
    m.mu.Lock()
    m.docs[s.RoomID] = s.Clone()
    m.reserved[s.RoomID] = struct{}{}
    m.mu.Unlock()
    return nil
}

func (m *memstore) Load(ctx context.Context, roomID string) (*Session, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if s, ok := m.docs[strings.TrimSpace(roomID)]; ok {
        return s.Clone(), nil
    }
    return nil, nil
}

func (m *memstore) FinishedByUser(ctx context.Context, userID string, limit int) ([]*Session, error) {
    userID = strings.TrimSpace(userID)
    m.mu.RLock()
    var items []*Session
    for _, s := range m.docs {
        if s.Status == StatusFinished && s.HasUser(userID) {
            items = append(items, s.Clone())
        }
    }
    m.mu.RUnlock()
    // FinishedAt desc, then RoomID for a stable order
    sort.Slice(items, func(i, j int) bool {
        if !items[i].FinishedAt.Equal(items[j].FinishedAt) {
            return items[i].FinishedAt.After(items[j].FinishedAt)
        }
        return items[i].RoomID > items[j].RoomID
    })
    if limit > 0 && len(items) > limit {
        items = items[:limit]
    }
    if items == nil { items = []*Session{} }
    return items, nil
}

// memresults keeps stats in memory; development only.
type memresults struct {
    mu       sync.RWMutex
    recorded map[string]struct{}
    stats    map[string]*PlayerStats
    now      func() time.Time
}

var _ ResultRepository = (*memresults)(nil)

func NewMemoryResults() ResultRepository {
    return &memresults{
        recorded: make(map[string]struct{}),
        stats:    make(map[string]*PlayerStats),
        now:      time.Now,
    }
}

func (m *memresults) SaveResult(ctx context.Context, s *Session) error {
    deltas := statDeltas(s)
    if len(deltas) == 0 { return nil }
    m.mu.Lock()
    defer m.mu.Unlock()
    if _, dup := m.recorded[s.RoomID]; dup { return nil }
    m.recorded[s.RoomID] = struct{}{}
    for _, d := range deltas {
        st, ok := m.stats[d.userID]
        if !ok {
            st = &PlayerStats{UserID: d.userID}
            m.stats[d.userID] = st
        }
        st.DisplayName = d.displayName
        st.GamesPlayed++
        st.Wins += d.win
        st.Losses += d.loss
        st.Draws += d.draw
        st.UpdatedAt = m.now()
    }
    return nil
}

func (m *memresults) Stats(ctx context.Context, userID string) (*PlayerStats, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if st, ok := m.stats[strings.TrimSpace(userID)]; ok {
        out := *st
        return &out, nil
    }
    return nil, nil
}
