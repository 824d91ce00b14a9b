package store

import "sync"

// MemStore is an in-memory Store for tests and for sessions that do not
// configure a database path.
type MemStore struct {
	mu   sync.Mutex
	runs []*Run
	byID map[string]*Run
}

// NewMem returns an empty in-memory store.
func NewMem() *MemStore {
	return &MemStore{byID: make(map[string]*Run)}
}

func (m *MemStore) SaveRun(r *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	if old, ok := m.byID[r.ID]; ok {
		*old = cp
		return nil
	}
	m.byID[r.ID] = &cp
	m.runs = append(m.runs, &cp)
	return nil
}

func (m *MemStore) GetRun(id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, ErrNoRun
	}
	cp := *r
	return &cp, nil
}

func (m *MemStore) ListRuns(limit int) ([]*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Run, 0, len(m.runs))
	// Insertion order is oldest first; reverse for newest first.
	for i := len(m.runs) - 1; i >= 0; i-- {
		cp := *m.runs[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemStore) Close() error { return nil }
