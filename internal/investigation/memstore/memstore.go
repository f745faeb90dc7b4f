// Package memstore provides an in-memory implementation of
// investigation.Store. Suitable for dev/testing.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/linnemanlabs/inquest/internal/investigation"
)

// Store holds versioned investigation states in memory.
type Store struct {
	mu       sync.RWMutex
	versions map[string][]*investigation.State // investigation ID -> saves in order
	byTxn    map[string]string                 // transaction ID -> investigation ID
}

// New initializes an in-memory Store.
func New() *Store {
	return &Store{
		versions: make(map[string][]*investigation.State),
		byTxn:    make(map[string]string),
	}
}

// Save appends a new version of the state and returns it.
func (s *Store) Save(_ context.Context, st *investigation.State) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := st.Clone()
	s.versions[st.InvestigationID] = append(s.versions[st.InvestigationID], cp)
	s.byTxn[st.TransactionID] = st.InvestigationID
	return int64(len(s.versions[st.InvestigationID])), nil
}

// Versions returns how many saves exist for an investigation.
func (s *Store) Versions(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.versions[id])
}

// Get retrieves the latest version by investigation ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*investigation.State, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest(id)
}

// GetByTransaction retrieves the latest state for a transaction. Returns a
// copy.
func (s *Store) GetByTransaction(_ context.Context, transactionID string) (*investigation.State, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byTxn[transactionID]
	if !ok {
		return nil, false, nil
	}
	return s.latest(id)
}

// List returns the latest version of each investigation, most recent first.
func (s *Store) List(_ context.Context, limit int) ([]*investigation.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*investigation.State, 0, len(s.versions))
	for id := range s.versions {
		if st, ok, _ := s.latest(id); ok {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) latest(id string) (*investigation.State, bool, error) {
	saves := s.versions[id]
	if len(saves) == 0 {
		return nil, false, nil
	}
	return saves[len(saves)-1].Clone(), true, nil
}
