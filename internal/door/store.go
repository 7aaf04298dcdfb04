package door

import (
	"errors"
	"sync"
)

// Store errors.
var (
	ErrNotFound = errors.New("door not found")
)

// Store holds the locally owned canonical door lists keyed by estimate.
// The estimate backend becomes the system of record only after a
// successful sync; until then this is the authoritative copy.
type Store struct {
	mu    sync.RWMutex
	lists map[string][]Record
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{lists: make(map[string][]Record)}
}

// List returns a copy of the canonical list for an estimate, ordered by
// door number ascending. A missing estimate yields an empty list.
func (s *Store) List(estimateID string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneList(s.lists[estimateID])
}

// Replace swaps in a new canonical list for an estimate.
func (s *Store) Replace(estimateID string, doors []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[estimateID] = cloneList(doors)
}

// Update applies a user edit to one door, matched by ID. The door number
// is preserved from the stored record: edits never renumber.
func (s *Store) Update(estimateID string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[estimateID]
	for i := range list {
		if list[i].ID == rec.ID {
			updated := rec.Clone()
			updated.DoorNumber = list[i].DoorNumber
			list[i] = updated
			return nil
		}
	}
	return ErrNotFound
}

// Remove deletes one door by ID. The vacated number is never reassigned;
// gaps in the sequence are expected.
func (s *Store) Remove(estimateID, doorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[estimateID]
	for i := range list {
		if list[i].ID == doorID {
			s.lists[estimateID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func cloneList(in []Record) []Record {
	out := make([]Record, 0, len(in))
	for _, r := range in {
		out = append(out, r.Clone())
	}
	return out
}
