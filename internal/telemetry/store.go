package telemetry

import "sync"

// Store holds the most recent snapshot. A dirty flag lets a publisher send
// each distinct snapshot exactly once while readers always see the latest.
type Store struct {
	mu    sync.RWMutex
	snap  Snapshot
	have  bool
	dirty bool
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Update(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	s.have = true
	s.dirty = true
}

// Latest returns the most recent snapshot and whether one has ever arrived.
func (s *Store) Latest() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap, s.have
}

// ConsumeDirty returns the latest snapshot if it has changed since the
// previous call, and marks it consumed.
func (s *Store) ConsumeDirty() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return Snapshot{}, false
	}
	s.dirty = false
	return s.snap, true
}
