// Package snapshots is the read side of the session: the API and UI consume
// immutable device snapshots from here and never touch live session state.
package snapshots

import (
	"sort"
	"sync"
	"time"

	"tagfinder/internal/model"
)

type Store struct {
	mu        sync.RWMutex
	byAddress map[string]model.DeviceSnapshot
	updatedAt map[string]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 2000
	}
	return &Store{
		byAddress: make(map[string]model.DeviceSnapshot),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

func (s *Store) Update(snap model.DeviceSnapshot) {
	if snap.Address == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byAddress[snap.Address] = snap
	s.updatedAt[snap.Address] = time.Now().UTC()
	if len(s.byAddress) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(address string) (model.DeviceSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.byAddress[address]
	return snap, ok
}

// List returns all snapshots sorted by signal strength, strongest first,
// matching how the devices table is presented.
func (s *Store) List() []model.DeviceSnapshot {
	s.mu.RLock()
	out := make([]model.DeviceSnapshot, 0, len(s.byAddress))
	for _, snap := range s.byAddress {
		out = append(out, snap)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].RSSI != out[j].RSSI {
			return out[i].RSSI > out[j].RSSI
		}
		return out[i].Address < out[j].Address
	})
	return out
}

func (s *Store) Remove(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byAddress, address)
	delete(s.updatedAt, address)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byAddress = make(map[string]model.DeviceSnapshot)
	s.updatedAt = make(map[string]time.Time)
}

func (s *Store) evictOldest() {
	var oldestAddr string
	var oldest time.Time
	for addr, ts := range s.updatedAt {
		if oldestAddr == "" || ts.Before(oldest) {
			oldestAddr = addr
			oldest = ts
		}
	}
	if oldestAddr != "" {
		delete(s.byAddress, oldestAddr)
		delete(s.updatedAt, oldestAddr)
	}
}
