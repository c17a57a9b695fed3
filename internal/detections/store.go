// Package detections keeps a bounded in-memory log of tracker detections
// for the API; long-term history goes to storage.
package detections

import (
	"sync"
	"time"

	"tagfinder/internal/model"
	"tagfinder/internal/ring"
)

type Store struct {
	mu    sync.RWMutex
	buf   *ring.Buffer[model.Detection]
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{buf: ring.New[model.Detection](limit), limit: limit}
}

func (s *Store) Add(d model.Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Push(d)
}

// List returns up to limit newest detections, oldest first. A non-positive
// limit returns everything retained.
func (s *Store) List(limit int) []model.Detection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		return s.buf.Items()
	}
	return s.buf.Tail(limit)
}

func (s *Store) Since(ts time.Time) []model.Detection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Detection, 0)
	for _, d := range s.buf.Items() {
		if !d.Timestamp.Before(ts) {
			out = append(out, d)
		}
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = ring.New[model.Detection](s.limit)
}
