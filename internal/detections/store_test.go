package detections

import (
	"testing"
	"time"

	"tagfinder/internal/model"
)

func mkDetection(i int, ts time.Time) model.Detection {
	return model.Detection{Timestamp: ts, Address: "AA:BB:CC:DD:EE:FF", Score: i}
}

func TestStoreBounded(t *testing.T) {
	s := NewStore(3)
	base := time.Now()
	for i := 1; i <= 5; i++ {
		s.Add(mkDetection(i, base.Add(time.Duration(i)*time.Second)))
	}
	got := s.List(0)
	if len(got) != 3 {
		t.Fatalf("len: %d", len(got))
	}
	if got[0].Score != 3 || got[2].Score != 5 {
		t.Fatalf("oldest entries must evict first: %+v", got)
	}
}

func TestStoreListLimit(t *testing.T) {
	s := NewStore(10)
	base := time.Now()
	for i := 1; i <= 4; i++ {
		s.Add(mkDetection(i, base))
	}
	got := s.List(2)
	if len(got) != 2 || got[0].Score != 3 || got[1].Score != 4 {
		t.Fatalf("list(2): %+v", got)
	}
	if len(s.List(100)) != 4 {
		t.Fatalf("limit over size must return everything")
	}
}

func TestStoreSince(t *testing.T) {
	s := NewStore(10)
	base := time.Now()
	s.Add(mkDetection(1, base.Add(-time.Minute)))
	s.Add(mkDetection(2, base))
	s.Add(mkDetection(3, base.Add(time.Minute)))
	got := s.Since(base)
	if len(got) != 2 {
		t.Fatalf("since: %+v", got)
	}
}

func TestStoreClear(t *testing.T) {
	s := NewStore(5)
	s.Add(mkDetection(1, time.Now()))
	s.Clear()
	if len(s.List(0)) != 0 {
		t.Fatalf("clear must drop everything")
	}
	s.Add(mkDetection(2, time.Now()))
	if len(s.List(0)) != 1 {
		t.Fatalf("store must stay usable after clear")
	}
}
