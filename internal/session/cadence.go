package session

import (
	"bytes"
	"math"
	"time"

	"tagfinder/internal/config"
	"tagfinder/internal/model"
	"tagfinder/internal/ring"
)

// cadenceTracker keeps the arrival rhythm of one device: a bounded history
// of advertisement timestamps plus the last rotation-key fragment. Find-My
// accessories beacon on a tight ~2s cadence and rotate their key roughly
// every 15 minutes; both are strong evidence the scorer consumes.
type cadenceTracker struct {
	arrivals      *ring.Buffer[time.Time]
	lastFragment  []byte
	lastRotation  time.Time
	rotationSeen  bool
	rotationCount int
}

func newCadenceTracker(historySize int) *cadenceTracker {
	return &cadenceTracker{arrivals: ring.New[time.Time](historySize)}
}

// observe records one arrival and returns the updated statistics. The first
// observation for a device yields no gap statistics and both cadence
// booleans false.
func (c *cadenceTracker) observe(ts time.Time, fragment []byte, cfg *config.DetectionConfig) model.CadenceStats {
	stats := model.CadenceStats{}

	if fragment != nil {
		if c.lastFragment != nil && !bytes.Equal(c.lastFragment, fragment) {
			stats.RotationChanged = true
			c.rotationSeen = true
			c.rotationCount++
			c.lastRotation = ts
		}
		if c.lastFragment == nil {
			c.lastRotation = ts
		}
		c.lastFragment = append(c.lastFragment[:0], fragment...)
	}
	stats.RotationObserved = c.rotationSeen
	if !c.lastRotation.IsZero() {
		stats.LastRotationAge = ts.Sub(c.lastRotation)
	}

	c.arrivals.Push(ts)
	window := c.arrivals.Tail(cfg.CadenceWindow)
	stats.Samples = len(window)
	if len(window) < 2 {
		return stats
	}

	mean, variance := gapStats(window)
	stats.MeanGapSeconds = mean
	if variance > 0 {
		stats.GapStdDev = math.Sqrt(variance)
	}
	expected := cfg.ExpectedInterval.Seconds()
	tolerance := cfg.IntervalTolerance.Seconds()
	stats.MatchesExpected = mean >= expected-tolerance && mean <= expected+tolerance
	return stats
}

// gapStats runs a single Welford pass over the inter-arrival gaps.
func gapStats(arrivals []time.Time) (mean, variance float64) {
	var n int
	var m2 float64
	prev := arrivals[0]
	for i := 1; i < len(arrivals); i++ {
		gap := arrivals[i].Sub(prev).Seconds()
		if gap < 0 {
			gap = 0
		}
		n++
		diff := gap - mean
		mean += diff / float64(n)
		m2 += diff * (gap - mean)
		prev = arrivals[i]
	}
	if n == 0 {
		return 0, 0
	}
	return mean, m2 / float64(n)
}
