package session

import (
	"math"
	"time"

	"tagfinder/internal/model"
)

// distanceSample is one (timestamp, estimated distance) point in a device's
// rolling history.
type distanceSample struct {
	ts       time.Time
	rssi     int
	distance float64
}

// analyzeMovement classifies the short-term proximity trend of a device from
// its distance history. A least-squares line is fitted over distance vs.
// time; the slope decides approaching/receding/stationary and the residual
// spread decides whether the signal is too noisy to trust (erratic), which
// overrides the slope read. Confidence is the R-squared of the fit in [0,1].
//
// Fewer than 3 samples is defined as (stationary, 0): not enough history is
// a normal state, never an error.
func analyzeMovement(samples []distanceSample, slopeNoise, dispersionLimit float64) (model.MovementTrend, float64) {
	if len(samples) < 3 {
		return model.TrendStationary, 0
	}

	t0 := samples[0].ts
	n := float64(len(samples))
	var sumX, sumY float64
	for _, s := range samples {
		sumX += s.ts.Sub(t0).Seconds()
		sumY += s.distance
	}
	meanX := sumX / n
	meanY := sumY / n

	var covXY, varX float64
	for _, s := range samples {
		dx := s.ts.Sub(t0).Seconds() - meanX
		covXY += dx * (s.distance - meanY)
		varX += dx * dx
	}
	if varX == 0 {
		// All samples share a timestamp; no trend can be read.
		return model.TrendStationary, 0
	}
	slope := covXY / varX

	var ssRes, ssTot float64
	for _, s := range samples {
		x := s.ts.Sub(t0).Seconds()
		fitted := meanY + slope*(x-meanX)
		ssRes += (s.distance - fitted) * (s.distance - fitted)
		ssTot += (s.distance - meanY) * (s.distance - meanY)
	}
	residStdDev := math.Sqrt(ssRes / n)

	confidence := 0.0
	if ssTot > 0 {
		confidence = 1 - ssRes/ssTot
	} else if residStdDev == 0 {
		// Perfectly flat line: the cleanest possible fit.
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	if residStdDev > dispersionLimit {
		return model.TrendErratic, confidence
	}
	switch {
	case slope < -slopeNoise:
		return model.TrendApproaching, confidence
	case slope > slopeNoise:
		return model.TrendReceding, confidence
	default:
		return model.TrendStationary, confidence
	}
}

// rssiStats returns the mean and standard deviation of the retained RSSI
// readings. The mean feeds the distance estimate (smoothing out per-packet
// fading); the deviation is the signal-stability metric shown to the user.
func rssiStats(samples []distanceSample) (mean, stddev float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s.rssi)
	}
	mean = sum / float64(len(samples))
	if len(samples) < 2 {
		return mean, 0
	}
	var sq float64
	for _, s := range samples {
		d := float64(s.rssi) - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(samples)))
}
