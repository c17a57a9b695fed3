package session

import "math"

// minDistanceMeters floors the estimate so RSSI readings stronger than the
// reference can never produce a zero or negative distance.
const minDistanceMeters = 0.01

// estimateDistance converts a received signal strength into meters using the
// log-distance path-loss model:
//
//	distance = 10 ^ ((referenceRSSI - rssi) / (10 * pathLossExponent))
//
// referenceRSSI is the expected reading at one meter (default -59 dBm for
// BLE, overridden per device by calibration). The result is always finite
// and positive; estimate(referenceRSSI) is exactly 1 meter.
func estimateDistance(rssi, referenceRSSI, pathLossExponent float64) float64 {
	if pathLossExponent <= 0 {
		pathLossExponent = 2.0
	}
	d := math.Pow(10, (referenceRSSI-rssi)/(10*pathLossExponent))
	if math.IsNaN(d) || math.IsInf(d, 0) || d < minDistanceMeters {
		return minDistanceMeters
	}
	return d
}

// calibratePathLoss derives a per-device path-loss exponent from a reading
// taken at a known distance. Returns false when the inputs cannot anchor
// the model (distance at or under one meter degenerates).
func calibratePathLoss(smoothedRSSI, referenceRSSI, knownDistance float64) (float64, bool) {
	if knownDistance <= 0 || knownDistance == 1 {
		return 0, false
	}
	n := math.Abs((referenceRSSI - smoothedRSSI) / (10 * math.Log10(knownDistance)))
	if math.IsNaN(n) || math.IsInf(n, 0) || n <= 0 {
		return 0, false
	}
	return n, true
}
