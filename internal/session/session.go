// Package session owns the authoritative per-device state of a scan and
// runs the processing pipeline for every incoming advertisement: decode,
// cadence, score, distance, movement. All five stages are synchronous and
// deterministic; one mutex guards the device map at the ingest/UI boundary
// and readers only ever receive copied snapshots.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tagfinder/internal/advert"
	"tagfinder/internal/config"
	"tagfinder/internal/detections"
	"tagfinder/internal/model"
	"tagfinder/internal/ring"
	"tagfinder/internal/snapshots"
	"tagfinder/internal/storage"
)

var (
	// ErrInvalidCalibration rejects physically implausible reference values
	// at the command boundary; the existing calibration stays in effect.
	ErrInvalidCalibration = errors.New("calibration rssi outside plausible range")
	ErrUnknownDevice      = errors.New("unknown device address")
	ErrUnknownMode        = errors.New("unknown scan mode")
	ErrNoRangeTarget      = errors.New("range_test mode requires a target address")
)

const (
	calibrationMinRSSI = -100
	calibrationMaxRSSI = -20
)

type Session struct {
	logger     *slog.Logger
	snapshots  *snapshots.Store
	detections *detections.Store
	store      storage.Store
	cfg        atomic.Value
	watch      atomic.Value
	cooldown   *cooldown
	dedupe     *dedupeCache

	mu      sync.Mutex
	devices map[string]*deviceRecord
	mode    model.ScanMode
	ranged  *rangeStats
	started time.Time
}

// deviceRecord is the durable per-device aggregate. It is owned exclusively
// by the session and never escapes the lock; the outside world sees
// DeviceSnapshot copies.
type deviceRecord struct {
	address   string
	name      string
	firstSeen time.Time
	lastSeen  time.Time
	payloads  *ring.Buffer[model.DecodedPayload]
	samples   *ring.Buffer[distanceSample]
	cadence   *cadenceTracker
	lastRSSI  int
	score     int
	class     model.Classification
	trend     model.MovementTrend
	trendConf float64
	calRSSI   *int
	pathLoss  float64
}

type rangeStats struct {
	target    string
	samples   int
	min, max  float64
	sum, last float64
	started   time.Time
	lastAt    time.Time
}

func New(cfg *config.Config, logger *slog.Logger, snapshotStore *snapshots.Store, detectionStore *detections.Store, store storage.Store) *Session {
	s := &Session{
		logger:     logger,
		snapshots:  snapshotStore,
		detections: detectionStore,
		store:      store,
		devices:    make(map[string]*deviceRecord),
		mode:       model.ScanMode(cfg.Mode),
		cooldown:   newCooldown(),
		dedupe:     newDedupeCache(),
		started:    time.Now().UTC(),
	}
	s.cfg.Store(cfg)
	s.watch.Store(buildWatchSet(cfg))
	return s
}

func (s *Session) UpdateConfig(cfg *config.Config) {
	s.cfg.Store(cfg)
	s.watch.Store(buildWatchSet(cfg))
}

func (s *Session) config() *config.Config {
	if v := s.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (s *Session) watchSet() *watchSet {
	if v := s.watch.Load(); v != nil {
		if ws, ok := v.(*watchSet); ok {
			return ws
		}
	}
	return nil
}

// Run consumes the ingest channel until the context is cancelled.
func (s *Session) Run(ctx context.Context, in <-chan model.RawAdvertisement) {
	go func() {
		for {
			select {
			case raw := <-in:
				s.ProcessAdvertisement(raw)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ProcessAdvertisement runs the full pipeline for one advertisement and
// returns the updated snapshot of the device. Every input, however
// malformed, yields a well-defined snapshot; nothing here can fail.
func (s *Session) ProcessAdvertisement(raw model.RawAdvertisement) model.DeviceSnapshot {
	cfg := s.config()
	det := &cfg.Detection

	if raw.Timestamp.IsZero() {
		raw.Timestamp = time.Now().UTC()
	}
	payload := advert.Decode(raw.ManufacturerData, raw.CompanyID)

	if det.DedupeWindow > 0 && s.dedupe.seen(hashAdvertisement(raw), time.Now().UTC(), det.DedupeWindow) {
		if snap, ok := s.Snapshot(raw.Address); ok {
			return snap
		}
	}

	ws := s.watchSet()

	s.mu.Lock()
	rec := s.getDevice(raw.Address, raw.Name, raw.Timestamp, det)
	if raw.Timestamp.Before(rec.lastSeen) {
		// Per-address ordering is part of the input contract; a regressed
		// clock from a secondary feed is pinned to the last known instant.
		raw.Timestamp = rec.lastSeen
	}
	rec.lastSeen = raw.Timestamp
	rec.lastRSSI = raw.RSSI
	if raw.Name != "" {
		rec.name = raw.Name
	}
	rec.payloads.Push(payload)

	cadence := rec.cadence.observe(raw.Timestamp, payload.RotationKeyFragment, det)
	rec.score, rec.class = scoreAdvertisement(det.Scores, payload, cadence)

	smoothed, stability := rssiStats(append(rec.samples.Items(), distanceSample{ts: raw.Timestamp, rssi: raw.RSSI}))
	if s.mode == model.ModeAdaptive && raw.RSSI > det.AdaptiveRSSIFloor && stability < det.AdaptiveStability {
		// Strong stable signal: the device is effectively at arm's length,
		// re-anchor its one-meter reference to the smoothed reading.
		cal := int(smoothed)
		rec.calRSSI = &cal
	}
	reference := float64(det.ReferenceRSSI)
	if rec.calRSSI != nil {
		reference = float64(*rec.calRSSI)
	}
	pathLoss := rec.pathLoss
	if pathLoss <= 0 {
		pathLoss = det.PathLossExponent
	}
	distance := estimateDistance(smoothed, reference, pathLoss)
	rec.samples.Push(distanceSample{ts: raw.Timestamp, rssi: raw.RSSI, distance: distance})

	rec.trend, rec.trendConf = analyzeMovement(rec.samples.Items(), det.SlopeNoise, det.DispersionLimit)

	if s.mode == model.ModeRangeTest && s.ranged != nil && normalizeAddr(raw.Address) == normalizeAddr(s.ranged.target) {
		s.ranged.add(distance, raw.Timestamp, cfg.RangeTest.Window)
	}

	snap := rec.snapshot(payload, cadence, smoothed, stability, distance, pathLoss, ws)
	s.mu.Unlock()

	s.snapshots.Update(snap)
	if s.store != nil {
		_ = s.store.SaveDevice(context.Background(), snap)
	}
	s.maybeDetect(cfg, snap, raw.Source)
	return snap
}

func (s *Session) getDevice(address, name string, ts time.Time, det *config.DetectionConfig) *deviceRecord {
	if address == "" {
		address = "unknown"
	}
	if rec, ok := s.devices[address]; ok {
		return rec
	}
	rec := &deviceRecord{
		address:   address,
		name:      name,
		firstSeen: ts,
		lastSeen:  ts,
		payloads:  ring.New[model.DecodedPayload](det.HistorySize),
		samples:   ring.New[distanceSample](det.HistorySize),
		cadence:   newCadenceTracker(det.HistorySize),
		class:     model.ClassNotTracker,
		trend:     model.TrendStationary,
	}
	s.devices[address] = rec
	return rec
}

func (r *deviceRecord) snapshot(payload model.DecodedPayload, cadence model.CadenceStats, smoothed, stability, distance, pathLoss float64, ws *watchSet) model.DeviceSnapshot {
	snap := model.DeviceSnapshot{
		Address:           r.address,
		Name:              r.name,
		Kind:              payload.Kind,
		Classification:    r.class,
		Score:             r.score,
		RSSI:              r.lastRSSI,
		SmoothedRSSI:      smoothed,
		SignalStability:   stability,
		DistanceMeters:    distance,
		Trend:             r.trend,
		TrendConfidence:   r.trendConf,
		BatteryTier:       payload.BatteryTier,
		IsSeparated:       payload.IsSeparated,
		IsPlaySoundActive: payload.IsPlaySoundActive,
		Cadence:           cadence,
		FirstSeen:         r.firstSeen,
		LastSeen:          r.lastSeen,
		SeenForSeconds:    r.lastSeen.Sub(r.firstSeen).Seconds(),
		PathLossExponent:  pathLoss,
		Watched:           ws.isWatched(r.address),
		Ignored:           ws.isIgnored(r.address),
	}
	if r.calRSSI != nil {
		cal := *r.calRSSI
		snap.CalibratedRSSI = &cal
	}
	return snap
}

func (s *Session) maybeDetect(cfg *config.Config, snap model.DeviceSnapshot, source string) {
	if snap.Ignored {
		return
	}
	tracker := snap.Classification != model.ClassNotTracker
	if !tracker && !snap.Watched {
		return
	}
	if !s.cooldown.allow(normalizeAddr(snap.Address), cfg.Detection.DetectionCooldown) {
		return
	}
	d := model.Detection{
		Timestamp:       time.Now().UTC(),
		Address:         snap.Address,
		Kind:            snap.Kind,
		Classification:  snap.Classification,
		Score:           snap.Score,
		DistanceMeters:  snap.DistanceMeters,
		Trend:           snap.Trend,
		TrendConfidence: snap.TrendConfidence,
		Context:         map[string]string{"source": source},
	}
	if snap.Watched {
		d.Context["watched"] = "true"
	}
	s.detections.Add(d)
	if s.logger != nil {
		s.logger.Warn("tracker detected",
			"address", d.Address,
			"classification", d.Classification,
			"score", d.Score,
			"distance_m", fmt.Sprintf("%.2f", d.DistanceMeters),
			"trend", d.Trend,
		)
	}
	if s.store != nil {
		_ = s.store.SaveDetection(context.Background(), d)
	}
}

// Calibrate sets a device's measured RSSI at one meter. Values outside the
// plausible dBm range are rejected and leave the previous calibration (or
// the default reference) in effect.
func (s *Session) Calibrate(address string, rssiAt1m int) error {
	if rssiAt1m < calibrationMinRSSI || rssiAt1m > calibrationMaxRSSI {
		return fmt.Errorf("%w: %d dBm", ErrInvalidCalibration, rssiAt1m)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.devices[address]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, address)
	}
	cal := rssiAt1m
	rec.calRSSI = &cal
	return nil
}

// CalibrateDistance derives the device's path-loss exponent from its current
// smoothed RSSI and a known physical distance to it.
func (s *Session) CalibrateDistance(address string, knownDistance float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.devices[address]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, address)
	}
	smoothed, _ := rssiStats(rec.samples.Items())
	reference := float64(s.config().Detection.ReferenceRSSI)
	if rec.calRSSI != nil {
		reference = float64(*rec.calRSSI)
	}
	n, ok := calibratePathLoss(smoothed, reference, knownDistance)
	if !ok {
		return fmt.Errorf("%w: distance %.2f m", ErrInvalidCalibration, knownDistance)
	}
	rec.pathLoss = n
	return nil
}

// SetMode switches the scan mode. Mode changes affect filtering and the
// adaptive scan hint, never the scoring math.
func (s *Session) SetMode(mode model.ScanMode) error {
	switch mode {
	case model.ModeNormal, model.ModeFindMyOnly, model.ModeAdaptive, model.ModeCalibration, model.ModeRangeTest:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if mode == model.ModeRangeTest {
		target := s.config().RangeTest.Target
		if target == "" {
			return ErrNoRangeTarget
		}
		s.ranged = &rangeStats{target: target, started: time.Now().UTC()}
	}
	s.mode = mode
	return nil
}

func (s *Session) Mode() model.ScanMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// ScanHint derives the adaptive duty-cycle suggestion for the adapter
// layer. The session only reports; radio control stays outside the core.
func (s *Session) ScanHint() model.ScanHint {
	cfg := s.config()
	s.mu.Lock()
	mode := s.mode
	high := 0
	for _, rec := range s.devices {
		if rec.score >= cfg.Detection.Scores.LikelyThreshold {
			high++
		}
	}
	s.mu.Unlock()

	hint := model.ScanHint{
		Mode:           mode,
		DutyCycle:      1.0,
		FindMyFilter:   mode == model.ModeFindMyOnly,
		HighConfidence: high,
	}
	if mode == model.ModeAdaptive {
		// With confirmed trackers in view the radio can duty-cycle down and
		// filter harder; with nothing found it should scan wide open.
		switch {
		case high >= 3:
			hint.DutyCycle = 0.3
			hint.FindMyFilter = true
		case high >= 1:
			hint.DutyCycle = 0.6
		}
	}
	return hint
}

// Snapshot returns a copy of one device's current state.
func (s *Session) Snapshot(address string) (model.DeviceSnapshot, bool) {
	return s.snapshots.Get(address)
}

// Snapshots lists device snapshots. Unless all is set, findmy_only mode
// hides devices that decode to anything other than a Find-My payload; they
// keep being recorded either way.
func (s *Session) Snapshots(all bool) []model.DeviceSnapshot {
	list := s.snapshots.List()
	if all || s.Mode() != model.ModeFindMyOnly {
		return list
	}
	out := list[:0]
	for _, snap := range list {
		if snap.Interesting() {
			out = append(out, snap)
		}
	}
	return out
}

// Summary condenses the current session for reporting.
func (s *Session) Summary() model.Summary {
	list := s.snapshots.List()
	sum := model.Summary{SessionSeconds: time.Since(s.started).Seconds()}
	var total float64
	first := true
	for _, snap := range list {
		sum.TotalDevices++
		if snap.Interesting() {
			sum.TrackerDevices++
		}
		d := snap.DistanceMeters
		total += d
		if first || d < sum.MinMeters {
			sum.MinMeters = d
		}
		if first || d > sum.MaxMeters {
			sum.MaxMeters = d
		}
		if first || d < sum.ClosestMeters {
			sum.ClosestMeters = d
			sum.ClosestAddress = snap.Address
			sum.ClosestRSSI = snap.RSSI
		}
		first = false
	}
	if sum.TotalDevices > 0 {
		sum.AvgMeters = total / float64(sum.TotalDevices)
	}
	return sum
}

// RangeReport returns the range-test statistics, if a test is active.
func (s *Session) RangeReport() (model.RangeReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ranged == nil {
		return model.RangeReport{}, false
	}
	r := s.ranged
	report := model.RangeReport{
		Address:      r.target,
		Samples:      r.samples,
		MinMeters:    r.min,
		MaxMeters:    r.max,
		LastMeters:   r.last,
		StartedAt:    r.started,
		LastSampleAt: r.lastAt,
	}
	if r.samples > 0 {
		report.AvgMeters = r.sum / float64(r.samples)
	}
	return report, true
}

func (r *rangeStats) add(distance float64, ts time.Time, window int) {
	if r.samples == 0 || distance < r.min {
		r.min = distance
	}
	if r.samples == 0 || distance > r.max {
		r.max = distance
	}
	// The window caps the running average so a long test tracks the recent
	// placement rather than the whole history.
	if window > 0 && r.samples >= window {
		r.sum -= r.sum / float64(r.samples)
	} else {
		r.samples++
	}
	r.sum += distance
	r.last = distance
	r.lastAt = ts
}

// ClearStale drops devices not seen within the given duration and returns
// how many were pruned. Records are otherwise never destroyed mid-session.
func (s *Session) ClearStale(olderThan time.Duration) int {
	cutoff := time.Now().UTC().Add(-olderThan)
	s.mu.Lock()
	removed := 0
	for addr, rec := range s.devices {
		if rec.lastSeen.Before(cutoff) {
			delete(s.devices, addr)
			s.snapshots.Remove(addr)
			removed++
		}
	}
	s.mu.Unlock()
	return removed
}

// Reset drops all session state, as when scanning restarts. The cooldown and
// dedupe caches are cleared in place, never reassigned: ProcessAdvertisement
// reads those fields without holding the session mutex.
func (s *Session) Reset() {
	s.mu.Lock()
	s.devices = make(map[string]*deviceRecord)
	s.ranged = nil
	s.started = time.Now().UTC()
	s.mu.Unlock()
	s.cooldown.clear()
	s.dedupe.clear()
	s.snapshots.Clear()
}

func (s *Session) Started() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}
