package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"tagfinder/internal/advert"
	"tagfinder/internal/config"
	"tagfinder/internal/detections"
	"tagfinder/internal/model"
	"tagfinder/internal/snapshots"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Detection.DetectionCooldown = 0
	cfg.Detection.DedupeWindow = 0
	return cfg
}

func newSessionForTest(cfg *config.Config) (*Session, *detections.Store) {
	det := detections.NewStore(100)
	return New(cfg, nil, snapshots.NewStore(100), det, nil), det
}

// registeredFrame builds the manufacturer data of a registered Find-My
// network advertisement with the given status and key fragment prefix.
func registeredFrame(status byte, fragment ...byte) []byte {
	data := make([]byte, 27)
	data[0] = 0x12
	data[1] = 0x19
	data[2] = status
	for i := 0; i < len(fragment) && i < 24; i++ {
		data[3+i] = fragment[i]
	}
	return data
}

func feedRegistered(s *Session, address string, count int, base time.Time, status byte) model.DeviceSnapshot {
	var snap model.DeviceSnapshot
	for i := 0; i < count; i++ {
		snap = s.ProcessAdvertisement(model.RawAdvertisement{
			Address:          address,
			RSSI:             -62,
			CompanyID:        advert.AppleCompanyID,
			ManufacturerData: registeredFrame(status, 0xAA, 0xBB),
			Timestamp:        base.Add(time.Duration(i) * 2 * time.Second),
			Source:           "test",
		})
	}
	return snap
}

func TestSessionDetectsSteadyAirTag(t *testing.T) {
	cfg := testConfig()
	sess, detStore := newSessionForTest(cfg)
	base := time.Now().Add(-time.Minute)

	snap := feedRegistered(sess, "AA:BB:CC:DD:EE:FF", 10, base, 0x00)

	if snap.Kind != model.KindAirTagRegistered {
		t.Fatalf("kind: %s", snap.Kind)
	}
	if !snap.Cadence.MatchesExpected {
		t.Fatalf("steady 2s cadence should match: %+v", snap.Cadence)
	}
	// 60 base + 15 cadence + 10 status = 85, above the confirmed threshold.
	if snap.Score != 85 || snap.Classification != model.ClassConfirmedAirTag {
		t.Fatalf("score %d class %s", snap.Score, snap.Classification)
	}
	if snap.BatteryTier != model.BatteryFull {
		t.Fatalf("battery: %s", snap.BatteryTier)
	}
	if snap.IsSeparated || snap.IsPlaySoundActive {
		t.Fatalf("status 0x00 must not set flags")
	}
	if snap.DistanceMeters <= 0 {
		t.Fatalf("distance: %f", snap.DistanceMeters)
	}
	if len(detStore.List(0)) == 0 {
		t.Fatalf("expected a detection")
	}
}

func TestSessionRotationBonus(t *testing.T) {
	cfg := testConfig()
	sess, _ := newSessionForTest(cfg)
	base := time.Now().Add(-time.Minute)
	addr := "AA:BB:CC:DD:EE:01"

	for i := 0; i < 5; i++ {
		sess.ProcessAdvertisement(model.RawAdvertisement{
			Address:          addr,
			RSSI:             -62,
			CompanyID:        advert.AppleCompanyID,
			ManufacturerData: registeredFrame(0x00, 0x01),
			Timestamp:        base.Add(time.Duration(i) * 2 * time.Second),
		})
	}
	snap := sess.ProcessAdvertisement(model.RawAdvertisement{
		Address:          addr,
		RSSI:             -62,
		CompanyID:        advert.AppleCompanyID,
		ManufacturerData: registeredFrame(0x00, 0x02),
		Timestamp:        base.Add(10 * time.Second),
	})
	if !snap.Cadence.RotationObserved {
		t.Fatalf("rotation not observed: %+v", snap.Cadence)
	}
	if snap.Score != 90 {
		t.Fatalf("score with rotation bonus: %d", snap.Score)
	}
}

func TestSessionOutOfOrderTimestampPinned(t *testing.T) {
	cfg := testConfig()
	sess, _ := newSessionForTest(cfg)
	base := time.Now().Add(-time.Minute)
	addr := "AA:BB:CC:DD:EE:02"

	sess.ProcessAdvertisement(model.RawAdvertisement{
		Address: addr, RSSI: -70, CompanyID: advert.AppleCompanyID,
		ManufacturerData: registeredFrame(0x00), Timestamp: base.Add(10 * time.Second),
	})
	snap := sess.ProcessAdvertisement(model.RawAdvertisement{
		Address: addr, RSSI: -70, CompanyID: advert.AppleCompanyID,
		ManufacturerData: registeredFrame(0x00), Timestamp: base,
	})
	if snap.LastSeen.Before(base.Add(10 * time.Second)) {
		t.Fatalf("regressed timestamp must be pinned: %v", snap.LastSeen)
	}
	if snap.SeenForSeconds < 0 {
		t.Fatalf("seen-for must never be negative: %f", snap.SeenForSeconds)
	}
}

func TestSessionDedupeSuppressesDuplicate(t *testing.T) {
	cfg := testConfig()
	cfg.Detection.DedupeWindow = time.Second
	sess, _ := newSessionForTest(cfg)
	base := time.Now()
	adv := model.RawAdvertisement{
		Address:          "AA:BB:CC:DD:EE:03",
		RSSI:             -62,
		CompanyID:        advert.AppleCompanyID,
		ManufacturerData: registeredFrame(0x00),
		Timestamp:        base,
	}
	first := sess.ProcessAdvertisement(adv)
	second := sess.ProcessAdvertisement(adv)
	if second.Cadence.Samples != first.Cadence.Samples {
		t.Fatalf("duplicate must not advance cadence: %d vs %d", second.Cadence.Samples, first.Cadence.Samples)
	}
}

func TestSessionCalibration(t *testing.T) {
	cfg := testConfig()
	sess, _ := newSessionForTest(cfg)
	addr := "AA:BB:CC:DD:EE:04"
	base := time.Now().Add(-time.Minute)

	if err := sess.Calibrate(addr, -60); !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("calibrating an unseen device: %v", err)
	}
	feedRegistered(sess, addr, 3, base, 0x00)
	if err := sess.Calibrate(addr, -10); !errors.Is(err, ErrInvalidCalibration) {
		t.Fatalf("implausible rssi: %v", err)
	}
	if err := sess.Calibrate(addr, -200); !errors.Is(err, ErrInvalidCalibration) {
		t.Fatalf("implausible rssi: %v", err)
	}
	if err := sess.Calibrate(addr, -55); err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	snap := feedRegistered(sess, addr, 1, base.Add(10*time.Second), 0x00)
	if snap.CalibratedRSSI == nil || *snap.CalibratedRSSI != -55 {
		t.Fatalf("calibration not applied: %+v", snap.CalibratedRSSI)
	}

	if err := sess.CalibrateDistance(addr, 1); !errors.Is(err, ErrInvalidCalibration) {
		t.Fatalf("degenerate distance: %v", err)
	}
	if err := sess.CalibrateDistance(addr, 5); err != nil {
		t.Fatalf("calibrate distance: %v", err)
	}
}

func TestSessionModeAndFiltering(t *testing.T) {
	cfg := testConfig()
	sess, _ := newSessionForTest(cfg)
	base := time.Now().Add(-time.Minute)

	feedRegistered(sess, "AA:BB:CC:DD:EE:05", 3, base, 0x00)
	sess.ProcessAdvertisement(model.RawAdvertisement{
		Address:   "11:22:33:44:55:66",
		RSSI:      -50,
		CompanyID: 0x0006, // not Apple
		Timestamp: base,
	})

	if got := len(sess.Snapshots(false)); got != 2 {
		t.Fatalf("normal mode shows everything: %d", got)
	}
	if err := sess.SetMode(model.ScanMode("bogus")); !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("bogus mode: %v", err)
	}
	if err := sess.SetMode(model.ModeFindMyOnly); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	filtered := sess.Snapshots(false)
	if len(filtered) != 1 || filtered[0].Kind != model.KindAirTagRegistered {
		t.Fatalf("findmy_only filter: %+v", filtered)
	}
	if got := len(sess.Snapshots(true)); got != 2 {
		t.Fatalf("all=true bypasses the filter: %d", got)
	}
}

func TestSessionRangeTest(t *testing.T) {
	cfg := testConfig()
	target := "AA:BB:CC:DD:EE:06"
	cfg.RangeTest.Target = target
	sess, _ := newSessionForTest(cfg)

	if _, ok := sess.RangeReport(); ok {
		t.Fatalf("no report before the test starts")
	}
	if err := sess.SetMode(model.ModeRangeTest); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	base := time.Now().Add(-time.Minute)
	feedRegistered(sess, target, 5, base, 0x00)
	feedRegistered(sess, "FF:EE:DD:CC:BB:AA", 5, base, 0x00)

	report, ok := sess.RangeReport()
	if !ok || report.Samples != 5 {
		t.Fatalf("report: %+v ok=%v", report, ok)
	}
	if report.MinMeters > report.AvgMeters || report.AvgMeters > report.MaxMeters {
		t.Fatalf("range stats out of order: %+v", report)
	}
}

func TestSessionRangeTestNeedsTarget(t *testing.T) {
	cfg := testConfig()
	sess, _ := newSessionForTest(cfg)
	if err := sess.SetMode(model.ModeRangeTest); !errors.Is(err, ErrNoRangeTarget) {
		t.Fatalf("expected missing target error, got %v", err)
	}
}

func TestSessionWatchlist(t *testing.T) {
	cfg := testConfig()
	cfg.Watchlist.Enabled = true
	cfg.Watchlist.Watch = []string{"aa-bb-cc-dd-ee-07"}
	cfg.Watchlist.Ignore = []string{"AA:BB:CC:DD:EE:08"}
	sess, detStore := newSessionForTest(cfg)
	base := time.Now().Add(-time.Minute)

	// The watched address is not a tracker, but must still detect.
	snap := sess.ProcessAdvertisement(model.RawAdvertisement{
		Address: "AA:BB:CC:DD:EE:07", RSSI: -60, CompanyID: 0x0006, Timestamp: base,
	})
	if !snap.Watched {
		t.Fatalf("watch list did not match")
	}
	if len(detStore.List(0)) != 1 {
		t.Fatalf("watched device must detect")
	}

	// The ignored address is a confirmed tracker, but must stay silent.
	snap = feedRegistered(sess, "AA:BB:CC:DD:EE:08", 5, base, 0x00)
	if !snap.Ignored {
		t.Fatalf("ignore list did not match")
	}
	if len(detStore.List(0)) != 1 {
		t.Fatalf("ignored device must not detect")
	}
}

func TestSessionSummary(t *testing.T) {
	cfg := testConfig()
	sess, _ := newSessionForTest(cfg)
	base := time.Now().Add(-time.Minute)
	feedRegistered(sess, "AA:BB:CC:DD:EE:09", 5, base, 0x00)
	sess.ProcessAdvertisement(model.RawAdvertisement{
		Address: "11:22:33:44:55:77", RSSI: -90, CompanyID: 0x0006, Timestamp: base,
	})

	sum := sess.Summary()
	if sum.TotalDevices != 2 || sum.TrackerDevices != 1 {
		t.Fatalf("summary: %+v", sum)
	}
	if sum.ClosestAddress != "AA:BB:CC:DD:EE:09" {
		t.Fatalf("closest: %s", sum.ClosestAddress)
	}
	if sum.MinMeters > sum.AvgMeters || sum.AvgMeters > sum.MaxMeters {
		t.Fatalf("distance stats out of order: %+v", sum)
	}
}

func TestSessionScanHint(t *testing.T) {
	cfg := testConfig()
	sess, _ := newSessionForTest(cfg)
	base := time.Now().Add(-time.Minute)

	if err := sess.SetMode(model.ModeAdaptive); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	hint := sess.ScanHint()
	if hint.DutyCycle != 1.0 || hint.FindMyFilter {
		t.Fatalf("empty session should scan wide open: %+v", hint)
	}

	feedRegistered(sess, "AA:BB:CC:DD:EE:10", 5, base, 0x00)
	hint = sess.ScanHint()
	if hint.DutyCycle != 0.6 || hint.HighConfidence != 1 {
		t.Fatalf("one tracker: %+v", hint)
	}

	feedRegistered(sess, "AA:BB:CC:DD:EE:11", 5, base, 0x00)
	feedRegistered(sess, "AA:BB:CC:DD:EE:12", 5, base, 0x00)
	hint = sess.ScanHint()
	if hint.DutyCycle != 0.3 || !hint.FindMyFilter {
		t.Fatalf("three trackers: %+v", hint)
	}
}

func TestSessionClearStaleAndReset(t *testing.T) {
	cfg := testConfig()
	sess, _ := newSessionForTest(cfg)

	feedRegistered(sess, "AA:BB:CC:DD:EE:13", 3, time.Now().Add(-time.Hour), 0x00)
	feedRegistered(sess, "AA:BB:CC:DD:EE:14", 3, time.Now().Add(-2*time.Second), 0x00)

	if removed := sess.ClearStale(10 * time.Minute); removed != 1 {
		t.Fatalf("removed: %d", removed)
	}
	if got := len(sess.Snapshots(true)); got != 1 {
		t.Fatalf("after prune: %d", got)
	}

	sess.Reset()
	if got := len(sess.Snapshots(true)); got != 0 {
		t.Fatalf("after reset: %d", got)
	}
}

func TestSessionResetConcurrentWithProcessing(t *testing.T) {
	cfg := testConfig()
	cfg.Detection.DedupeWindow = time.Second
	cfg.Detection.DetectionCooldown = 30 * time.Second
	sess, _ := newSessionForTest(cfg)
	base := time.Now().Add(-time.Hour)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			sess.ProcessAdvertisement(model.RawAdvertisement{
				Address:          "AA:BB:CC:DD:EE:20",
				RSSI:             -62,
				CompanyID:        advert.AppleCompanyID,
				ManufacturerData: registeredFrame(0x00),
				Timestamp:        base.Add(time.Duration(i) * 2 * time.Second),
			})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			sess.Reset()
		}
	}()
	wg.Wait()

	// State after the dust settles must still be coherent.
	snap := sess.ProcessAdvertisement(model.RawAdvertisement{
		Address:          "AA:BB:CC:DD:EE:20",
		RSSI:             -62,
		CompanyID:        advert.AppleCompanyID,
		ManufacturerData: registeredFrame(0x00),
		Timestamp:        time.Now(),
	})
	if snap.Kind != model.KindAirTagRegistered {
		t.Fatalf("kind after concurrent reset: %s", snap.Kind)
	}
}
