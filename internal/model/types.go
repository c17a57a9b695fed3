package model

import "time"

type DeviceKind string

const (
	KindUnknown            DeviceKind = "unknown"
	KindAirTagRegistered   DeviceKind = "airtag_registered"
	KindAirTagUnregistered DeviceKind = "airtag_unregistered"
	KindFindMyGeneric      DeviceKind = "findmy_generic"
	KindOtherBLE           DeviceKind = "other_ble"
)

type BatteryTier string

const (
	BatteryFull    BatteryTier = "full"
	BatteryMedium  BatteryTier = "medium"
	BatteryLow     BatteryTier = "low"
	BatteryVeryLow BatteryTier = "very_low"
	BatteryUnknown BatteryTier = "unknown"
)

type Classification string

const (
	ClassConfirmedAirTag    Classification = "confirmed_airtag"
	ClassLikelyFindMy       Classification = "likely_findmy_accessory"
	ClassUnregisteredAirTag Classification = "unregistered_airtag"
	ClassNotTracker         Classification = "not_a_tracker"
)

type MovementTrend string

const (
	TrendApproaching MovementTrend = "approaching"
	TrendReceding    MovementTrend = "receding"
	TrendStationary  MovementTrend = "stationary"
	TrendErratic     MovementTrend = "erratic"
)

type ScanMode string

const (
	ModeNormal      ScanMode = "normal"
	ModeFindMyOnly  ScanMode = "findmy_only"
	ModeAdaptive    ScanMode = "adaptive"
	ModeCalibration ScanMode = "calibration"
	ModeRangeTest   ScanMode = "range_test"
)

// RawAdvertisement is one received BLE advertisement as delivered by an
// ingest source. It is consumed immediately and never stored.
type RawAdvertisement struct {
	Address          string    `json:"address"`
	RSSI             int       `json:"rssi"`
	CompanyID        uint16    `json:"company_id"`
	ManufacturerData []byte    `json:"manufacturer_data,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	Name             string    `json:"name,omitempty"`
	Source           string    `json:"source,omitempty"`
}

// DecodedPayload is the structured view of an advertisement's
// manufacturer-specific data. HasStatus gates the status-derived fields;
// RotationKeyFragment is nil when the frame carries no rotation key.
type DecodedPayload struct {
	Kind                DeviceKind  `json:"kind"`
	HasStatus           bool        `json:"has_status"`
	StatusByte          byte        `json:"status_byte"`
	IsSeparated         bool        `json:"is_separated"`
	IsPlaySoundActive   bool        `json:"is_play_sound_active"`
	IsLostModeHint      bool        `json:"is_lost_mode_hint"`
	BatteryTier         BatteryTier `json:"battery_tier"`
	RotationKeyFragment []byte      `json:"rotation_key_fragment,omitempty"`
}

// CadenceStats summarizes the advertising rhythm of one device.
// RotationChanged reports a key change on this observation;
// RotationObserved is sticky for the session.
type CadenceStats struct {
	Samples          int           `json:"samples"`
	MeanGapSeconds   float64       `json:"mean_gap_seconds"`
	GapStdDev        float64       `json:"gap_std_dev"`
	MatchesExpected  bool          `json:"matches_expected_cadence"`
	RotationChanged  bool          `json:"rotation_changed"`
	RotationObserved bool          `json:"rotation_observed"`
	LastRotationAge  time.Duration `json:"last_rotation_age"`
}

// DeviceSnapshot is the immutable per-device view handed to the API and UI.
type DeviceSnapshot struct {
	Address           string         `json:"address"`
	Name              string         `json:"name,omitempty"`
	Kind              DeviceKind     `json:"kind"`
	Classification    Classification `json:"classification"`
	Score             int            `json:"score"`
	RSSI              int            `json:"rssi"`
	SmoothedRSSI      float64        `json:"smoothed_rssi"`
	SignalStability   float64        `json:"signal_stability"`
	DistanceMeters    float64        `json:"distance_meters"`
	Trend             MovementTrend  `json:"movement_trend"`
	TrendConfidence   float64        `json:"trend_confidence"`
	BatteryTier       BatteryTier    `json:"battery_tier"`
	IsSeparated       bool           `json:"is_separated"`
	IsPlaySoundActive bool           `json:"is_play_sound_active"`
	Cadence           CadenceStats   `json:"cadence"`
	FirstSeen         time.Time      `json:"first_seen"`
	LastSeen          time.Time      `json:"last_seen"`
	SeenForSeconds    float64        `json:"seen_for_seconds"`
	CalibratedRSSI    *int           `json:"calibrated_rssi_at_1m,omitempty"`
	PathLossExponent  float64        `json:"path_loss_exponent"`
	Watched           bool           `json:"watched,omitempty"`
	Ignored           bool           `json:"ignored,omitempty"`
}

// Interesting reports whether the snapshot belongs in the tracker view when
// the session runs in findmy_only mode.
func (s DeviceSnapshot) Interesting() bool {
	switch s.Kind {
	case KindAirTagRegistered, KindAirTagUnregistered, KindFindMyGeneric:
		return true
	}
	return false
}

// Detection is emitted when a device crosses the tracker threshold.
type Detection struct {
	Timestamp       time.Time         `json:"timestamp"`
	Address         string            `json:"address"`
	Kind            DeviceKind        `json:"kind"`
	Classification  Classification    `json:"classification"`
	Score           int               `json:"score"`
	DistanceMeters  float64           `json:"distance_meters"`
	Trend           MovementTrend     `json:"movement_trend"`
	TrendConfidence float64           `json:"trend_confidence"`
	Context         map[string]string `json:"context,omitempty"`
}

// ScanHint tells the adapter layer how aggressively to scan. The session
// never touches the radio itself.
type ScanHint struct {
	Mode           ScanMode `json:"mode"`
	DutyCycle      float64  `json:"duty_cycle"`
	FindMyFilter   bool     `json:"findmy_filter"`
	HighConfidence int      `json:"high_confidence_devices"`
}

// RangeReport accumulates distance statistics for the range-test target.
type RangeReport struct {
	Address      string    `json:"address"`
	Samples      int       `json:"samples"`
	MinMeters    float64   `json:"min_meters"`
	MaxMeters    float64   `json:"max_meters"`
	AvgMeters    float64   `json:"avg_meters"`
	LastMeters   float64   `json:"last_meters"`
	StartedAt    time.Time `json:"started_at"`
	LastSampleAt time.Time `json:"last_sample_at"`
}

// Summary condenses a scan session for reporting.
type Summary struct {
	TotalDevices   int     `json:"total_devices"`
	TrackerDevices int     `json:"tracker_devices"`
	ClosestAddress string  `json:"closest_address,omitempty"`
	ClosestMeters  float64 `json:"closest_meters"`
	ClosestRSSI    int     `json:"closest_rssi"`
	MinMeters      float64 `json:"min_meters"`
	AvgMeters      float64 `json:"avg_meters"`
	MaxMeters      float64 `json:"max_meters"`
	SessionSeconds float64 `json:"session_seconds"`
}
