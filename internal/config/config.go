package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	LogFormat string          `json:"log_format" yaml:"log_format"`
	Mode      string          `json:"mode" yaml:"mode"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Watchlist WatchlistConfig `json:"watchlist" yaml:"watchlist"`
	RangeTest RangeTestConfig `json:"range_test" yaml:"range_test"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Snapshots StoreConfig     `json:"snapshots" yaml:"snapshots"`
	Detects   StoreConfig     `json:"detections" yaml:"detections"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	BLE           BLEConfig       `json:"ble" yaml:"ble"`
	UDP           UDPConfig       `json:"udp" yaml:"udp"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	Replay        ReplayConfig    `json:"replay" yaml:"replay"`
}

type BLEConfig struct {
	Enabled         bool `json:"enabled" yaml:"enabled"`
	AllowDuplicates bool `json:"allow_duplicates" yaml:"allow_duplicates"`
}

type UDPConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type ReplayConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	Files      []string `json:"files" yaml:"files"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
}

// DetectionConfig holds the scoring and estimation policy. The numeric
// constants are deliberately configuration, not code: they should be tuned
// against known reference advertisements.
type DetectionConfig struct {
	HistorySize       int           `json:"history_size" yaml:"history_size"`
	CadenceWindow     int           `json:"cadence_window" yaml:"cadence_window"`
	ExpectedInterval  time.Duration `json:"expected_interval" yaml:"expected_interval"`
	IntervalTolerance time.Duration `json:"interval_tolerance" yaml:"interval_tolerance"`
	Scores            ScoreWeights  `json:"scores" yaml:"scores"`
	ReferenceRSSI     int           `json:"reference_rssi" yaml:"reference_rssi"`
	PathLossExponent  float64       `json:"path_loss_exponent" yaml:"path_loss_exponent"`
	SlopeNoise        float64       `json:"slope_noise" yaml:"slope_noise"`
	DispersionLimit   float64       `json:"dispersion_limit" yaml:"dispersion_limit"`
	DetectionCooldown time.Duration `json:"detection_cooldown" yaml:"detection_cooldown"`
	DedupeWindow      time.Duration `json:"dedupe_window" yaml:"dedupe_window"`
	AdaptiveRSSIFloor int           `json:"adaptive_rssi_floor" yaml:"adaptive_rssi_floor"`
	AdaptiveStability float64       `json:"adaptive_stability" yaml:"adaptive_stability"`
}

type ScoreWeights struct {
	RegisteredBase     int `json:"registered_base" yaml:"registered_base"`
	RegisteredCadence  int `json:"registered_cadence" yaml:"registered_cadence"`
	StatusBonus        int `json:"status_bonus" yaml:"status_bonus"`
	RotationBonus      int `json:"rotation_bonus" yaml:"rotation_bonus"`
	UnregisteredBase   int `json:"unregistered_base" yaml:"unregistered_base"`
	UnregisteredCad    int `json:"unregistered_cadence" yaml:"unregistered_cadence"`
	GenericBase        int `json:"generic_base" yaml:"generic_base"`
	GenericCadence     int `json:"generic_cadence" yaml:"generic_cadence"`
	ConfirmedThreshold int `json:"confirmed_threshold" yaml:"confirmed_threshold"`
	LikelyThreshold    int `json:"likely_threshold" yaml:"likely_threshold"`
	UnregThreshold     int `json:"unregistered_threshold" yaml:"unregistered_threshold"`
}

type WatchlistConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Watch   []string `json:"watch" yaml:"watch"`
	Ignore  []string `json:"ignore" yaml:"ignore"`
}

type RangeTestConfig struct {
	Target string `json:"target" yaml:"target"`
	Window int    `json:"window" yaml:"window"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type StoreConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Mode:      "normal",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			BLE:           BLEConfig{Enabled: true, AllowDuplicates: true},
			UDP:           UDPConfig{Enabled: false, Addr: ":5577"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			REST:          RESTConfig{Enabled: false, Addr: ":8080"},
			Kafka:         KafkaConfig{Enabled: false},
			Replay:        ReplayConfig{Enabled: false, StartAtEnd: false},
		},
		Detection: DetectionConfig{
			HistorySize:       20,
			CadenceWindow:     8,
			ExpectedInterval:  2 * time.Second,
			IntervalTolerance: 1 * time.Second,
			Scores: ScoreWeights{
				RegisteredBase:     60,
				RegisteredCadence:  15,
				StatusBonus:        10,
				RotationBonus:      5,
				UnregisteredBase:   45,
				UnregisteredCad:    15,
				GenericBase:        35,
				GenericCadence:     10,
				ConfirmedThreshold: 80,
				LikelyThreshold:    50,
				UnregThreshold:     45,
			},
			ReferenceRSSI:     -59,
			PathLossExponent:  2.0,
			SlopeNoise:        0.05,
			DispersionLimit:   1.5,
			DetectionCooldown: 30 * time.Second,
			DedupeWindow:      500 * time.Millisecond,
			AdaptiveRSSIFloor: -55,
			AdaptiveStability: 3.0,
		},
		Watchlist: WatchlistConfig{Enabled: false},
		RangeTest: RangeTestConfig{Window: 50},
		API:       APIConfig{Enabled: true, Addr: ":8081"},
		Storage:   StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:tagfinder.db?_pragma=busy_timeout(5000)"},
		Snapshots: StoreConfig{StoreLimit: 2000},
		Detects:   StoreConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Detection.HistorySize <= 0 {
		cfg.Detection.HistorySize = 20
	}
	if cfg.Detection.CadenceWindow <= 0 || cfg.Detection.CadenceWindow > cfg.Detection.HistorySize {
		cfg.Detection.CadenceWindow = min(8, cfg.Detection.HistorySize)
	}
	if cfg.Detection.ExpectedInterval <= 0 {
		cfg.Detection.ExpectedInterval = 2 * time.Second
	}
	if cfg.Detection.IntervalTolerance <= 0 {
		cfg.Detection.IntervalTolerance = time.Second
	}
	if cfg.Detection.ReferenceRSSI >= 0 {
		cfg.Detection.ReferenceRSSI = -59
	}
	if cfg.Detection.PathLossExponent <= 0 {
		cfg.Detection.PathLossExponent = 2.0
	}
	if cfg.Detection.SlopeNoise <= 0 {
		cfg.Detection.SlopeNoise = 0.05
	}
	if cfg.Detection.DispersionLimit <= 0 {
		cfg.Detection.DispersionLimit = 1.5
	}
	if cfg.Snapshots.StoreLimit <= 0 {
		cfg.Snapshots.StoreLimit = 2000
	}
	if cfg.Detects.StoreLimit <= 0 {
		cfg.Detects.StoreLimit = 1000
	}
	if cfg.RangeTest.Window <= 0 {
		cfg.RangeTest.Window = 50
	}
	if cfg.Mode == "" {
		cfg.Mode = "normal"
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.UDP.Enabled && cfg.Ingest.UDP.Addr == "" {
		return errors.New("ingest.udp.addr required when ingest.udp.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.Replay.Enabled && len(cfg.Ingest.Replay.Files) == 0 {
		return errors.New("ingest.replay.files required when ingest.replay.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	switch cfg.Mode {
	case "normal", "findmy_only", "adaptive", "calibration", "range_test":
	default:
		return fmt.Errorf("unknown mode: %q", cfg.Mode)
	}
	if cfg.Mode == "range_test" && cfg.RangeTest.Target == "" {
		return errors.New("range_test.target required when mode is range_test")
	}
	s := cfg.Detection.Scores
	if s.ConfirmedThreshold <= s.LikelyThreshold {
		return errors.New("detection.scores.confirmed_threshold must exceed likely_threshold")
	}
	if s.LikelyThreshold <= 0 || s.UnregThreshold <= 0 {
		return errors.New("detection.scores thresholds must be > 0")
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config with no backing file.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	applyDefaults(cfg)
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
		if info, err := os.Stat(m.path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	m.cfg.Store(cfg)
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
