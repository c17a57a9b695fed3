package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"tagfinder/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:tagfinder.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS detections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			address TEXT NOT NULL,
			kind TEXT NOT NULL,
			classification TEXT NOT NULL,
			score INTEGER NOT NULL,
			distance_m REAL NOT NULL,
			trend TEXT NOT NULL,
			trend_confidence REAL NOT NULL,
			context_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_ts ON detections(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_address ON detections(address)`,
		`CREATE TABLE IF NOT EXISTS devices (
			address TEXT PRIMARY KEY,
			first_seen TEXT NOT NULL,
			last_seen TEXT NOT NULL,
			kind TEXT NOT NULL,
			classification TEXT NOT NULL,
			score INTEGER NOT NULL,
			distance_m REAL NOT NULL,
			battery TEXT NOT NULL,
			snapshot_json TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveDetection(ctx context.Context, d model.Detection) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO detections (ts, address, kind, classification, score, distance_m, trend, trend_confidence, context_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Timestamp.UTC(),
		d.Address,
		string(d.Kind),
		string(d.Classification),
		d.Score,
		d.DistanceMeters,
		string(d.Trend),
		d.TrendConfidence,
		encodeJSON(d.Context),
	)
	return err
}

func (s *sqliteStore) SaveDevice(ctx context.Context, snap model.DeviceSnapshot) error {
	if s.db == nil || snap.Address == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (address, first_seen, last_seen, kind, classification, score, distance_m, battery, snapshot_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			last_seen = excluded.last_seen,
			kind = excluded.kind,
			classification = excluded.classification,
			score = excluded.score,
			distance_m = excluded.distance_m,
			battery = excluded.battery,
			snapshot_json = excluded.snapshot_json`,
		snap.Address,
		snap.FirstSeen.UTC(),
		snap.LastSeen.UTC(),
		string(snap.Kind),
		string(snap.Classification),
		snap.Score,
		snap.DistanceMeters,
		string(snap.BatteryTier),
		encodeJSON(snap),
	)
	return err
}
