package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tagfinder/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/tagfinder?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS detections (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			address TEXT NOT NULL,
			kind TEXT NOT NULL,
			classification TEXT NOT NULL,
			score INTEGER NOT NULL,
			distance_m DOUBLE PRECISION NOT NULL,
			trend TEXT NOT NULL,
			trend_confidence DOUBLE PRECISION NOT NULL,
			context_json JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_ts ON detections(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_address ON detections(address)`,
		`CREATE TABLE IF NOT EXISTS devices (
			address TEXT PRIMARY KEY,
			first_seen TIMESTAMPTZ NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL,
			kind TEXT NOT NULL,
			classification TEXT NOT NULL,
			score INTEGER NOT NULL,
			distance_m DOUBLE PRECISION NOT NULL,
			battery TEXT NOT NULL,
			snapshot_json JSONB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveDetection(ctx context.Context, d model.Detection) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO detections (ts, address, kind, classification, score, distance_m, trend, trend_confidence, context_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
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

func (s *postgresStore) SaveDevice(ctx context.Context, snap model.DeviceSnapshot) error {
	if s.db == nil || snap.Address == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (address, first_seen, last_seen, kind, classification, score, distance_m, battery, snapshot_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (address) DO UPDATE SET
			last_seen = EXCLUDED.last_seen,
			kind = EXCLUDED.kind,
			classification = EXCLUDED.classification,
			score = EXCLUDED.score,
			distance_m = EXCLUDED.distance_m,
			battery = EXCLUDED.battery,
			snapshot_json = EXCLUDED.snapshot_json`,
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
