// Package storage persists detections and device history. The scanner works
// fully in memory; storage is an optional sink, never a dependency of the
// processing path.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"tagfinder/internal/config"
	"tagfinder/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveDetection(ctx context.Context, d model.Detection) error
	SaveDevice(ctx context.Context, snap model.DeviceSnapshot) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}
