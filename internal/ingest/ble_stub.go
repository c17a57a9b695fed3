//go:build !linux

package ingest

import (
	"context"
	"log/slog"

	"tagfinder/internal/config"
	"tagfinder/internal/model"
)

// StartBLE is a no-op on platforms without HCI socket support. Use one of
// the network sources to feed advertisements from a Linux gateway instead.
func StartBLE(ctx context.Context, cfg *config.Manager, out chan<- model.RawAdvertisement, logger *slog.Logger) {
	if cfg.Get().Ingest.BLE.Enabled && logger != nil {
		logger.Warn("ble ingest not supported on this platform")
	}
}
