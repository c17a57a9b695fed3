//go:build linux

package ingest

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"

	"tagfinder/internal/config"
	"tagfinder/internal/model"
)

// StartBLE scans the local HCI adapter and feeds every advertisement into
// the pipeline. Duplicates must stay enabled for cadence tracking to see
// repeated broadcasts from the same tag.
func StartBLE(ctx context.Context, cfg *config.Manager, out chan<- model.RawAdvertisement, logger *slog.Logger) {
	current := cfg.Get().Ingest.BLE
	if !current.Enabled {
		if logger != nil {
			logger.Info("ble ingest disabled")
		}
		return
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			device, err := linux.NewDevice()
			if err != nil {
				if logger != nil {
					logger.Error("ble device open failed", "err", err)
				}
				if !BackoffSleep(ctx, 5*time.Second) {
					return
				}
				continue
			}
			ble.SetDefaultDevice(device)
			if logger != nil {
				logger.Info("ble ingest enabled", "allow_duplicates", current.AllowDuplicates)
			}
			err = ble.Scan(ctx, current.AllowDuplicates, func(adv ble.Advertisement) {
				SendNonBlocking(ctx, out, fromBLEAdvertisement(adv), logger)
			}, nil)
			_ = device.Stop()
			if err == nil || errors.Is(err, context.Canceled) {
				return
			}
			if logger != nil {
				logger.Warn("ble scan stopped", "err", err)
			}
			if !BackoffSleep(ctx, time.Second) {
				return
			}
		}
	}()
}

func fromBLEAdvertisement(adv ble.Advertisement) model.RawAdvertisement {
	raw := model.RawAdvertisement{
		Address:   strings.ToUpper(adv.Addr().String()),
		RSSI:      adv.RSSI(),
		Name:      adv.LocalName(),
		Timestamp: time.Now().UTC(),
		Source:    "ble",
	}
	// Manufacturer data starts with the little-endian company identifier.
	if data := adv.ManufacturerData(); len(data) >= 2 {
		raw.CompanyID = binary.LittleEndian.Uint16(data[:2])
		raw.ManufacturerData = data[2:]
	}
	return raw
}
