// Package ingest fans advertisements from every enabled source into one
// channel the session consumes. Sources never block the radio or network
// loop on a slow consumer: a full channel drops the advertisement and logs.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"tagfinder/internal/model"
)

func SendNonBlocking(ctx context.Context, out chan<- model.RawAdvertisement, adv model.RawAdvertisement, logger *slog.Logger) bool {
	select {
	case out <- adv:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("advertisement channel full, dropping", "address", adv.Address, "source", adv.Source)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
