package ingest

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"tagfinder/internal/config"
	"tagfinder/internal/model"
	"tagfinder/internal/normalize"
)

// StartKafka consumes advertisements from a topic fed by a fleet of scanner
// gateways. Messages are the same JSON records the line sources accept.
func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- model.RawAdvertisement, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, 0) {
					return
				}
				continue
			}
			fields, err := ParseJSONBytes(msg.Value)
			if err != nil {
				if logger != nil {
					logger.Debug("kafka parse error", "err", err)
				}
				continue
			}
			adv, err := normalize.Normalize(*fields)
			if err != nil {
				if logger != nil {
					logger.Debug("kafka normalize error", "err", err)
				}
				continue
			}
			adv.Source = "kafka"
			SendNonBlocking(ctx, out, adv, logger)
		}
	}()
}
