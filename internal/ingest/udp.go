package ingest

import (
	"context"
	"log/slog"
	"net"
	"strings"

	"tagfinder/internal/config"
	"tagfinder/internal/model"
	"tagfinder/internal/normalize"
)

// StartUDP listens for advertisement records pushed by scanner gateways.
// Most embedded forwarders (ESP32 bridges and the like) fire one datagram
// per sighting; a datagram may also carry several newline-separated records.
func StartUDP(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.RawAdvertisement, logger *slog.Logger) {
	current := cfg.Get().Ingest.UDP
	if !current.Enabled {
		if logger != nil {
			logger.Info("udp ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("udp ingest enabled", "addr", current.Addr)
	}
	addr, err := net.ResolveUDPAddr("udp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("udp resolve error", "err", err)
		}
		return
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		if logger != nil {
			logger.Error("udp listen error", "err", err)
		}
		return
	}
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		buf := make([]byte, 65535)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
				}
				if logger != nil {
					logger.Warn("udp read error", "err", err)
				}
				continue
			}
			for _, line := range strings.Split(string(buf[:n]), "\n") {
				fields, err := parser.ParseLine(line)
				if err != nil || fields == nil {
					continue
				}
				adv, err := normalize.Normalize(*fields)
				if err != nil {
					if logger != nil {
						logger.Debug("udp normalize error", "err", err)
					}
					continue
				}
				adv.Source = "udp"
				SendNonBlocking(ctx, out, adv, logger)
			}
		}
	}()
}
