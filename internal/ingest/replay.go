package ingest

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"tagfinder/internal/config"
	"tagfinder/internal/model"
	"tagfinder/internal/normalize"
)

// StartReplay feeds captured scan logs back through the pipeline. It tails
// each file: an analysis run over a finished capture reads to EOF and then
// keeps following, so a live capture being written works the same way.
func StartReplay(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.RawAdvertisement, logger *slog.Logger) {
	current := cfg.Get().Ingest.Replay
	if !current.Enabled {
		if logger != nil {
			logger.Info("replay ingest disabled")
		}
		return
	}
	for _, path := range current.Files {
		path := path
		if logger != nil {
			logger.Info("replay ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		go replayFile(ctx, path, current.StartAtEnd, parser, out, logger)
	}
}

func replayFile(ctx context.Context, path string, startAtEnd bool, parser *Parser, out chan<- model.RawAdvertisement, logger *slog.Logger) {
	var file *os.File
	var offset int64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				if logger != nil {
					logger.Warn("replay open failed", "path", path, "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
			}
		}

		reader := bufio.NewReader(file)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					if !BackoffSleep(ctx, 200*time.Millisecond) {
						_ = file.Close()
						return
					}
					// Truncation means the capture was rotated; reopen.
					info, statErr := os.Stat(path)
					if statErr == nil && info.Size() < offset {
						_ = file.Close()
						file = nil
						break
					}
					continue
				}
				if logger != nil {
					logger.Warn("replay read error", "path", path, "err", err)
				}
				_ = file.Close()
				file = nil
				break
			}
			offset += int64(len(line))
			fields, perr := parser.ParseLine(line)
			if perr != nil || fields == nil {
				continue
			}
			adv, nerr := normalize.Normalize(*fields)
			if nerr != nil {
				continue
			}
			adv.Source = "replay"
			SendNonBlocking(ctx, out, adv, logger)
			select {
			case <-ctx.Done():
				_ = file.Close()
				return
			default:
			}
		}
	}
}
