package session

import (
	"strings"

	"tagfinder/internal/config"
)

// watchSet holds the operator's address lists: watched addresses always
// produce a detection regardless of score (a tracker the user already
// identified), ignored addresses are recorded but never surfaced (the
// user's own accessories).
type watchSet struct {
	enabled bool
	watched map[string]struct{}
	ignored map[string]struct{}
}

func buildWatchSet(cfg *config.Config) *watchSet {
	ws := &watchSet{enabled: cfg.Watchlist.Enabled}
	if !ws.enabled {
		return ws
	}
	ws.watched = buildAddrSet(cfg.Watchlist.Watch)
	ws.ignored = buildAddrSet(cfg.Watchlist.Ignore)
	return ws
}

func buildAddrSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		addr := normalizeAddr(v)
		if addr == "" {
			continue
		}
		set[addr] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func (w *watchSet) isWatched(addr string) bool {
	if w == nil || !w.enabled || w.watched == nil {
		return false
	}
	_, ok := w.watched[normalizeAddr(addr)]
	return ok
}

func (w *watchSet) isIgnored(addr string) bool {
	if w == nil || !w.enabled || w.ignored == nil {
		return false
	}
	_, ok := w.ignored[normalizeAddr(addr)]
	return ok
}

// normalizeAddr strips separators and upcases hex so "aa:bb:cc:dd:ee:ff",
// "AA-BB-CC-DD-EE-FF" and "aabbccddeeff" all compare equal.
func normalizeAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(addr))
	for _, r := range addr {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'F':
			b.WriteRune(r)
		case r >= 'a' && r <= 'f':
			b.WriteRune(r - 'a' + 'A')
		}
	}
	return b.String()
}
