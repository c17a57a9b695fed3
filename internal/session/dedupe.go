package session

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"tagfinder/internal/model"
)

// dedupeCache suppresses duplicate advertisements. When several ingest
// sources watch the same air (a local HCI scan plus a gateway feed), the
// same packet arrives more than once and would skew the cadence statistics.
type dedupeCache struct {
	mu    sync.Mutex
	items map[string]time.Time
}

func newDedupeCache() *dedupeCache {
	return &dedupeCache{items: make(map[string]time.Time)}
}

func (d *dedupeCache) clear() {
	d.mu.Lock()
	d.items = make(map[string]time.Time)
	d.mu.Unlock()
}

func (d *dedupeCache) seen(key string, now time.Time, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok {
		if now.Sub(ts) <= ttl {
			return true
		}
	}
	d.items[key] = now
	if len(d.items) > 10000 {
		d.compact(now, ttl)
	}
	return false
}

func (d *dedupeCache) compact(now time.Time, ttl time.Duration) {
	for k, ts := range d.items {
		if now.Sub(ts) > ttl {
			delete(d.items, k)
		}
	}
}

func hashAdvertisement(raw model.RawAdvertisement) string {
	h := sha256.New()
	h.Write([]byte(raw.Address))
	h.Write([]byte{byte(raw.CompanyID >> 8), byte(raw.CompanyID)})
	h.Write(raw.ManufacturerData)
	h.Write([]byte(strconv.FormatInt(raw.Timestamp.UnixNano(), 10)))
	return hex.EncodeToString(h.Sum(nil))
}
