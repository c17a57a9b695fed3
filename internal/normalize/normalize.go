// Package normalize turns loosely-typed fields from the line-based ingest
// sources into a RawAdvertisement the session can process.
package normalize

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tagfinder/internal/model"
)

// AdvFields is the untyped field bag an ingest parser extracts from one
// record before validation.
type AdvFields struct {
	Timestamp string
	Address   string
	RSSI      string
	CompanyID string
	Data      string
	Name      string
	Raw       string
}

// Receivers report RSSI in dBm; anything outside this range is a transport
// bug, not a radio reading.
const (
	minPlausibleRSSI = -127
	maxPlausibleRSSI = 20
)

func Normalize(fields AdvFields) (model.RawAdvertisement, error) {
	address := strings.TrimSpace(fields.Address)
	if address == "" {
		return model.RawAdvertisement{}, errors.New("missing device address")
	}

	rssi, err := strconv.Atoi(strings.TrimSpace(fields.RSSI))
	if err != nil {
		return model.RawAdvertisement{}, fmt.Errorf("parse rssi: %w", err)
	}
	if rssi < minPlausibleRSSI || rssi > maxPlausibleRSSI {
		return model.RawAdvertisement{}, fmt.Errorf("implausible rssi: %d dBm", rssi)
	}

	ts := time.Now().UTC()
	if fields.Timestamp != "" {
		parsed, err := ParseTimestamp(fields.Timestamp)
		if err != nil {
			return model.RawAdvertisement{}, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed.UTC()
	}

	var company uint16
	if v := strings.TrimSpace(fields.CompanyID); v != "" {
		id, err := parseCompanyID(v)
		if err != nil {
			return model.RawAdvertisement{}, err
		}
		company = id
	}

	var data []byte
	if v := cleanHex(fields.Data); v != "" {
		decoded, err := hex.DecodeString(v)
		if err != nil {
			return model.RawAdvertisement{}, fmt.Errorf("parse manufacturer data: %w", err)
		}
		data = decoded
	}

	return model.RawAdvertisement{
		Address:          address,
		RSSI:             rssi,
		CompanyID:        company,
		ManufacturerData: data,
		Timestamp:        ts,
		Name:             strings.TrimSpace(fields.Name),
	}, nil
}

func parseCompanyID(v string) (uint16, error) {
	v = strings.TrimPrefix(strings.ToLower(v), "0x")
	base := 10
	if strings.ContainsAny(v, "abcdef") {
		base = 16
	}
	id, err := strconv.ParseUint(v, base, 16)
	if err != nil {
		// Decimal parse of a hex-looking value already failed; retry hex.
		id, err = strconv.ParseUint(v, 16, 16)
		if err != nil {
			return 0, fmt.Errorf("parse company id: %w", err)
		}
	}
	return uint16(id), nil
}

func cleanHex(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f':
			return r
		case r >= 'A' && r <= 'F':
			return r
		case r == ':' || r == '-' || r == ' ':
			return -1
		}
		return r
	}, s)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
