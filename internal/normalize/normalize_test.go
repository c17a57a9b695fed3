package normalize

import (
	"testing"
	"time"
)

func TestNormalizeBasic(t *testing.T) {
	adv, err := Normalize(AdvFields{
		Timestamp: "2026-08-23T12:00:00Z",
		Address:   "aa:bb:cc:dd:ee:ff",
		RSSI:      "-67",
		CompanyID: "0x004C",
		Data:      "12:19:00",
		Name:      " AirTag ",
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if adv.RSSI != -67 || adv.CompanyID != 0x004C {
		t.Fatalf("fields: %+v", adv)
	}
	if len(adv.ManufacturerData) != 3 || adv.ManufacturerData[0] != 0x12 || adv.ManufacturerData[1] != 0x19 {
		t.Fatalf("data: %x", adv.ManufacturerData)
	}
	if adv.Name != "AirTag" {
		t.Fatalf("name: %q", adv.Name)
	}
}

func TestNormalizeRejects(t *testing.T) {
	if _, err := Normalize(AdvFields{RSSI: "-60"}); err == nil {
		t.Fatalf("missing address must fail")
	}
	if _, err := Normalize(AdvFields{Address: "AA", RSSI: "strong"}); err == nil {
		t.Fatalf("non-numeric rssi must fail")
	}
	if _, err := Normalize(AdvFields{Address: "AA", RSSI: "-300"}); err == nil {
		t.Fatalf("implausible rssi must fail")
	}
	if _, err := Normalize(AdvFields{Address: "AA", RSSI: "-60", Data: "zz"}); err == nil {
		t.Fatalf("bad hex must fail")
	}
}

func TestParseCompanyID(t *testing.T) {
	cases := map[string]uint16{
		"76":     76,
		"0x004c": 0x004C,
		"004C":   0x4C,
		"4c":     0x4C,
	}
	for in, want := range cases {
		got, err := parseCompanyID(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: got %d want %d", in, got, want)
		}
	}
}

func TestParseTimestampFormats(t *testing.T) {
	cases := []string{
		"2026-08-23T12:00:00Z",
		"2026-08-23 12:00:00",
		"2026-08-23T12:00:00.500",
		"1755950400",
		"1755950400000",
	}
	for _, in := range cases {
		if _, err := ParseTimestamp(in); err != nil {
			t.Fatalf("%q: %v", in, err)
		}
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatalf("unsupported format must fail")
	}
}

func TestParseUnixMilliseconds(t *testing.T) {
	ts, err := ParseTimestamp("1755950400000")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := time.Unix(1755950400, 0).UTC()
	if !ts.Equal(want) {
		t.Fatalf("got %v want %v", ts, want)
	}
}
