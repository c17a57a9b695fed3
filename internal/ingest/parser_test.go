package ingest

import "testing"

func TestParsePlainText(t *testing.T) {
	p := NewParser()
	line := "ts=2026-08-23T12:34:56Z mac=AA:BB:CC:DD:EE:FF rssi=-67 company_id=0x004c data=1219deadbeef"
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.Address != "AA:BB:CC:DD:EE:FF" {
		t.Fatalf("address: %s", fields.Address)
	}
	if fields.RSSI != "-67" {
		t.Fatalf("rssi: %s", fields.RSSI)
	}
	if fields.CompanyID == "" || fields.Data == "" {
		t.Fatalf("company/data missing")
	}
}

func TestParseCSV(t *testing.T) {
	p := NewParser()
	if fields, _ := p.ParseLine("timestamp,address,rssi,company_id,data"); fields != nil {
		t.Fatalf("expected header to return nil")
	}
	fields, err := p.ParseLine("2026-08-23T12:34:56Z,AA:BB:CC:DD:EE:FF,-72,0x004C,1219aabb")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.Address != "AA:BB:CC:DD:EE:FF" || fields.RSSI != "-72" {
		t.Fatalf("csv parse mismatch")
	}
}

func TestParseJSON(t *testing.T) {
	p := NewParser()
	line := `{"timestamp":"2026-08-23T12:34:56Z","mac":"AA:BB:CC:DD:EE:FF","signal":-80,"company_id":76,"payload":"1219cafe"}`
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.Address != "AA:BB:CC:DD:EE:FF" || fields.RSSI != "-80" {
		t.Fatalf("json parse mismatch")
	}
	if fields.CompanyID != "76" || fields.Data != "1219cafe" {
		t.Fatalf("alias mapping mismatch: %q %q", fields.CompanyID, fields.Data)
	}
}

func TestParseBlankLine(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine("   \n")
	if err != nil || fields != nil {
		t.Fatalf("blank line should yield nothing, got %v %v", fields, err)
	}
}
