package ingest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"tagfinder/internal/normalize"
)

// Parser turns one line of a gateway feed into advertisement fields.
// Gateways differ: some emit JSON objects, some CSV exports, some key=value
// text; all three are accepted per line.
type Parser struct {
	csv *CSVParser
}

var reKV = regexp.MustCompile(`(?i)([a-zA-Z_]+)=([^\s]+)`)

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

func (p *Parser) ParseLine(line string) (*normalize.AdvFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		if fields, err := ParseJSONBytes([]byte(trim)); err == nil {
			fields.Raw = line
			return fields, nil
		}
	}
	if strings.Contains(trim, ",") {
		fields, err := p.csv.Parse(trim)
		if err == nil {
			if fields == nil {
				return nil, nil
			}
			fields.Raw = line
			return fields, nil
		}
	}
	fields := parsePlain(trim)
	fields.Raw = line
	return fields, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func ParseJSONBytes(data []byte) (*normalize.AdvFields, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

func ParseJSONMap(obj map[string]interface{}) *normalize.AdvFields {
	flat := make(map[string]string, len(obj))
	for key, val := range obj {
		flat[strings.ToLower(key)] = fmt.Sprint(val)
	}
	return &normalize.AdvFields{
		Timestamp: firstNonEmpty(flat, "timestamp", "time", "ts"),
		Address:   firstNonEmpty(flat, "address", "mac", "addr", "device"),
		RSSI:      firstNonEmpty(flat, "rssi", "signal", "dbm"),
		CompanyID: firstNonEmpty(flat, "company_id", "company", "mfg_id", "manufacturer_id"),
		Data:      firstNonEmpty(flat, "data", "manufacturer_data", "mfg_data", "payload"),
		Name:      firstNonEmpty(flat, "name", "local_name"),
	}
}

func parsePlain(line string) *normalize.AdvFields {
	kv := map[string]string{}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		kv[strings.ToLower(match[1])] = match[2]
	}
	return &normalize.AdvFields{
		Timestamp: firstNonEmpty(kv, "timestamp", "time", "ts"),
		Address:   firstNonEmpty(kv, "address", "mac", "addr", "device"),
		RSSI:      firstNonEmpty(kv, "rssi", "signal", "dbm"),
		CompanyID: firstNonEmpty(kv, "company_id", "company", "mfg_id"),
		Data:      firstNonEmpty(kv, "data", "manufacturer_data", "mfg_data", "payload"),
		Name:      firstNonEmpty(kv, "name", "local_name"),
	}
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

// Parse handles one CSV line. The first line naming known columns is taken
// as the header; headerless feeds fall back to the fixed column order
// timestamp, address, rssi, company_id, data.
func (p *CSVParser) Parse(line string) (*normalize.AdvFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	if p.header == nil && looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	fields := &normalize.AdvFields{}
	if p.header != nil {
		for i, name := range p.header {
			if i >= len(record) {
				break
			}
			assignField(fields, name, record[i])
		}
		return fields, nil
	}
	if len(record) >= 1 {
		fields.Timestamp = record[0]
	}
	if len(record) >= 2 {
		fields.Address = record[1]
	}
	if len(record) >= 3 {
		fields.RSSI = record[2]
	}
	if len(record) >= 4 {
		fields.CompanyID = record[3]
	}
	if len(record) >= 5 {
		fields.Data = record[4]
	}
	return fields, nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		v = strings.ToLower(strings.TrimSpace(v))
		switch v {
		case "timestamp", "time", "ts", "address", "mac", "addr", "rssi", "signal", "company_id", "data", "manufacturer_data":
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func assignField(fields *normalize.AdvFields, name, value string) {
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "timestamp", "time", "ts":
		fields.Timestamp = value
	case "address", "mac", "addr", "device":
		fields.Address = value
	case "rssi", "signal", "dbm":
		fields.RSSI = value
	case "company_id", "company", "mfg_id", "manufacturer_id":
		fields.CompanyID = value
	case "data", "manufacturer_data", "mfg_data", "payload":
		fields.Data = value
	case "name", "local_name":
		fields.Name = value
	}
}
