package record

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MarshalRecords encodes records as a JSON array. HTML escaping is disabled
// so product names with "<" or "&" round-trip byte for byte.
func MarshalRecords(recs []Record) ([]byte, error) {
	if recs == nil {
		recs = []Record{}
	}
	return marshal(recs)
}

// UnmarshalRecords decodes a JSON array of objects. Numbers are kept as
// json.Number. Returns an empty slice (not nil) for empty input.
func UnmarshalRecords(data []byte) ([]Record, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []Record{}, nil
	}
	var recs []Record
	if err := decoder(data).Decode(&recs); err != nil {
		return nil, fmt.Errorf("unmarshal records: %w", err)
	}
	if recs == nil {
		recs = []Record{}
	}
	return recs, nil
}

// MarshalRecord encodes a single record as a JSON object.
func MarshalRecord(r Record) ([]byte, error) {
	if r == nil {
		r = Record{}
	}
	return marshal(r)
}

// UnmarshalRecord decodes a single JSON object.
func UnmarshalRecord(data []byte) (Record, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Record{}, nil
	}
	var r Record
	if err := decoder(data).Decode(&r); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	if r == nil {
		r = Record{}
	}
	return r, nil
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func decoder(data []byte) *json.Decoder {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec
}
