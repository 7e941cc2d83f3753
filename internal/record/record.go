package record

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// Well-known keys.
const (
	KeyID        = "id"
	KeyTenantID  = "tenant_id"
	KeyQuantity  = "quantity"
	KeyCreatedBy = "created_by"
	KeyCreatedAt = "created_at"

	// KeyProvenance tags records produced by optimistic local writes.
	KeyProvenance = "_sync"
	// ProvenancePending is the only provenance value; confirmed records omit the key.
	ProvenancePending = "pending"
)

// Record is one row of a business table.
type Record map[string]any

// ID returns the record's primary identifier, or "" when absent.
func (r Record) ID() string {
	return r.String(KeyID)
}

// String returns the value at key as a string. Non-string scalars are formatted.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Int64 returns the value at key as an integer.
// Returns false if the key is absent or not an integral number.
func (r Record) Int64(key string) (int64, bool) {
	return toInt64(r[key])
}

// Decimal returns the value at key as a decimal.
// Returns false if the key is absent or not numeric.
func (r Record) Decimal(key string) (decimal.Decimal, bool) {
	return toDecimal(r[key])
}

// Has reports whether key is present, even with a nil value.
func (r Record) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// Pending reports whether the record was produced by an optimistic write.
func (r Record) Pending() bool {
	return r.String(KeyProvenance) == ProvenancePending
}

// MarkPending tags the record as optimistic.
func (r Record) MarkPending() {
	r[KeyProvenance] = ProvenancePending
}

// Clone returns a deep copy of r. Nested objects and arrays are copied.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge returns a copy of r with every key from fields applied on top.
func (r Record) Merge(fields Record) Record {
	out := r.Clone()
	if out == nil {
		out = Record{}
	}
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

// Without returns a copy of r without the given keys.
func (r Record) Without(keys ...string) Record {
	out := r.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Records returns the value at key as a list of records. Accepts []Record,
// []map[string]any and []any holding objects (the shape json decoding yields).
func (r Record) Records(key string) []Record {
	switch v := r[key].(type) {
	case []Record:
		return v
	case []map[string]any:
		out := make([]Record, len(v))
		for i, m := range v {
			out[i] = Record(m)
		}
		return out
	case []any:
		out := make([]Record, 0, len(v))
		for _, elem := range v {
			switch m := elem.(type) {
			case map[string]any:
				out = append(out, Record(m))
			case Record:
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

// Wire returns the copy of r that may be sent to the remote collaborator:
// local-only keys (leading underscore) are dropped and temporary ids in the
// "id" and "*_id" fields are rewritten to their confirmed form.
func (r Record) Wire() Record {
	out := make(Record, len(r))
	for k, v := range r {
		if strings.HasPrefix(k, "_") {
			continue
		}
		if s, ok := v.(string); ok && isIDKey(k) {
			out[k] = ConfirmedID(s)
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

// Normalize rewrites every top-level string value in NFC form so that names
// typed on different devices compare equal.
func (r Record) Normalize() {
	for k, v := range r {
		if s, ok := v.(string); ok && !norm.NFC.IsNormalString(s) {
			r[k] = norm.NFC.String(s)
		}
	}
}

// Number converts a decimal into a JSON number suitable for storing in a Record.
func Number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

func isIDKey(k string) bool {
	return k == KeyID || strings.HasSuffix(k, "_id")
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Record:
		return val.Clone()
	case map[string]any:
		return map[string]any(Record(val).Clone())
	case []Record:
		out := make([]Record, len(val))
		for i, e := range val {
			out[i] = e.Clone()
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		d, err := decimal.NewFromString(n.String())
		if err != nil || !d.IsInteger() {
			return 0, false
		}
		return d.IntPart(), true
	case decimal.Decimal:
		if !n.IsInteger() {
			return 0, false
		}
		return n.IntPart(), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	case []byte:
		i, err := strconv.ParseInt(string(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case float64:
		return decimal.NewFromFloat(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case decimal.Decimal:
		return n, true
	case string:
		d, err := decimal.NewFromString(n)
		return d, err == nil
	case []byte:
		d, err := decimal.NewFromString(string(n))
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}
