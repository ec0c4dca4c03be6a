package store

import "time"

// Float reads a numeric column from a row. Returns nil when the column is
// missing or NULL so callers can distinguish "no data" from zero.
func (r Row) Float(name string) *float64 {
	v, ok := r[name]
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case float64:
		return &n
	case int64:
		f := float64(n)
		return &f
	}
	return nil
}

// FloatOr reads a numeric column, substituting def for missing/NULL.
func (r Row) FloatOr(name string, def float64) float64 {
	if f := r.Float(name); f != nil {
		return *f
	}
	return def
}

// Int reads a numeric column as an integer count, substituting 0 for
// missing/NULL. Counts default safely to zero per the adapter contract;
// rates and percentages must go through Float instead.
func (r Row) Int(name string) int64 {
	v, ok := r[name]
	if !ok || v == nil {
		return 0
	}
	return toInt64(v)
}

// Str reads a string column, substituting empty for missing/NULL.
func (r Row) Str(name string) string {
	v, ok := r[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// Bool reads a boolean column. sqlite stores booleans as integers.
func (r Row) Bool(name string) bool {
	v, ok := r[name]
	if !ok || v == nil {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case float64:
		return b != 0
	}
	return false
}

// Time reads a timestamp column.
func (r Row) Time(name string) (time.Time, bool) {
	v, ok := r[name]
	if !ok || v == nil {
		return time.Time{}, false
	}
	return toTime(v)
}
