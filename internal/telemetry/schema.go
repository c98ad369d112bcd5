package telemetry

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"strings"
)

// MaxMetricsBytes caps the raw telemetry string and the re-serialized output,
// in UTF-8 bytes.
const MaxMetricsBytes = 8 * 1024

// ErrRejected is the single rejection outcome of metrics validation. Callers
// cannot distinguish oversize from malformed from wrong shape — the distinct
// causes are logged only.
var ErrRejected = errors.New("telemetry metrics rejected")

// Metrics is the cleaned telemetry payload: allow-listed keys only, values one
// of int64, float64, bool, or string.
type Metrics map[string]any

// Validator checks a raw telemetry string against the field allow-list.
// The field table is fixed at construction and read-only afterwards, so a
// single Validator is safe for concurrent use.
type Validator struct {
	fields []Field
	logger *slog.Logger
}

// NewValidator creates a Validator over the given allow-list.
func NewValidator(fields []Field, logger *slog.Logger) *Validator {
	return &Validator{fields: fields, logger: logger}
}

// Validate parses, filters, and bounds the raw metrics string. A single field
// of the wrong type or with a non-finite value is dropped, not fatal; a bad
// payload shape or size rejects everything.
func (v *Validator) Validate(raw string) (Metrics, error) {
	if raw == "" {
		return nil, ErrRejected
	}
	if len(raw) > MaxMetricsBytes {
		v.logger.Warn("metrics exceeded max allowed size and were rejected", "bytes", len(raw))
		return nil, ErrRejected
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var parsed any
	if err := dec.Decode(&parsed); err != nil {
		v.logger.Warn("metrics JSON parse failed", "error", err)
		return nil, ErrRejected
	}

	obj, ok := parsed.(map[string]any)
	if !ok {
		v.logger.Warn("metrics payload is not a JSON object; rejecting")
		return nil, ErrRejected
	}

	out := make(Metrics, len(v.fields))
	for _, field := range v.fields {
		val, present := obj[field.Name]
		if !present || val == nil {
			continue
		}

		switch field.Type {
		case NumberField:
			num, ok := val.(json.Number)
			if !ok {
				v.logger.Warn("metrics field has wrong type; skipping", "field", field.Name, "expected", "number")
				continue
			}
			dv, err := num.Float64()
			if err != nil || math.IsInf(dv, 0) || math.IsNaN(dv) {
				v.logger.Warn("metrics field is not finite; skipping", "field", field.Name)
				continue
			}
			if field.Kind == BoundFloat {
				out[field.Name] = clampFloat(dv, field.Min, field.Max)
			} else {
				out[field.Name] = clampInt(dv, field.Min, field.Max)
			}

		case BooleanField:
			b, ok := val.(bool)
			if !ok {
				v.logger.Warn("metrics field has wrong type; skipping", "field", field.Name, "expected", "boolean")
				continue
			}
			out[field.Name] = b

		case StringField:
			s, ok := val.(string)
			if !ok {
				v.logger.Warn("metrics field has wrong type; skipping", "field", field.Name, "expected", "string")
				continue
			}
			s = Sanitize(s)
			if field.MaxLen > 0 && len([]rune(s)) > field.MaxLen {
				s = string([]rune(s)[:field.MaxLen])
			}
			out[field.Name] = s
		}
	}

	// An allow-listed but adversarially verbose string field can still blow
	// the size budget; reject the whole result rather than truncate per field.
	serialized, err := json.Marshal(out)
	if err != nil {
		v.logger.Warn("sanitized metrics failed to serialize", "error", err)
		return nil, ErrRejected
	}
	if len(serialized) > MaxMetricsBytes {
		v.logger.Warn("sanitized metrics exceed allowed size; rejecting", "bytes", len(serialized))
		return nil, ErrRejected
	}

	return out, nil
}

// clampInt rounds half away from zero, then clamps to [lo, hi]. Clamping in
// the float domain first keeps huge inputs from overflowing the conversion.
func clampInt(v, lo, hi float64) int64 {
	if math.IsNaN(v) {
		return int64(lo)
	}
	r := math.Round(v)
	if r < lo {
		r = lo
	}
	if r > hi {
		r = hi
	}
	return int64(r)
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
