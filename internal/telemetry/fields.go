package telemetry

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// FieldType declares the accepted JSON type for an allow-listed field.
type FieldType int

const (
	NumberField FieldType = iota
	BooleanField
	StringField
)

// BoundKind selects the clamping routine applied to a number field.
type BoundKind int

const (
	// BoundInt rounds half away from zero, clamps, and emits an integer.
	BoundInt BoundKind = iota
	// BoundFloat clamps without rounding and emits a float.
	BoundFloat
)

// Field is one allow-list entry. The allow-list is closed: the validator never
// emits a key that has no Field.
type Field struct {
	Name     string
	Type     FieldType
	Kind     BoundKind
	Min, Max float64
	MaxLen   int // string fields only; 0 means the sanitizer default applies
}

// Numeric caps shared across the table.
const (
	maxGenericNum   = 1_000_000_000 // general cap to avoid overflow
	maxKeyCount     = 10_000
	maxClickCount   = 10_000
	maxDistancePx   = 10_000_000
	maxDurationMs   = 86_400_000 // 24 hours
	maxTZOffsetMin  = 24 * 60
	maxDeviceMemGB  = 1024
	maxConcurrency  = 1024
	maxPixelRatio   = 16.0
	maxTimestampLen = 64
)

// DefaultFields returns the built-in allow-list in declaration order. The
// slice is a copy; callers may merge overrides into it freely.
func DefaultFields() []Field {
	fields := []Field{
		{Name: "focus_changes", Type: NumberField, Kind: BoundInt, Min: 0, Max: maxGenericNum},
		{Name: "blur_events", Type: NumberField, Kind: BoundInt, Min: 0, Max: maxGenericNum},
		{Name: "click_count", Type: NumberField, Kind: BoundInt, Min: 0, Max: maxClickCount},
		{Name: "key_count", Type: NumberField, Kind: BoundInt, Min: 0, Max: maxKeyCount},
		{Name: "avg_key_delay_ms", Type: NumberField, Kind: BoundInt, Min: 0, Max: maxDurationMs},
		{Name: "pointer_distance_px", Type: NumberField, Kind: BoundInt, Min: 0, Max: maxDistancePx},
		{Name: "pointer_event_count", Type: NumberField, Kind: BoundInt, Min: 0, Max: maxGenericNum},
		{Name: "scroll_distance_px", Type: NumberField, Kind: BoundInt, Min: 0, Max: maxDistancePx},
		{Name: "scroll_event_count", Type: NumberField, Kind: BoundInt, Min: 0, Max: maxGenericNum},
		{Name: "dom_ready_ms", Type: NumberField, Kind: BoundInt, Min: 0, Max: maxDurationMs},
		{Name: "time_to_first_key_ms", Type: NumberField, Kind: BoundInt, Min: 0, Max: maxDurationMs},
		{Name: "time_to_first_click_ms", Type: NumberField, Kind: BoundInt, Min: 0, Max: maxDurationMs},
		{Name: "idle_time_total_ms", Type: NumberField, Kind: BoundInt, Min: 0, Max: maxDurationMs},
		{Name: "input_focus_count", Type: NumberField, Kind: BoundInt, Min: 0, Max: maxGenericNum},
		{Name: "paste_events", Type: NumberField, Kind: BoundInt, Min: 0, Max: maxGenericNum},
		{Name: "resize_events", Type: NumberField, Kind: BoundInt, Min: 0, Max: maxGenericNum},
		{Name: "metrics_version", Type: NumberField, Kind: BoundInt, Min: 0, Max: 1000},
		{Name: "collection_timestamp", Type: StringField, MaxLen: maxTimestampLen},
		{Name: "tz_offset_min", Type: NumberField, Kind: BoundInt, Min: -maxTZOffsetMin, Max: maxTZOffsetMin},
		{Name: "language", Type: StringField},
		{Name: "platform", Type: StringField},
		{Name: "device_memory_gb", Type: NumberField, Kind: BoundInt, Min: 0, Max: maxDeviceMemGB},
		{Name: "hardware_concurrency", Type: NumberField, Kind: BoundInt, Min: 1, Max: maxConcurrency},
		{Name: "screen_width_px", Type: NumberField, Kind: BoundInt, Min: 0, Max: maxGenericNum},
		{Name: "screen_height_px", Type: NumberField, Kind: BoundInt, Min: 0, Max: maxGenericNum},
		{Name: "pixel_ratio", Type: NumberField, Kind: BoundFloat, Min: 0, Max: maxPixelRatio},
		{Name: "color_depth", Type: NumberField, Kind: BoundInt, Min: 0, Max: maxGenericNum},
		{Name: "touch_support", Type: BooleanField},
		{Name: "webauthn_supported", Type: BooleanField},
		{Name: "device_uuid", Type: StringField},
	}
	out := make([]Field, len(fields))
	copy(out, fields)
	return out
}

// fieldOverride is one entry of the optional YAML bounds file.
type fieldOverride struct {
	Type   string   `yaml:"type"` // number | boolean | string; empty = existing field
	Min    *float64 `yaml:"min"`
	Max    *float64 `yaml:"max"`
	MaxLen *int     `yaml:"maxLen"`
}

type fieldOverrideFile struct {
	Fields map[string]fieldOverride `yaml:"fields"`
}

// LoadFields returns the allow-list merged with the optional YAML override
// file. An empty path returns the defaults. The result is fixed at process
// start and must not be mutated afterwards.
func LoadFields(path string) ([]Field, error) {
	fields := DefaultFields()
	if path == "" {
		return fields, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read field bounds file: %w", err)
	}

	var file fieldOverrideFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse field bounds file: %w", err)
	}

	byName := make(map[string]int, len(fields))
	for i, f := range fields {
		byName[f.Name] = i
	}

	// New field names are appended in sorted order so the table stays
	// deterministic across restarts.
	extra := make([]string, 0)
	for name, ov := range file.Fields {
		idx, exists := byName[name]
		if exists {
			applyOverride(&fields[idx], ov)
			continue
		}
		if ov.Type == "" {
			return nil, fmt.Errorf("field bounds file adds %q without a type", name)
		}
		extra = append(extra, name)
	}
	sort.Strings(extra)

	for _, name := range extra {
		ov := file.Fields[name]
		f := Field{Name: name}
		switch ov.Type {
		case "number":
			// Unenumerated numbers get the generic float clamp.
			f.Type = NumberField
			f.Kind = BoundFloat
			f.Min, f.Max = -maxGenericNum, maxGenericNum
		case "boolean":
			f.Type = BooleanField
		case "string":
			f.Type = StringField
		default:
			return nil, fmt.Errorf("field bounds file: unknown type %q for %q", ov.Type, name)
		}
		applyOverride(&f, ov)
		fields = append(fields, f)
	}

	return fields, nil
}

func applyOverride(f *Field, ov fieldOverride) {
	if ov.Min != nil {
		f.Min = *ov.Min
	}
	if ov.Max != nil {
		f.Max = *ov.Max
	}
	if ov.MaxLen != nil {
		f.MaxLen = *ov.MaxLen
	}
}
