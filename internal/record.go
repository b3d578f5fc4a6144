package internal

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record is one row of a model, keyed by column name. Values are held in
// their coerced Go representation (int64, float64, bool, string, time.Time,
// or any structure for json fields).
type Record map[string]any

// DateFormat is the wire format for date fields.
const DateFormat = "2006-01-02"

// CoerceRecord converts a decoded JSON body into a typed Record for the
// model. Unknown fields are rejected, readonly and maintained columns are
// stripped, and each value is converted to the field's type. Errors
// accumulate per field so the caller can report all of them at once.
// Create and update coerce identically; partial-update semantics live in
// ValidateRecord, which only checks required fields on full records.
func CoerceRecord(m *Model, input map[string]any) (Record, []FieldError) {
	var errs []FieldError
	rec := make(Record, len(input))
	for name, val := range input {
		f := m.Field(name)
		if f == nil {
			switch name {
			case CreatedAtColumn, UpdatedAtColumn, DeletedAtColumn:
				continue // maintained by the service
			}
			errs = append(errs, NewFieldError(name, "unknown field"))
			continue
		}
		if f.ReadOnly || f.Auto != "" {
			continue // silently dropped, the service owns these
		}
		if val == nil {
			rec[name] = nil
			continue
		}
		coerced, err := CoerceValue(f.Type, val)
		if err != nil {
			errs = append(errs, NewFieldError(name, err.Error()))
			continue
		}
		rec[name] = coerced
	}
	return rec, errs
}

// CoerceValue converts a single decoded JSON value to the field type. JSON
// decoding only produces string, float64, bool, map, slice and nil, but
// string encodings of numbers, booleans and timestamps are accepted too
// since they are common in form submissions.
func CoerceValue(t FieldType, val any) (any, error) {
	switch t {
	case FieldTypeString, FieldTypeText:
		switch v := val.(type) {
		case string:
			return v, nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case bool:
			return strconv.FormatBool(v), nil
		}
	case FieldTypeInteger:
		switch v := val.(type) {
		case float64:
			if v != float64(int64(v)) {
				return nil, fmt.Errorf("must be an integer")
			}
			return int64(v), nil
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("must be an integer")
			}
			return i, nil
		}
	case FieldTypeFloat:
		switch v := val.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		case int:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("must be a number")
			}
			return f, nil
		}
	case FieldTypeDecimal:
		// decimals travel as strings to preserve precision
		switch v := val.(type) {
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case int64:
			return strconv.FormatInt(v, 10), nil
		case string:
			s := strings.TrimSpace(v)
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				return nil, fmt.Errorf("must be a decimal number")
			}
			return s, nil
		}
	case FieldTypeBoolean:
		switch v := val.(type) {
		case bool:
			return v, nil
		case float64:
			switch v {
			case 0:
				return false, nil
			case 1:
				return true, nil
			}
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "1", "true", "on", "yes":
				return true, nil
			case "0", "false", "off", "no":
				return false, nil
			}
		}
		return nil, fmt.Errorf("must be a boolean")
	case FieldTypeDate:
		if s, ok := val.(string); ok {
			s = strings.TrimSpace(s)
			if ts, err := time.Parse(DateFormat, s); err == nil {
				return ts.UTC(), nil
			}
			if ts, err := time.Parse(time.RFC3339, s); err == nil {
				return ts.UTC().Truncate(24 * time.Hour), nil
			}
			return nil, fmt.Errorf("must be a date formatted as %s", DateFormat)
		}
		if ts, ok := val.(time.Time); ok {
			return ts.UTC(), nil
		}
	case FieldTypeDatetime:
		if s, ok := val.(string); ok {
			s = strings.TrimSpace(s)
			if ts, err := time.Parse(time.RFC3339, s); err == nil {
				return ts.UTC(), nil
			}
			if ts, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
				return ts.UTC(), nil
			}
			return nil, fmt.Errorf("must be a RFC3339 timestamp")
		}
		if ts, ok := val.(time.Time); ok {
			return ts.UTC(), nil
		}
	case FieldTypeUUID:
		if s, ok := val.(string); ok {
			u, err := uuid.Parse(strings.TrimSpace(s))
			if err != nil {
				return nil, fmt.Errorf("must be a uuid")
			}
			return u.String(), nil
		}
	case FieldTypeJSON:
		switch val.(type) {
		case map[string]any, []any, string, float64, bool:
			return val, nil
		}
	}
	return nil, fmt.Errorf("must be a %s", t)
}

// ValidateRecord checks the coerced record against the model's rules. When
// partial is true (updates) missing fields are not required.
func ValidateRecord(m *Model, rec Record, partial bool) []FieldError {
	var errs []FieldError
	for i := range m.Fields {
		f := &m.Fields[i]
		val, present := rec[f.Name]
		if !present {
			if !partial && f.Required && f.Default == nil && f.Auto == "" {
				errs = append(errs, NewFieldError(f.Name, "is required"))
			}
			continue
		}
		if val == nil {
			if !f.Nullable {
				errs = append(errs, NewFieldError(f.Name, "must not be null"))
			}
			continue
		}
		if f.Validate == nil {
			continue
		}
		if err := validateValue(f, val); err != nil {
			errs = append(errs, NewFieldError(f.Name, err.Error()))
		}
	}
	return errs
}

func validateValue(f *Field, val any) error {
	v := f.Validate
	switch f.Type {
	case FieldTypeString, FieldTypeText, FieldTypeUUID:
		s, _ := val.(string)
		if v.MinLength != nil && len(s) < *v.MinLength {
			return fmt.Errorf("must be at least %d characters", *v.MinLength)
		}
		if v.MaxLength != nil && len(s) > *v.MaxLength {
			return fmt.Errorf("must be at most %d characters", *v.MaxLength)
		}
		if len(v.Enum) > 0 {
			for _, e := range v.Enum {
				if e == s {
					return nil
				}
			}
			return fmt.Errorf("must be one of: %s", strings.Join(v.Enum, ", "))
		}
		if v.Pattern != "" {
			re, err := regexp.Compile(v.Pattern)
			if err != nil {
				return fmt.Errorf("invalid pattern in schema: %w", err)
			}
			if !re.MatchString(s) {
				return fmt.Errorf("must match pattern %s", v.Pattern)
			}
		}
	case FieldTypeInteger, FieldTypeFloat, FieldTypeDecimal:
		var n float64
		switch x := val.(type) {
		case int64:
			n = float64(x)
		case float64:
			n = x
		case string:
			n, _ = strconv.ParseFloat(x, 64)
		}
		if v.Min != nil && n < *v.Min {
			return fmt.Errorf("must be at least %v", *v.Min)
		}
		if v.Max != nil && n > *v.Max {
			return fmt.Errorf("must be at most %v", *v.Max)
		}
	}
	return nil
}

// ApplyCreateDefaults fills in auto generated keys, schema defaults and
// maintained timestamps for a new record. It returns the primary key value
// when it is known before the insert runs (auto increment keys are only
// known afterwards).
func ApplyCreateDefaults(m *Model, rec Record, now time.Time) (any, error) {
	for i := range m.Fields {
		f := &m.Fields[i]
		if _, present := rec[f.Name]; present && rec[f.Name] != nil {
			continue
		}
		switch {
		case f.Auto == AutoUUID:
			rec[f.Name] = uuid.New().String()
		case f.Auto == AutoIncrement:
			delete(rec, f.Name) // the backend generates it
		case f.Default != nil:
			val, err := CoerceValue(f.Type, f.Default)
			if err != nil {
				return nil, fmt.Errorf("field %s: invalid default: %w", f.Name, err)
			}
			rec[f.Name] = val
		}
	}
	if m.Timestamps {
		rec[CreatedAtColumn] = now.UTC()
		rec[UpdatedAtColumn] = now.UTC()
	}
	return rec[m.PrimaryKeyName()], nil
}

// StampUpdate refreshes the maintained update timestamp.
func StampUpdate(m *Model, rec Record, now time.Time) {
	if m.Timestamps {
		rec[UpdatedAtColumn] = now.UTC()
	}
}

// ShapeRow converts a scanned SQL row back into a Record using the model's
// declared types, so the JSON response carries properly typed values
// regardless of what the driver returned.
func ShapeRow(m *Model, columns []string, values []any) Record {
	rec := make(Record, len(columns))
	for i, col := range columns {
		t, ok := m.ColumnType(col)
		if !ok {
			t = FieldTypeString
		}
		rec[col] = ShapeValue(t, values[i])
	}
	return rec
}

// ShapeValue normalizes a single driver value for output.
func ShapeValue(t FieldType, val any) any {
	if val == nil {
		return nil
	}
	if b, ok := val.([]byte); ok {
		val = string(b)
	}
	switch t {
	case FieldTypeBoolean:
		switch v := val.(type) {
		case bool:
			return v
		case int64:
			return v != 0
		case string:
			return v == "1" || strings.EqualFold(v, "true")
		}
	case FieldTypeInteger:
		switch v := val.(type) {
		case int64:
			return v
		case float64:
			return int64(v)
		case string:
			if i, err := strconv.ParseInt(v, 10, 64); err == nil {
				return i
			}
		}
	case FieldTypeFloat:
		switch v := val.(type) {
		case float64:
			return v
		case int64:
			return float64(v)
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
	case FieldTypeDecimal:
		switch v := val.(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int64:
			return strconv.FormatInt(v, 10)
		}
	case FieldTypeDate:
		switch v := val.(type) {
		case time.Time:
			return v.UTC().Format(DateFormat)
		case string:
			if ts, err := time.Parse(time.RFC3339, v); err == nil {
				return ts.UTC().Format(DateFormat)
			}
			if len(v) >= len(DateFormat) {
				return v[:len(DateFormat)]
			}
			return v
		}
	case FieldTypeDatetime:
		switch v := val.(type) {
		case time.Time:
			return v.UTC().Format(time.RFC3339)
		case string:
			if ts, err := time.Parse("2006-01-02 15:04:05", v); err == nil {
				return ts.UTC().Format(time.RFC3339)
			}
			return v
		}
	case FieldTypeJSON:
		if s, ok := val.(string); ok {
			var out any
			if err := json.Unmarshal([]byte(s), &out); err == nil {
				return out
			}
			return s
		}
		return val
	case FieldTypeUUID, FieldTypeString, FieldTypeText:
		if s, ok := val.(string); ok {
			return s
		}
	}
	if s, ok := val.(fmt.Stringer); ok {
		return s.String()
	}
	return val
}

// ArgValue converts a coerced record value into a bind argument the SQL
// drivers accept. Structured json values are serialized, everything else
// passes through.
func ArgValue(t FieldType, val any) any {
	if val == nil {
		return nil
	}
	if t == FieldTypeJSON {
		switch val.(type) {
		case string:
			return val
		default:
			buf, _ := json.Marshal(val)
			return string(buf)
		}
	}
	return val
}

// ChangedColumns compares two shaped records and returns the columns whose
// values differ, in the order given.
func ChangedColumns(before Record, after Record, columns []string) []string {
	var changed []string
	for _, col := range columns {
		b, _ := json.Marshal(before[col])
		a, _ := json.Marshal(after[col])
		if string(b) != string(a) {
			changed = append(changed, col)
		}
	}
	return changed
}
