package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Row is a flat record pulled from a source collection. Values are scalars,
// []any for list-typed columns, or map[string]any for JSON object columns.
// List and object values may also arrive still JSON-encoded as strings.
type Row = map[string]any

// ValueType is the declared type of a node/relationship property. Every field
// in the mapping document carries one, and every conversion - at mapping time,
// at serialization time, and at load-time endpoint matching - goes through
// Coerce with the same declared type so a value survives the text round trip.
type ValueType string

const (
	TypeString ValueType = "string"
	TypeInt    ValueType = "int"
	TypeFloat  ValueType = "float"
	TypeBool   ValueType = "boolean"
)

// ParseValueType validates a type name from the mapping document.
func ParseValueType(s string) (ValueType, error) {
	switch ValueType(s) {
	case TypeString, TypeInt, TypeFloat, TypeBool:
		return ValueType(s), nil
	case "":
		return TypeString, nil
	default:
		return "", fmt.Errorf("unknown value type %q", s)
	}
}

// ErrEmpty reports that a source value was null, absent, or blank. Callers
// decide whether that skips the row (ids) or omits the property.
var ErrEmpty = errors.New("empty value")

// CoercionError is fatal: a source value could not be converted to the
// declared type of its target property.
type CoercionError struct {
	Field  string
	Row    int
	Value  any
	Target ValueType
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("cannot coerce value %v in field %q (row %d) to %s",
		e.Value, e.Field, e.Row, e.Target)
}

// NodeRecord is one materialized node: a typed id plus its properties.
// Records are immutable once created.
type NodeRecord struct {
	ID    any
	Props map[string]any
}

// EdgeRecord is one materialized relationship. StartID and EndID are typed
// with the id type of the corresponding node label.
type EdgeRecord struct {
	StartID any
	EndID   any
	Type    string
	Props   map[string]any
}

// nullTokens are string spellings of "no value" as they come back from text
// exports of the source system.
var nullTokens = map[string]bool{
	"nan": true, "null": true, "none": true, "<nil>": true,
}

// Coerce converts a raw source value to its declared type. The returned value
// is one of string, int64, float64, or bool. A nil, blank, or null-token value
// yields ErrEmpty rather than a zero value, so absence stays distinguishable;
// empty objects and arrays count as absent too. An undeclared type means
// string, matching ParseValueType.
func Coerce(v any, t ValueType) (any, error) {
	if t == "" {
		t = TypeString
	}
	if v == nil {
		return nil, ErrEmpty
	}
	switch x := v.(type) {
	case map[string]any:
		if len(x) == 0 {
			return nil, ErrEmpty
		}
		if t != TypeString {
			return nil, fmt.Errorf("cannot interpret object as %s", t)
		}
		enc, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(enc), nil
	case []any:
		if len(x) == 0 {
			return nil, ErrEmpty
		}
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" || s == "{}" || s == "[]" || nullTokens[strings.ToLower(s)] {
			return nil, ErrEmpty
		}
		v = s
	}

	switch t {
	case TypeString:
		switch x := v.(type) {
		case string:
			return Unescape(x), nil
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64), nil
		case json.Number:
			return x.String(), nil
		case bool:
			return strconv.FormatBool(x), nil
		default:
			return strings.TrimSpace(fmt.Sprintf("%v", x)), nil
		}
	case TypeInt:
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		// Text exports routinely store ints as "104.0"; truncate like the
		// source system does.
		return int64(f), nil
	case TypeFloat:
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		return f, nil
	case TypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			switch strings.ToLower(x) {
			case "true", "1", "yes", "on":
				return true, nil
			default:
				return false, nil
			}
		case float64:
			return x != 0, nil
		case int:
			return x != 0, nil
		case int64:
			return x != 0, nil
		case json.Number:
			f, _ := x.Float64()
			return f != 0, nil
		default:
			return nil, fmt.Errorf("cannot interpret %T as boolean", v)
		}
	default:
		return nil, fmt.Errorf("unknown value type %q", t)
	}
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("not numeric: %q", x)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("not numeric: %T", v)
	}
}

// CoerceList converts a list-typed source value to a flat []string. Scalar
// elements pass through as their string form; object elements are retained as
// JSON-encoded strings, since the graph property is a plain string array.
// The value may be a native slice or a still-encoded JSON array.
func CoerceList(v any) ([]string, error) {
	if v == nil {
		return nil, ErrEmpty
	}
	var elems []any
	switch x := v.(type) {
	case []any:
		elems = x
	case []string:
		out := make([]string, 0, len(x))
		for _, s := range x {
			out = append(out, Unescape(s))
		}
		return out, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" || nullTokens[strings.ToLower(s)] {
			return nil, ErrEmpty
		}
		if err := json.Unmarshal([]byte(s), &elems); err != nil {
			return nil, fmt.Errorf("not a JSON array: %w", err)
		}
	default:
		return nil, fmt.Errorf("not a list: %T", v)
	}

	out := make([]string, 0, len(elems))
	for _, el := range elems {
		switch e := el.(type) {
		case nil:
			continue
		case string:
			out = append(out, Unescape(e))
		case map[string]any:
			b, err := json.Marshal(e)
			if err != nil {
				return nil, err
			}
			out = append(out, string(b))
		case float64:
			out = append(out, strconv.FormatFloat(e, 'f', -1, 64))
		case bool:
			out = append(out, strconv.FormatBool(e))
		default:
			out = append(out, fmt.Sprintf("%v", e))
		}
	}
	return out, nil
}

// ObjectList parses a list-of-objects column for expand-list fan-out. Each
// element becomes its own map; non-object elements are rejected because an
// expand-list mapping derives sub-fields by key.
func ObjectList(v any) ([]map[string]any, error) {
	if v == nil {
		return nil, ErrEmpty
	}
	var elems []any
	switch x := v.(type) {
	case []any:
		elems = x
	case []map[string]any:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" || nullTokens[strings.ToLower(s)] {
			return nil, ErrEmpty
		}
		if err := json.Unmarshal([]byte(s), &elems); err != nil {
			return nil, fmt.Errorf("not a JSON array: %w", err)
		}
	default:
		return nil, fmt.Errorf("not a list: %T", v)
	}
	if len(elems) == 0 {
		return nil, ErrEmpty
	}
	out := make([]map[string]any, 0, len(elems))
	for _, el := range elems {
		obj, ok := el.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("array element is %T, expected object", el)
		}
		out = append(out, obj)
	}
	return out, nil
}

// IsEmpty reports whether a coerced value should be omitted from a record:
// empty strings, arrays, and objects are absent in the graph, never stored
// as empty values.
func IsEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []string:
		return len(x) == 0
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	default:
		return false
	}
}

// Unescape decodes escape sequences (\uXXXX, \n, \t, ...) left in string
// values by upstream text encoding, so the stored property holds the literal
// characters. Strings without a backslash are returned unchanged.
func Unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	quoted := `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	var out string
	if err := json.Unmarshal([]byte(quoted), &out); err != nil {
		return s
	}
	return out
}

// FormatValue renders a coerced value as a bulk-format cell. ParseValue is
// its inverse given the same declared type.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case []string:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// ParseValue reads a bulk-format cell back into its typed form. list selects
// the string-array encoding used for list properties.
func ParseValue(s string, t ValueType, list bool) (any, error) {
	if list {
		if strings.TrimSpace(s) == "" {
			return nil, ErrEmpty
		}
		var out []string
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("malformed list cell: %w", err)
		}
		return out, nil
	}
	return Coerce(s, t)
}
