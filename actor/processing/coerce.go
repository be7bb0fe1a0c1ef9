package processing

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/teilomillet/plexity/errors"
)

// truthy reports whether v counts as set: nil, false, zero numbers and
// empty strings, lists and objects do not.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	default:
		return !rv.IsZero()
	}
}

// optionalString returns the field when it is set, "" when it is not, and
// an InvalidInput when it is set to something other than a string.
func optionalString(in RawInput, field string) (string, error) {
	v := in[field]
	if !truthy(v) {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.NewInvalidInputError(fmt.Sprintf("%s must be a string", field), map[string]interface{}{
			"field": field,
			"type":  fmt.Sprintf("%T", v),
		})
	}
	return s, nil
}

// floatOrDefault parses the field as a float, or returns def when the
// field is absent or null.
func floatOrDefault(in RawInput, field string, def float64) (float64, error) {
	v, ok := in[field]
	if !ok || v == nil {
		return def, nil
	}
	f, err := parseFloat(v)
	if err != nil {
		return 0, numericError(field, v, err)
	}
	return f, nil
}

// optionalInt parses the field as an int, or returns nil when the field is
// absent or null.
func optionalInt(in RawInput, field string) (*int, error) {
	v, ok := in[field]
	if !ok || v == nil {
		return nil, nil
	}
	n, err := parseInt(v)
	if err != nil {
		return nil, numericError(field, v, err)
	}
	return &n, nil
}

func numericError(field string, v any, err error) error {
	return errors.NewError(errors.InvalidInput, fmt.Sprintf("%s must be a number", field), map[string]interface{}{
		"field": field,
		"value": fmt.Sprint(v),
	}, err)
}

// parseFloat accepts numbers, numeric strings and booleans.
// NaN and infinities are rejected since they cannot be sent as JSON.
func parseFloat(v any) (float64, error) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case int32:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, err
		}
		f = parsed
	case bool:
		if t {
			f = 1
		}
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value %v", f)
	}
	return f, nil
}

// parseInt accepts integers, floats (truncated toward zero), integer
// strings and booleans. A string holding a fraction is rejected.
func parseInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return fromInt64(t)
	case int32:
		return int(t), nil
	case float64:
		return truncate(t)
	case float32:
		return truncate(float64(t))
	case json.Number:
		n, err := t.Int64()
		if err == nil {
			return fromInt64(n)
		}
		if errors.Is(err, strconv.ErrRange) {
			return 0, err
		}
		f, err := t.Float64()
		if err != nil {
			return 0, err
		}
		return truncate(f)
	case string:
		return strconv.Atoi(strings.TrimSpace(t))
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// truncate rounds f toward zero. Values outside the int range are
// rejected; converting them is undefined.
func truncate(f float64) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value %v", f)
	}
	f = math.Trunc(f)
	if f < math.MinInt || f >= -math.MinInt {
		return 0, fmt.Errorf("value %v: %w", f, strconv.ErrRange)
	}
	return int(f), nil
}

func fromInt64(n int64) (int, error) {
	if n < math.MinInt || n > math.MaxInt {
		return 0, fmt.Errorf("value %d: %w", n, strconv.ErrRange)
	}
	return int(n), nil
}
