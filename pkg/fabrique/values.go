package fabrique

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/conduit-lang/fabrique/pkg/schema"
)

// Coerce converts value to the Go type described by t. Values already of
// that type are returned as is; numbers convert between numeric kinds when
// they fit. Types without a known zero value accept anything.
func Coerce(t schema.TypeRef, value any) (any, error) {
	zero := t.Zero()
	if zero == nil {
		return value, nil
	}
	if value == nil {
		return nil, fmt.Errorf("%w: nil for %s", ErrInvalidValue, t)
	}

	target := reflect.TypeOf(zero)
	v := reflect.ValueOf(value)
	if v.Type() == target {
		return value, nil
	}

	if isNumber(v.Kind()) && isNumber(target.Kind()) {
		if converted, ok := convertNumber(v, target); ok {
			return converted.Interface(), nil
		}
		return nil, fmt.Errorf("%w: %v does not fit in %s", ErrInvalidValue, value, t)
	}

	if v.Kind() == target.Kind() && v.CanConvert(target) {
		return v.Convert(target).Interface(), nil
	}

	return nil, fmt.Errorf("%w: %T is not %s", ErrInvalidValue, value, t)
}

// ParseValue parses the textual form of a value of type t, as given on a
// command line
func ParseValue(t schema.TypeRef, text string) (any, error) {
	if t.Pointer {
		return nil, fmt.Errorf("%w: cannot parse pointer type %s", ErrInvalidValue, t)
	}

	switch t.Zero().(type) {
	case string:
		return text, nil
	case bool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return b, nil
	case int, int8, int16, int32, int64:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return Coerce(t, n)
	case uint, uint8, uint16, uint32, uint64:
		n, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return Coerce(t, n)
	case float32, float64:
		n, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return Coerce(t, n)
	case time.Time:
		ts, err := time.Parse(time.RFC3339, text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return ts, nil
	case time.Duration:
		d, err := time.ParseDuration(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return d, nil
	case uuid.UUID:
		id, err := uuid.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return id, nil
	case []byte:
		return []byte(text), nil
	default:
		return nil, fmt.Errorf("%w: cannot parse values of type %s", ErrInvalidValue, t)
	}
}

func isNumber(k reflect.Kind) bool {
	return isInt(k) || isUint(k) || k == reflect.Float32 || k == reflect.Float64
}

func isInt(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUint(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

// convertNumber converts v to target, refusing overflow, sign loss and
// fractional loss
func convertNumber(v reflect.Value, target reflect.Type) (reflect.Value, bool) {
	out := reflect.New(target).Elem()

	switch {
	case isInt(v.Kind()):
		n := v.Int()
		switch {
		case isInt(target.Kind()):
			if out.OverflowInt(n) {
				return reflect.Value{}, false
			}
			out.SetInt(n)
		case isUint(target.Kind()):
			if n < 0 || out.OverflowUint(uint64(n)) {
				return reflect.Value{}, false
			}
			out.SetUint(uint64(n))
		default:
			out.SetFloat(float64(n))
		}

	case isUint(v.Kind()):
		n := v.Uint()
		switch {
		case isInt(target.Kind()):
			if n > 1<<63-1 || out.OverflowInt(int64(n)) {
				return reflect.Value{}, false
			}
			out.SetInt(int64(n))
		case isUint(target.Kind()):
			if out.OverflowUint(n) {
				return reflect.Value{}, false
			}
			out.SetUint(n)
		default:
			out.SetFloat(float64(n))
		}

	default:
		f := v.Float()
		switch {
		case isInt(target.Kind()):
			if f != float64(int64(f)) || out.OverflowInt(int64(f)) {
				return reflect.Value{}, false
			}
			out.SetInt(int64(f))
		case isUint(target.Kind()):
			if f < 0 || f != float64(uint64(f)) || out.OverflowUint(uint64(f)) {
				return reflect.Value{}, false
			}
			out.SetUint(uint64(f))
		default:
			if out.OverflowFloat(f) {
				return reflect.Value{}, false
			}
			out.SetFloat(f)
		}
	}

	return out, true
}
