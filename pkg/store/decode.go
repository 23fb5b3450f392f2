// Package store holds what the persistence backends share: decoding
// stored values back into the Go types of a record's fields.
package store

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/conduit-lang/fabrique/pkg/fabrique"
	"github.com/conduit-lang/fabrique/pkg/schema"
)

// Decode converts a value scanned from a driver into the Go type of the
// field. Backends disagree on representations (sqlite has no bool, lib/pq
// returns uuids as bytes) so every known shape is accepted.
func Decode(typ schema.TypeRef, raw any) (any, error) {
	if raw == nil {
		return typ.Zero(), nil
	}

	switch typ.Zero().(type) {
	case string:
		switch v := raw.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		case [16]byte:
			return uuid.UUID(v).String(), nil
		}
	case bool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case int64:
			return v != 0, nil
		case []byte:
			return strconv.ParseBool(string(v))
		case string:
			return strconv.ParseBool(v)
		}
	case uuid.UUID:
		switch v := raw.(type) {
		case uuid.UUID:
			return v, nil
		case [16]byte:
			return uuid.UUID(v), nil
		case string:
			return uuid.Parse(v)
		case []byte:
			if len(v) == 16 {
				return uuid.FromBytes(v)
			}
			return uuid.ParseBytes(v)
		}
	case time.Time:
		switch v := raw.(type) {
		case time.Time:
			return v, nil
		case string:
			return time.Parse(time.RFC3339Nano, v)
		case []byte:
			return time.Parse(time.RFC3339Nano, string(v))
		}
	case []byte:
		switch v := raw.(type) {
		case []byte:
			out := make([]byte, len(v))
			copy(out, v)
			return out, nil
		case string:
			return []byte(v), nil
		}
	case nil:
		// pointer or unknown types are handed back as the driver produced them
		return raw, nil
	default:
		switch v := raw.(type) {
		case []byte:
			return fabrique.ParseValue(typ, string(v))
		case string:
			return fabrique.ParseValue(typ, v)
		}
		return fabrique.Coerce(typ, raw)
	}

	return nil, fmt.Errorf("cannot decode %T into %s", raw, typ)
}

// DecodeRecord decodes scanned column values, in model column order
func DecodeRecord(model *schema.AnalysisOutput, values []any) (fabrique.Record, error) {
	fields := model.Fields()
	if len(values) != len(fields) {
		return nil, fmt.Errorf("%s: expected %d columns, got %d", model.Name(), len(fields), len(values))
	}

	rec := make(fabrique.Record, len(fields))
	for i, field := range fields {
		v, err := Decode(field.Decl.Type, values[i])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", model.Name(), field.Name(), err)
		}
		rec[field.Name()] = v
	}
	return rec, nil
}
