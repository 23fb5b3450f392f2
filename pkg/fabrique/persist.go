// Package fabrique builds records from their analyzed schema and hands them
// to a pluggable persistence mechanism.
//
// A Factory creates Builders by record name. Builders are plain values: every
// setter returns a new builder and leaves the receiver untouched, so a
// partially configured builder can be reused as a template.
//
//	f := fabrique.NewFactory(registry, memstore.Persister{})
//	anvil, err := f.MustBuilder("Anvil").
//		For("hammer", func(h fabrique.Builder[*memstore.DB]) fabrique.Builder[*memstore.DB] {
//			return h.Set("id", uint32(100))
//		}).
//		Create(ctx, db)
//
// Generated factories (see the fabrique generate command) follow the same
// protocol with static types and persist through Persistable.
package fabrique

import (
	"context"
	"maps"
	"reflect"

	"github.com/conduit-lang/fabrique/pkg/schema"
)

// Record is a dynamically built record: field name to value
type Record map[string]any

// Clone returns a shallow copy of the record
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return maps.Clone(r)
}

// IsZero reports whether v is nil or the zero value of its type. Stores
// use it to decide which primary keys to generate.
func IsZero(v any) bool {
	if v == nil {
		return true
	}
	return reflect.ValueOf(v).IsZero()
}

// Persister stores dynamically built records. C is the connection type;
// fabrique passes it through untouched and never locks it.
type Persister[C any] interface {
	// Create persists rec and returns its stored form, e.g. with generated
	// identifiers populated
	Create(ctx context.Context, conn C, model *schema.AnalysisOutput, rec Record) (Record, error)

	// All returns every stored record of the model
	All(ctx context.Context, conn C, model *schema.AnalysisOutput) ([]Record, error)
}

// Persistable is implemented by record types that store themselves.
// Generated factories call Create on the assembled record.
type Persistable[T any, C any] interface {
	Create(ctx context.Context, conn C) (T, error)
	All(ctx context.Context, conn C) ([]T, error)
}
