package fabrique

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/conduit-lang/fabrique/pkg/schema"
	"github.com/conduit-lang/fabrique/pkg/synth"
)

// Callback customizes the builder of a related record
type Callback[C any] func(Builder[C]) Builder[C]

// Builder holds optional values for the fields of one record plus pending
// relation callbacks. The zero Builder is not usable; get one from a Factory.
//
// Misuse (unknown field or relation, ill-typed value) is remembered and
// returned by Create and Make; the first such error wins.
type Builder[C any] struct {
	factory  *Factory[C]
	model    *schema.AnalysisOutput
	contract *synth.Contract

	slots   map[string]any
	pending map[string]Callback[C]
	err     error
}

// Record returns the name of the record the builder produces
func (b Builder[C]) Record() string {
	if b.model == nil {
		return ""
	}
	return b.model.Name()
}

// Err returns the first misuse error recorded on the builder
func (b Builder[C]) Err() error {
	return b.err
}

// Fail returns a builder that reports err from Create and Make, unless an
// earlier error is already recorded
func (b Builder[C]) Fail(err error) Builder[C] {
	if b.err == nil {
		b.err = err
	}
	return b
}

// Set returns a builder with the field's slot set to value. Numeric values
// are converted to the field's type when they fit.
func (b Builder[C]) Set(field string, value any) Builder[C] {
	if b.err != nil {
		return b
	}

	decl, ok := b.model.Field(field)
	if !ok {
		b.err = fmt.Errorf("%w: %s.%s", ErrUnknownField, b.model.Name(), field)
		return b
	}

	v, err := Coerce(decl.Decl.Type, value)
	if err != nil {
		b.err = fmt.Errorf("%s.%s: %w", b.model.Name(), field, err)
		return b
	}

	slots := maps.Clone(b.slots)
	if slots == nil {
		slots = make(map[string]any, 1)
	}
	slots[field] = v
	b.slots = slots
	return b
}

// SetAll applies Set for every entry of values, in field name order
func (b Builder[C]) SetAll(values Record) Builder[C] {
	for _, field := range slices.Sorted(maps.Keys(values)) {
		b = b.Set(field, values[field])
	}
	return b
}

// For stores the callback used to create the related record of the named
// relation. A later call replaces an earlier one; a nil callback clears it.
func (b Builder[C]) For(base string, callback Callback[C]) Builder[C] {
	if b.err != nil {
		return b
	}

	if _, ok := b.contract.Hook(base); !ok {
		b.err = fmt.Errorf("%w: %s.%s", ErrUnknownRelation, b.model.Name(), base)
		return b
	}

	pending := maps.Clone(b.pending)
	if pending == nil {
		pending = make(map[string]Callback[C], 1)
	}
	if callback == nil {
		delete(pending, base)
	} else {
		pending[base] = callback
	}
	b.pending = pending
	return b
}

// Make assembles the record from the set slots, defaulting the rest. It
// neither resolves relations nor persists.
func (b Builder[C]) Make() (Record, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.assemble(b.slots), nil
}

// Create resolves pending relations in field order, assembles the record
// and persists it. The first failure aborts and is returned as is.
func (b Builder[C]) Create(ctx context.Context, conn C) (Record, error) {
	if b.err != nil {
		return nil, b.err
	}

	slots := maps.Clone(b.slots)
	if slots == nil {
		slots = make(map[string]any)
	}

	var rec Record
	for _, step := range b.contract.Steps {
		switch step.Kind {
		case synth.StepResolveRelation:
			hook := b.contract.Hooks[step.Hook]
			callback, ok := b.pending[hook.BaseName]
			if !ok {
				continue
			}

			key, err := b.resolve(ctx, conn, hook, callback)
			if err != nil {
				return nil, err
			}
			slots[hook.OwnerField] = key

		case synth.StepAssemble:
			rec = b.assemble(slots)

		case synth.StepPersist:
			b.factory.logger.Debug("persisting record",
				zap.String("record", b.model.Name()),
				zap.String("table", b.model.Table()))
			return b.factory.persister.Create(ctx, conn, b.model, rec)
		}
	}

	return rec, nil
}

func (b Builder[C]) resolve(ctx context.Context, conn C, hook synth.Hook, callback Callback[C]) (any, error) {
	related, err := b.factory.Builder(hook.RelatedRecord)
	if err != nil {
		return nil, err
	}

	next := callback(related)
	if next.Record() != hook.RelatedRecord {
		return nil, fmt.Errorf("%w: %s.%s", ErrForeignBuilder, b.model.Name(), hook.BaseName)
	}

	created, err := next.Create(ctx, conn)
	if err != nil {
		return nil, err
	}

	key, ok := created[hook.ReferencedKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrMissingKey, hook.RelatedRecord, hook.ReferencedKey)
	}

	b.factory.logger.Debug("resolved relation",
		zap.String("record", b.model.Name()),
		zap.String("relation", hook.BaseName),
		zap.String("related", hook.RelatedRecord),
		zap.Any("key", key))

	return key, nil
}

func (b Builder[C]) assemble(slots map[string]any) Record {
	fields := b.model.Fields()
	rec := make(Record, len(fields))
	for _, field := range fields {
		if v, ok := slots[field.Name()]; ok {
			rec[field.Name()] = v
			continue
		}
		rec[field.Name()] = field.Decl.Type.Zero()
	}
	return rec
}
