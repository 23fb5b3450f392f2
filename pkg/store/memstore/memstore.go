// Package memstore is an in-memory persistence backend for dynamic builders.
// It is meant for tests and the seed command: nothing survives the process.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/conduit-lang/fabrique/pkg/fabrique"
	"github.com/conduit-lang/fabrique/pkg/schema"
)

// DB holds the stored records of every table. It is safe for concurrent use.
type DB struct {
	mu        sync.Mutex
	tables    map[string][]fabrique.Record
	sequences map[string]uint64
}

// New creates an empty database
func New() *DB {
	return &DB{
		tables:    make(map[string][]fabrique.Record),
		sequences: make(map[string]uint64),
	}
}

// Len returns the number of records stored in a table
func (db *DB) Len(table string) int {
	db.mu.Lock()
	defer db.mu.Unlock()

	return len(db.tables[table])
}

// Reset drops every table and sequence
func (db *DB) Reset() {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.tables = make(map[string][]fabrique.Record)
	db.sequences = make(map[string]uint64)
}

// Persister stores records in a *DB
type Persister struct{}

var _ fabrique.Persister[*DB] = Persister{}

// Create stores a copy of rec. Primary keys still holding their zero value
// are generated: integers from a per-table sequence, UUIDs and strings
// from uuid.New.
func (Persister) Create(ctx context.Context, db *DB, model *schema.AnalysisOutput, rec fabrique.Record) (fabrique.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stored := rec.Clone()

	db.mu.Lock()
	defer db.mu.Unlock()

	for _, name := range model.PrimaryKeys() {
		field, _ := model.Field(name)
		if !fabrique.IsZero(stored[name]) {
			continue
		}

		key, err := db.generateKey(model.Table(), field.Decl.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", model.Name(), name, err)
		}
		stored[name] = key
	}

	db.tables[model.Table()] = append(db.tables[model.Table()], stored)
	return stored.Clone(), nil
}

// All returns copies of the stored records in insertion order
func (Persister) All(ctx context.Context, db *DB, model *schema.AnalysisOutput) ([]fabrique.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	rows := db.tables[model.Table()]
	records := make([]fabrique.Record, len(rows))
	for i, row := range rows {
		records[i] = row.Clone()
	}
	return records, nil
}

// generateKey must be called with db.mu held
func (db *DB) generateKey(table string, typ schema.TypeRef) (any, error) {
	switch {
	case typ.IsInteger():
		db.sequences[table]++
		return fabrique.Coerce(typ, db.sequences[table])
	case typ.IsUUID():
		return uuid.New(), nil
	case typ.Name == "string" && typ.Package == "" && !typ.Pointer:
		return uuid.NewString(), nil
	default:
		return nil, fmt.Errorf("cannot generate a primary key of type %s", typ)
	}
}
