// Package sqlstore persists dynamically built records through database/sql.
//
// Any driver that understands INSERT ... RETURNING works: postgres through
// pgx/stdlib or lib/pq, and sqlite through go-sqlite3. Tables are expected
// to exist; sqlstore never creates or migrates them.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/conduit-lang/fabrique/pkg/fabrique"
	"github.com/conduit-lang/fabrique/pkg/schema"
	"github.com/conduit-lang/fabrique/pkg/store"
)

// Conn is satisfied by *sql.DB, *sql.Tx and *sql.Conn
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Conn = (*sql.DB)(nil)
	_ Conn = (*sql.Tx)(nil)
	_ Conn = (*sql.Conn)(nil)
)

// Option configures a Persister
type Option func(*Persister)

// WithPlaceholder sets the bind parameter style, Dollar by default
func WithPlaceholder(ph Placeholder) Option {
	return func(p *Persister) {
		p.placeholder = ph
	}
}

// WithLogger logs every statement at debug level
func WithLogger(logger *zap.Logger) Option {
	return func(p *Persister) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Persister stores records with one INSERT per record
type Persister struct {
	placeholder Placeholder
	logger      *zap.Logger
}

var _ fabrique.Persister[Conn] = (*Persister)(nil)

// New creates a Persister
func New(opts ...Option) *Persister {
	p := &Persister{placeholder: Dollar, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Create inserts rec and returns the row as stored, including generated
// primary keys and column defaults
func (p *Persister) Create(ctx context.Context, conn Conn, model *schema.AnalysisOutput, rec fabrique.Record) (fabrique.Record, error) {
	if len(model.Fields()) == 0 {
		return nil, fmt.Errorf("%s has no columns to store", model.Name())
	}

	query, args := InsertQuery(model, rec, p.placeholder)
	p.logger.Debug("insert", zap.String("record", model.Name()), zap.String("query", query))

	values := scanTargets(len(model.Fields()))
	if err := conn.QueryRowContext(ctx, query, args...).Scan(values.pointers...); err != nil {
		return nil, fmt.Errorf("failed to insert %s: %w", model.Name(), ConvertDBError(err))
	}

	return store.DecodeRecord(model, values.raw)
}

// All selects every row of the model's table
func (p *Persister) All(ctx context.Context, conn Conn, model *schema.AnalysisOutput) ([]fabrique.Record, error) {
	query := SelectQuery(model)
	p.logger.Debug("select", zap.String("record", model.Name()), zap.String("query", query))

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", model.Table(), ConvertDBError(err))
	}
	defer rows.Close()

	var records []fabrique.Record
	for rows.Next() {
		values := scanTargets(len(model.Fields()))
		if err := rows.Scan(values.pointers...); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", model.Table(), err)
		}

		rec, err := store.DecodeRecord(model, values.raw)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", model.Table(), err)
	}

	return records, nil
}

type targets struct {
	raw      []any
	pointers []any
}

func scanTargets(n int) targets {
	t := targets{raw: make([]any, n), pointers: make([]any, n)}
	for i := range t.raw {
		t.pointers[i] = &t.raw[i]
	}
	return t
}
