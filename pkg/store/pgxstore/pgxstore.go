// Package pgxstore persists dynamically built records in PostgreSQL through
// the native pgx interface. Statements are the ones sqlstore builds with
// dollar placeholders.
package pgxstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/conduit-lang/fabrique/pkg/fabrique"
	"github.com/conduit-lang/fabrique/pkg/schema"
	"github.com/conduit-lang/fabrique/pkg/store"
	"github.com/conduit-lang/fabrique/pkg/store/sqlstore"
)

// Conn is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx
type Conn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var (
	_ Conn = (*pgxpool.Pool)(nil)
	_ Conn = (*pgx.Conn)(nil)
	_ Conn = (pgx.Tx)(nil)
)

// Persister stores records with one INSERT per record
type Persister struct {
	logger *zap.Logger
}

var _ fabrique.Persister[Conn] = (*Persister)(nil)

// New creates a Persister. A nil logger disables logging.
func New(logger *zap.Logger) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{logger: logger}
}

// Connect opens a pool for the given connection string and checks it
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return pool, nil
}

// Create inserts rec and returns the row as stored
func (p *Persister) Create(ctx context.Context, conn Conn, model *schema.AnalysisOutput, rec fabrique.Record) (fabrique.Record, error) {
	if len(model.Fields()) == 0 {
		return nil, fmt.Errorf("%s has no columns to store", model.Name())
	}

	query, args := sqlstore.InsertQuery(model, rec, sqlstore.Dollar)
	p.logger.Debug("insert", zap.String("record", model.Name()), zap.String("query", query))

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to insert %s: %w", model.Name(), sqlstore.ConvertDBError(err))
	}

	records, err := collect(rows, model)
	if err != nil {
		return nil, fmt.Errorf("failed to insert %s: %w", model.Name(), sqlstore.ConvertDBError(err))
	}
	if len(records) != 1 {
		return nil, fmt.Errorf("failed to insert %s: expected one returned row, got %d", model.Name(), len(records))
	}

	return records[0], nil
}

// All selects every row of the model's table
func (p *Persister) All(ctx context.Context, conn Conn, model *schema.AnalysisOutput) ([]fabrique.Record, error) {
	query := sqlstore.SelectQuery(model)
	p.logger.Debug("select", zap.String("record", model.Name()), zap.String("query", query))

	rows, err := conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", model.Table(), err)
	}

	records, err := collect(rows, model)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", model.Table(), err)
	}
	return records, nil
}

func collect(rows pgx.Rows, model *schema.AnalysisOutput) ([]fabrique.Record, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (fabrique.Record, error) {
		values, err := row.Values()
		if err != nil {
			return nil, err
		}
		return store.DecodeRecord(model, values)
	})
}
