package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/fabrique/pkg/analysis"
	"github.com/conduit-lang/fabrique/pkg/fabrique"
	"github.com/conduit-lang/fabrique/pkg/schema"
)

var (
	i64      = schema.TypeRef{Name: "int64"}
	u32      = schema.TypeRef{Name: "uint32"}
	str      = schema.TypeRef{Name: "string"}
	uuidType = schema.TypeRef{Name: "UUID", Package: "github.com/google/uuid"}
	pk       = []schema.AnnotationGroup{{schema.Flag("primary_key")}}
)

func forgeRegistry(t *testing.T) *schema.Registry {
	t.Helper()

	registry, err := analysis.AnalyzeAll([]schema.RecordShape{
		{
			Name: "Hammer",
			Fields: []schema.FieldDecl{
				{Name: "id", Type: i64, Annotations: pk},
				{Name: "weight", Type: u32},
			},
		},
		{
			Name: "Anvil",
			Fields: []schema.FieldDecl{
				{Name: "id", Type: i64, Annotations: pk},
				{Name: "hammer_id", Type: i64, Annotations: []schema.AnnotationGroup{{schema.Ident("relation", "Hammer")}}},
				{Name: "label", Type: str},
			},
		},
	})
	require.NoError(t, err)
	return registry
}

func model(t *testing.T, registry *schema.Registry, name string) *schema.AnalysisOutput {
	t.Helper()
	m, ok := registry.Get(name)
	require.True(t, ok)
	return m
}

func TestInsertQuery(t *testing.T) {
	registry := forgeRegistry(t)
	anvil := model(t, registry, "Anvil")

	t.Run("zero primary key is generated by the database", func(t *testing.T) {
		query, args := InsertQuery(anvil, fabrique.Record{"id": int64(0), "hammer_id": int64(3), "label": "a"}, Dollar)
		assert.Equal(t, `INSERT INTO "anvils" ("hammer_id", "label") VALUES ($1, $2) RETURNING "id", "hammer_id", "label"`, query)
		assert.Equal(t, []any{int64(3), "a"}, args)
	})

	t.Run("explicit primary key", func(t *testing.T) {
		query, args := InsertQuery(anvil, fabrique.Record{"id": int64(9), "hammer_id": int64(3), "label": "a"}, Question)
		assert.Equal(t, `INSERT INTO "anvils" ("id", "hammer_id", "label") VALUES (?, ?, ?) RETURNING "id", "hammer_id", "label"`, query)
		assert.Equal(t, []any{int64(9), int64(3), "a"}, args)
	})

	t.Run("missing values default", func(t *testing.T) {
		_, args := InsertQuery(anvil, fabrique.Record{}, Dollar)
		assert.Equal(t, []any{int64(0), ""}, args)
	})

	t.Run("default values", func(t *testing.T) {
		hammerOnlyKey, err := analysis.Analyze(schema.RecordShape{
			Name:   "Token",
			Fields: []schema.FieldDecl{{Name: "id", Type: uuidType, Annotations: pk}},
		})
		require.NoError(t, err)

		query, args := InsertQuery(hammerOnlyKey, fabrique.Record{"id": uuid.Nil}, Dollar)
		assert.Equal(t, `INSERT INTO "tokens" DEFAULT VALUES RETURNING "id"`, query)
		assert.Empty(t, args)
	})
}

func TestSelectQuery(t *testing.T) {
	registry := forgeRegistry(t)
	assert.Equal(t, `SELECT "id", "weight" FROM "hammers"`, SelectQuery(model(t, registry, "Hammer")))
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"anvils"`, QuoteIdent("anvils"))
	assert.Equal(t, `"we""ird"`, QuoteIdent(`we"ird`))
}

func TestParsePlaceholder(t *testing.T) {
	ph, err := ParsePlaceholder("question")
	require.NoError(t, err)
	assert.Equal(t, Question, ph)

	ph, err = ParsePlaceholder("")
	require.NoError(t, err)
	assert.Equal(t, Dollar, ph)

	_, err = ParsePlaceholder("colon")
	assert.Error(t, err)
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestPersister_CreateWithRelation(t *testing.T) {
	db, mock := newMock(t)
	f := fabrique.NewFactory[Conn](forgeRegistry(t), New())

	mock.ExpectQuery(`INSERT INTO "hammers" ("weight") VALUES ($1) RETURNING "id", "weight"`).
		WithArgs(int64(12)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "weight"}).AddRow(int64(41), int64(12)))
	mock.ExpectQuery(`INSERT INTO "anvils" ("hammer_id", "label") VALUES ($1, $2) RETURNING "id", "hammer_id", "label"`).
		WithArgs(int64(41), "anvil").
		WillReturnRows(sqlmock.NewRows([]string{"id", "hammer_id", "label"}).AddRow(int64(1), int64(41), "anvil"))

	anvil, err := f.MustBuilder("Anvil").
		Set("label", "anvil").
		For("hammer", func(h fabrique.Builder[Conn]) fabrique.Builder[Conn] {
			return h.Set("weight", 12)
		}).
		Create(context.Background(), db)
	require.NoError(t, err)

	assert.Equal(t, fabrique.Record{"id": int64(1), "hammer_id": int64(41), "label": "anvil"}, anvil)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersister_CreateRelationFailure(t *testing.T) {
	db, mock := newMock(t)
	f := fabrique.NewFactory[Conn](forgeRegistry(t), New())

	mock.ExpectQuery(`INSERT INTO "hammers" ("weight") VALUES ($1) RETURNING "id", "weight"`).
		WillReturnError(&pgconn.PgError{Code: "23514", Detail: "weight must be positive"})

	_, err := f.MustBuilder("Anvil").
		For("hammer", func(h fabrique.Builder[Conn]) fabrique.Builder[Conn] { return h }).
		Create(context.Background(), db)

	require.ErrorIs(t, err, ErrCheckViolation)
	assert.Contains(t, err.Error(), "weight must be positive")
	// the anvil insert was never attempted
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersister_All(t *testing.T) {
	db, mock := newMock(t)
	f := fabrique.NewFactory[Conn](forgeRegistry(t), New())

	mock.ExpectQuery(`SELECT "id", "weight" FROM "hammers"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "weight"}).
			AddRow(int64(1), int64(5)).
			AddRow(int64(2), []byte("7")))

	hammers, err := f.All(context.Background(), db, "Hammer")
	require.NoError(t, err)
	assert.Equal(t, []fabrique.Record{
		{"id": int64(1), "weight": uint32(5)},
		{"id": int64(2), "weight": uint32(7)},
	}, hammers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersister_AllQueryError(t *testing.T) {
	db, mock := newMock(t)
	f := fabrique.NewFactory[Conn](forgeRegistry(t), New())

	boom := errors.New("connection reset")
	mock.ExpectQuery(`SELECT "id", "weight" FROM "hammers"`).WillReturnError(boom)

	_, err := f.All(context.Background(), db, "Hammer")
	assert.ErrorIs(t, err, boom)
}

func TestConvertDBError(t *testing.T) {
	other := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"pgx unique", &pgconn.PgError{Code: "23505"}, ErrUniqueViolation},
		{"pgx foreign key", &pgconn.PgError{Code: "23503"}, ErrForeignKeyViolation},
		{"pgx not null", &pgconn.PgError{Code: "23502", ColumnName: "weight"}, ErrNotNullViolation},
		{"pq unique", &pq.Error{Code: "23505"}, ErrUniqueViolation},
		{"pq check", &pq.Error{Code: "23514"}, ErrCheckViolation},
		{"sqlite primary key", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey}, ErrUniqueViolation},
		{"sqlite not null", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintNotNull}, ErrNotNullViolation},
		{"unrelated", other, other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConvertDBError(tt.err)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}

	assert.True(t, IsUniqueViolation(ConvertDBError(&pq.Error{Code: "23505"})))
	assert.True(t, IsForeignKeyViolation(ConvertDBError(&pgconn.PgError{Code: "23503"})))
}
