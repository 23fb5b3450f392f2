//go:build integration

package pgxstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/conduit-lang/fabrique/pkg/analysis"
	"github.com/conduit-lang/fabrique/pkg/fabrique"
	"github.com/conduit-lang/fabrique/pkg/schema"
	"github.com/conduit-lang/fabrique/pkg/store/sqlstore"
)

const postgresSchema = `
CREATE TABLE hammers (
	id     uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	weight integer NOT NULL CHECK (weight >= 0)
);
CREATE TABLE anvils (
	id        bigserial PRIMARY KEY,
	hammer_id uuid NOT NULL REFERENCES hammers (id),
	label     text NOT NULL
);
`

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("fabrique"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { ctr.Terminate(context.Background()) }) //nolint:errcheck

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Exec(ctx, postgresSchema)
	require.NoError(t, err)

	return dsn
}

func forgeRegistry(t *testing.T) *schema.Registry {
	t.Helper()

	pk := []schema.AnnotationGroup{{schema.Flag("primary_key")}}
	id := schema.TypeRef{Name: "UUID", Package: "github.com/google/uuid"}

	registry, err := analysis.AnalyzeAll([]schema.RecordShape{
		{
			Name: "Hammer",
			Fields: []schema.FieldDecl{
				{Name: "id", Type: id, Annotations: pk},
				{Name: "weight", Type: schema.TypeRef{Name: "int32"}},
			},
		},
		{
			Name: "Anvil",
			Fields: []schema.FieldDecl{
				{Name: "id", Type: schema.TypeRef{Name: "int64"}, Annotations: pk},
				{Name: "hammer_id", Type: id, Annotations: []schema.AnnotationGroup{{schema.Ident("relation", "Hammer")}}},
				{Name: "label", Type: schema.TypeRef{Name: "string"}},
			},
		},
	})
	require.NoError(t, err)
	return registry
}

func TestPostgres(t *testing.T) {
	dsn := startPostgres(t)
	registry := forgeRegistry(t)
	ctx := context.Background()

	t.Run("pgx pool", func(t *testing.T) {
		pool, err := pgxpool.New(ctx, dsn)
		require.NoError(t, err)
		defer pool.Close()

		f := fabrique.NewFactory[Conn](registry, New(nil))

		anvil, err := f.MustBuilder("Anvil").
			Set("label", "pgx").
			For("hammer", func(h fabrique.Builder[Conn]) fabrique.Builder[Conn] {
				return h.Set("weight", 40)
			}).
			Create(ctx, pool)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, anvil["hammer_id"])
		assert.NotZero(t, anvil["id"])

		hammers, err := f.All(ctx, pool, "Hammer")
		require.NoError(t, err)
		require.NotEmpty(t, hammers)
		assert.Equal(t, int32(40), hammers[0]["weight"])
	})

	t.Run("pgx check violation aborts the owner", func(t *testing.T) {
		pool, err := pgxpool.New(ctx, dsn)
		require.NoError(t, err)
		defer pool.Close()

		f := fabrique.NewFactory[Conn](registry, New(nil))

		_, err = f.MustBuilder("Anvil").
			For("hammer", func(h fabrique.Builder[Conn]) fabrique.Builder[Conn] {
				return h.Set("weight", -1)
			}).
			Create(ctx, pool)
		assert.ErrorIs(t, err, sqlstore.ErrCheckViolation)
	})

	for _, driver := range []string{"pgx", "postgres"} {
		t.Run("database/sql "+driver, func(t *testing.T) {
			db, err := sql.Open(driver, dsn)
			require.NoError(t, err)
			defer db.Close()

			f := fabrique.NewFactory[sqlstore.Conn](registry, sqlstore.New())

			anvil, err := f.MustBuilder("Anvil").
				Set("label", driver).
				For("hammer", func(h fabrique.Builder[sqlstore.Conn]) fabrique.Builder[sqlstore.Conn] {
					return h.Set("weight", 2)
				}).
				Create(ctx, db)
			require.NoError(t, err)
			assert.Equal(t, driver, anvil["label"])

			_, err = f.MustBuilder("Anvil").Set("hammer_id", uuid.New()).Create(ctx, db)
			assert.ErrorIs(t, err, sqlstore.ErrForeignKeyViolation)
		})
	}
}
