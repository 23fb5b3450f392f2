package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/fabrique/internal/codegen"
	"github.com/conduit-lang/fabrique/pkg/store/sqlstore"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Empty(t, cfg.File)
	assert.Equal(t, []string{"schema/*.yml", "schema/*.yaml"}, cfg.Schemas)
	assert.Equal(t, "factories", cfg.Output.Dir)
	assert.Equal(t, "factories", cfg.Output.Package)
	assert.True(t, cfg.Output.EmitRecords)
	assert.Equal(t, "none", cfg.Output.Persistable)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Empty(t, cfg.Database.URL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "fabrique", cfg.Redis.Prefix)
	assert.Equal(t, "localhost:3000", cfg.Server.Addr())
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	writeFile(t, "fabrique.yml", `
schemas:
  - models/forge.yml
output:
  dir: internal/factories
  package: forge
  emit_records: false
  persistable: sql
  connection: github.com/conduit-lang/fabrique/pkg/store/sqlstore.Conn
database:
  driver: sqlite3
  url: file:forge.db
  placeholder: question
server:
  port: 8080
`)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "fabrique.yml"), cfg.File)
	assert.Equal(t, []string{"models/forge.yml"}, cfg.Schemas)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)

	assert.Equal(t, codegen.Options{
		Package:     "forge",
		EmitRecords: false,
		Persistable: codegen.PersistableSQL,
		Connection:  "github.com/conduit-lang/fabrique/pkg/store/sqlstore.Conn",
		Placeholder: sqlstore.Question,
	}, cfg.CodegenOptions())
}

func TestLoad_ExplicitPath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "seed.yaml")
	writeFile(t, path, "output:\n  package: seeds\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "seeds", cfg.Output.Package)

	_, err = Load(filepath.Join(dir, "missing.yml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestLoad_Environment(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Run("prefixed variable", func(t *testing.T) {
		t.Setenv("FABRIQUE_DATABASE_URL", "postgres://forge")
		t.Setenv("FABRIQUE_SERVER_PORT", "9090")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "postgres://forge", cfg.Database.URL)
		assert.Equal(t, 9090, cfg.Server.Port)
	})

	t.Run("DATABASE_URL fallback", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://fallback")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "postgres://fallback", cfg.Database.URL)
	})
}

func TestLoad_DotEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	// registered so the value godotenv sets is removed afterwards
	t.Setenv("FABRIQUE_REDIS_PREFIX", "")
	require.NoError(t, os.Unsetenv("FABRIQUE_REDIS_PREFIX"))

	writeFile(t, ".env", "FABRIQUE_REDIS_PREFIX=dotenv\n")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "dotenv", cfg.Redis.Prefix)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		err     string
	}{
		{"package", "output:\n  package: my-factories\n", "output.package must be a Go identifier, got: my-factories"},
		{"persistable", "output:\n  persistable: gorm\n", "output.persistable: unknown persistable \"gorm\" (expected none or sql)"},
		{"placeholder", "database:\n  placeholder: colon\n", "database.placeholder: unknown placeholder style: colon"},
		{"driver", "database:\n  driver: mysql\n", "database.driver must be one of pgx, postgres, sqlite3, got: mysql"},
		{"port", "server:\n  port: 70000\n", "server.port out of range: 70000"},
		{"schemas", "schemas: []\n", "schemas must list at least one file or pattern"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			writeFile(t, "fabrique.yml", tt.content)

			_, err := Load("")
			assert.EqualError(t, err, tt.err)
		})
	}
}
