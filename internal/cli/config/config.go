// Package config loads fabrique.yml. Every key can be overridden from the
// environment with the FABRIQUE_ prefix (database.url is FABRIQUE_DATABASE_URL);
// a .env file in the working directory is read first.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/conduit-lang/fabrique/internal/codegen"
	"github.com/conduit-lang/fabrique/pkg/schema"
	"github.com/conduit-lang/fabrique/pkg/store/sqlstore"
)

// Config represents the fabrique configuration
type Config struct {
	Schemas  []string       `mapstructure:"schemas"`
	Output   OutputConfig   `mapstructure:"output"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Server   ServerConfig   `mapstructure:"server"`

	// File is the config file that was read, empty when running on defaults
	File string `mapstructure:"-"`
}

// OutputConfig controls the generate command
type OutputConfig struct {
	Dir         string `mapstructure:"dir"`
	Package     string `mapstructure:"package"`
	EmitRecords bool   `mapstructure:"emit_records"`
	Persistable string `mapstructure:"persistable"`
	Connection  string `mapstructure:"connection"`
}

// DatabaseConfig selects the SQL database used by seed and serve
type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"`
	URL         string `mapstructure:"url"`
	Placeholder string `mapstructure:"placeholder"`
}

// RedisConfig selects the redis server used by the redis store
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// ServerConfig configures the seed server
type ServerConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	Secret string `mapstructure:"secret"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Drivers lists the database/sql drivers the CLI registers
var Drivers = []string{"pgx", "postgres", "sqlite3"}

// Load reads the config file at path, or fabrique.yml/fabrique.yaml in the
// working directory when path is empty. A missing default file is not an
// error.
func Load(path string) (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("schemas", []string{"schema/*.yml", "schema/*.yaml"})
	v.SetDefault("output.dir", "factories")
	v.SetDefault("output.package", "factories")
	v.SetDefault("output.emit_records", true)
	v.SetDefault("output.persistable", string(codegen.PersistableNone))
	v.SetDefault("output.connection", "*database/sql.DB")
	v.SetDefault("database.driver", "pgx")
	v.SetDefault("database.url", "")
	v.SetDefault("database.placeholder", "dollar")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "fabrique")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.secret", "")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fabrique")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FABRIQUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values the commands cannot recover from
func (c *Config) Validate() error {
	if len(c.Schemas) == 0 {
		return fmt.Errorf("schemas must list at least one file or pattern")
	}
	if !schema.IsIdentifier(c.Output.Package) {
		return fmt.Errorf("output.package must be a Go identifier, got: %s", c.Output.Package)
	}
	if _, err := codegen.ParsePersistable(c.Output.Persistable); err != nil {
		return fmt.Errorf("output.persistable: %w", err)
	}
	if _, err := sqlstore.ParsePlaceholder(c.Database.Placeholder); err != nil {
		return fmt.Errorf("database.placeholder: %w", err)
	}
	if !slices.Contains(Drivers, c.Database.Driver) {
		return fmt.Errorf("database.driver must be one of %s, got: %s", strings.Join(Drivers, ", "), c.Database.Driver)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// CodegenOptions converts the output section into generator options
func (c *Config) CodegenOptions() codegen.Options {
	persistable, _ := codegen.ParsePersistable(c.Output.Persistable)
	placeholder, _ := sqlstore.ParsePlaceholder(c.Database.Placeholder)

	return codegen.Options{
		Package:     c.Output.Package,
		EmitRecords: c.Output.EmitRecords,
		Persistable: persistable,
		Connection:  c.Output.Connection,
		Placeholder: placeholder,
	}
}
