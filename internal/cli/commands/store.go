package commands

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/lib/pq"              // registers the "postgres" driver
	_ "github.com/mattn/go-sqlite3"    // registers the "sqlite3" driver
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/conduit-lang/fabrique/internal/cli/config"
	"github.com/conduit-lang/fabrique/internal/seedserver"
	"github.com/conduit-lang/fabrique/pkg/fabrique"
	"github.com/conduit-lang/fabrique/pkg/schema"
	"github.com/conduit-lang/fabrique/pkg/store/memstore"
	"github.com/conduit-lang/fabrique/pkg/store/pgxstore"
	"github.com/conduit-lang/fabrique/pkg/store/redisstore"
	"github.com/conduit-lang/fabrique/pkg/store/sqlstore"
)

// Stores lists the persistence backends the seed and serve commands accept
var Stores = []string{"memory", "sql", "pgx", "redis"}

type storeFlags struct {
	store  string
	driver string
	dsn    string
}

// session hides the connection type of an opened store
type session interface {
	Create(ctx context.Context, record string, req *seedserver.CreateRequest) (fabrique.Record, error)
	All(ctx context.Context, record string) ([]fabrique.Record, error)
	Handler(opts ...seedserver.Option) http.Handler
	Close() error
}

type storeSession[C any] struct {
	factory *fabrique.Factory[C]
	conn    C
	close   func() error
}

func (s *storeSession[C]) Create(ctx context.Context, record string, req *seedserver.CreateRequest) (fabrique.Record, error) {
	b, err := s.factory.Builder(record)
	if err != nil {
		return nil, err
	}
	if b, err = seedserver.Apply(s.factory, b, req); err != nil {
		return nil, err
	}
	return b.Create(ctx, s.conn)
}

func (s *storeSession[C]) All(ctx context.Context, record string) ([]fabrique.Record, error) {
	return s.factory.All(ctx, s.conn, record)
}

func (s *storeSession[C]) Handler(opts ...seedserver.Option) http.Handler {
	return seedserver.NewHandler(s.factory, s.conn, opts...)
}

func (s *storeSession[C]) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func newSession[C any](registry *schema.Registry, persister fabrique.Persister[C], conn C, logger *zap.Logger, closer func() error) session {
	return &storeSession[C]{
		factory: fabrique.NewFactory(registry, persister, fabrique.WithLogger(logger)),
		conn:    conn,
		close:   closer,
	}
}

// openStore connects to the selected backend. Flags override the database
// section of the config.
func openStore(ctx context.Context, cfg *config.Config, flags storeFlags, registry *schema.Registry, logger *zap.Logger) (session, error) {
	driver := cfg.Database.Driver
	if flags.driver != "" {
		driver = flags.driver
	}
	dsn := cfg.Database.URL
	if flags.dsn != "" {
		dsn = flags.dsn
	}

	logger.Debug("opening store", zap.String("store", flags.store), zap.String("driver", driver))

	switch flags.store {
	case "", "memory":
		return newSession[*memstore.DB](registry, memstore.Persister{}, memstore.New(), logger, nil), nil

	case "sql":
		if dsn == "" {
			return nil, fmt.Errorf("the sql store needs --dsn or database.url")
		}
		placeholder, err := sqlstore.ParsePlaceholder(cfg.Database.Placeholder)
		if err != nil {
			return nil, err
		}

		db, err := sql.Open(driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
		}

		persister := sqlstore.New(sqlstore.WithPlaceholder(placeholder), sqlstore.WithLogger(logger))
		return newSession[sqlstore.Conn](registry, persister, db, logger, db.Close), nil

	case "pgx":
		if dsn == "" {
			return nil, fmt.Errorf("the pgx store needs --dsn or database.url")
		}
		pool, err := pgxstore.Connect(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return newSession[pgxstore.Conn](registry, pgxstore.New(logger), pool, logger, func() error {
			pool.Close()
			return nil
		}), nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}

		persister := redisstore.New(redisstore.WithPrefix(cfg.Redis.Prefix), redisstore.WithLogger(logger))
		return newSession[redisstore.Conn](registry, persister, client, logger, client.Close), nil

	default:
		return nil, fmt.Errorf("unknown store %q, expected one of %v", flags.store, Stores)
	}
}
