package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"browserjam/cmd/identity"
	"browserjam/cmd/internal/sqlitedb"
	"browserjam/cmd/internal/store"

	"github.com/jackc/pgx/v5/pgxpool"
)

// backend bundles the storage the server runs on. The app owns the
// lifetime of the underlying pool or database handle.
type backend struct {
	kind  string
	users identity.Store
	store store.Store

	pool *pgxpool.Pool
	db   *sql.DB
}

func openBackend(ctx context.Context, cfg Config, log Logger) (*backend, error) {
	switch kind := cfg.backend(); kind {
	case BackendPostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if cfg.DBAutoMigrate {
			if err := migratePostgres(ctx, pool, cfg.DBSchema); err != nil {
				pool.Close()
				return nil, err
			}
		}
		users, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return nil, err
		}
		st, err := store.NewPostgresStore(pool, store.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("db.enabled", "backend", kind, "schema", cfg.DBSchema, "auto_migrate", cfg.DBAutoMigrate)
		return &backend{kind: kind, users: users, store: st, pool: pool}, nil

	case BackendSQLite:
		db, err := sqlitedb.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		users, err := identity.NewSQLiteStore(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		st, err := store.NewSQLiteStore(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("db.enabled", "backend", kind, "path", cfg.SQLitePath)
		return &backend{kind: kind, users: users, store: st, db: db}, nil

	default:
		users := identity.NewMemoryStore()
		st := store.NewInMemoryStore(func(ctx context.Context, id string) (string, error) {
			u, err := users.GetUserByID(ctx, id)
			if err != nil {
				return "", err
			}
			return u.Email, nil
		})
		log.Info("db.disabled.inmemory_store")
		return &backend{kind: BackendMemory, users: users, store: st}, nil
	}
}

// persistent reports whether data survives a restart.
func (b *backend) persistent() bool { return b.kind != BackendMemory }

func (b *backend) ping(ctx context.Context) error {
	switch {
	case b.pool != nil:
		return PingDB(ctx, b.pool, 2*time.Second)
	case b.db != nil:
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return b.db.PingContext(ctx)
	default:
		return nil
	}
}

func (b *backend) Close() error {
	_ = b.store.Close()
	if b.pool != nil {
		b.pool.Close()
	}
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// migratePostgres applies the idempotent DDL for users, then sessions and
// highlights, which reference users.
func migratePostgres(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	for _, ddl := range []string{identity.PostgresSchemaSQL(schema), store.PostgresSchemaSQL(schema)} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

// NewDBPool builds a pgxpool and validates connectivity.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}
