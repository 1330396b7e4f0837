// Package catalog persists one durable record per filesystem path and
// enforces the pipeline's ownership discipline: a state transition into an
// in-process state is a claim, performed as a conditional update inside the
// worker's transaction. Competing claimers serialise on the row and the
// loser observes zero affected rows.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"       // postgres driver
	_ "modernc.org/sqlite"      // pure Go sqlite driver (tests, single host)

	"github.com/pym-cms/stoma/internal/config"
	stomaerr "github.com/pym-cms/stoma/internal/errors"
)

// Store is the catalog database handle. It is safe for concurrent use;
// each worker runs its row work in its own transaction.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the catalog database and configures the pool.
func Open(cfg config.DBConfig) (*Store, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "postgres":
		db, err = sql.Open("postgres", cfg.URL)
		if err == nil {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
			db.SetMaxIdleConns(cfg.MaxIdleConns)
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	case "sqlite":
		dsn := cfg.URL
		if dsn == ":memory:" {
			// Shared cache keeps the in-memory database alive across the
			// pool's connections.
			dsn = "file::memory:?cache=shared"
		}
		db, err = sql.Open("sqlite", dsn)
		if err == nil {
			// Single writer avoids SQLITE_BUSY under concurrent claims.
			db.SetMaxOpenConns(1)
			db.SetMaxIdleConns(1)
			db.SetConnMaxLifetime(0)
			_, err = db.Exec("PRAGMA busy_timeout = 5000")
			if err == nil && dsn != "file::memory:?cache=shared" {
				_, err = db.Exec("PRAGMA journal_mode = WAL")
			}
		}
	default:
		return nil, stomaerr.New(stomaerr.ErrCodeCatalogOpen,
			fmt.Sprintf("unsupported driver %q", cfg.Driver), nil)
	}
	if err != nil {
		return nil, stomaerr.New(stomaerr.ErrCodeCatalogOpen,
			fmt.Sprintf("cannot open catalog: %v", err), err)
	}

	return &Store{db: db, driver: cfg.Driver}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies catalog connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return stomaerr.New(stomaerr.ErrCodeCatalogOpen, "catalog unreachable", err)
	}
	return nil
}

// Driver returns the configured driver name.
func (s *Store) Driver() string {
	return s.driver
}

// InitSchema creates the schema, the item table, its indexes, and stamps the
// current schema version.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := schemaSQLite
	if s.driver == "postgres" {
		schema = schemaPostgres
	}
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return stomaerr.New(stomaerr.ErrCodeCatalogQuery,
				fmt.Sprintf("schema creation failed: %v", err), err)
		}
	}

	stamp := s.rebind(fmt.Sprintf(
		"INSERT INTO %s (version) VALUES (?) ON CONFLICT (version) DO NOTHING",
		s.migrationsTable()))
	if _, err := s.db.ExecContext(ctx, stamp, SchemaVersion); err != nil {
		return stomaerr.New(stomaerr.ErrCodeCatalogQuery,
			fmt.Sprintf("schema stamp failed: %v", err), err)
	}
	return nil
}

// TruncateItems empties the catalog. Used by the drop command.
func (s *Store) TruncateItems(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+s.itemTable()); err != nil {
		return stomaerr.New(stomaerr.ErrCodeCatalogQuery, "truncate failed", err)
	}
	return nil
}

// Begin opens a catalog transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, stomaerr.New(stomaerr.ErrCodeCatalogTx, "begin failed", err)
	}
	return &Tx{tx: tx, store: s}, nil
}

// WithTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise. The rollback restores any in-process claims made by fn.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}

func (s *Store) itemTable() string {
	if s.driver == "postgres" {
		return "stoma.item"
	}
	return "item"
}

func (s *Store) migrationsTable() string {
	if s.driver == "postgres" {
		return "stoma.schema_migrations"
	}
	return "schema_migrations"
}

// rebind converts ?-placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString(fmt.Sprintf("$%d", n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// likePrefix builds a LIKE pattern matching every path under prefix.
// The prefix is normalised to end with the path separator so /a cannot
// over-match /abc, and LIKE wildcards in the prefix itself are escaped.
func likePrefix(prefix, sep string) string {
	if !strings.HasSuffix(prefix, sep) {
		prefix += sep
	}
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
