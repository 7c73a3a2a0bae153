package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	"github.com/mattn/go-sqlite3"

	"zoneplane/internal/apperr"
)

// Store is the SQLite-backed persistence layer. Every mutation runs inside
// Update so the state change and its audit event commit together.
type Store struct {
	DB   *sql.DB
	Path string
}

// Open connects to the SQLite database at path and creates the schema.
// Writers take the database lock when the transaction begins, so two
// allocations never interleave their read and write phases.
func Open(path string) (*Store, error) {
	q := url.Values{}
	q.Set("_txlock", "immediate")
	q.Set("_busy_timeout", "5000")
	q.Set("_foreign_keys", "on")
	q.Set("_journal_mode", "WAL")
	dsn := fmt.Sprintf("file:%s?%s", path, q.Encode())

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise see its own empty database.
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	s := &Store{DB: conn, Path: path}
	if err := s.Migrate(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// Migrate creates missing tables, indexes and triggers.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}

// Backup writes a consistent copy of the database to dst.
func (s *Store) Backup(ctx context.Context, dst string) error {
	if _, err := s.DB.ExecContext(ctx, "VACUUM INTO ?", dst); err != nil {
		return fmt.Errorf("backup database to %s: %w", dst, err)
	}
	return nil
}

// Update runs fn in a write transaction. The transaction commits only if fn
// returns nil.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	return s.run(ctx, false, fn)
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	return s.run(ctx, true, fn)
}

func (s *Store) run(ctx context.Context, readOnly bool, fn func(tx *Tx) error) error {
	sqlTx, err := s.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: readOnly})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&Tx{tx: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return classify(err, "commit")
	}
	return nil
}

// Tx is a unit of work handed to Update and View callbacks.
type Tx struct {
	tx *sql.Tx
}

// classify turns uniqueness violations into conflict errors so the caller
// can retry or report a 409.
func classify(err error, what string) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return apperr.WrapConflict(err, "%s conflicts with an existing record", what)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return fmt.Errorf("%s: %w", what, err)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS zones (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		pool TEXT NOT NULL,
		name TEXT NOT NULL,
		network INTEGER NOT NULL,
		prefix INTEGER NOT NULL,
		gateway INTEGER NOT NULL,
		status TEXT NOT NULL,
		previous_status TEXT NOT NULL DEFAULT '',
		pending TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS zones_pool_network ON zones(pool, network) WHERE status != 'DELETED';`,
	`CREATE UNIQUE INDEX IF NOT EXISTS zones_company_name ON zones(company_id, name) WHERE status != 'DELETED';`,

	`CREATE TABLE IF NOT EXISTS workers (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		previous_status TEXT NOT NULL DEFAULT '',
		pending TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS workers_company_name ON workers(company_id, name) WHERE status != 'DELETED';`,

	`CREATE TABLE IF NOT EXISTS portals (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		name TEXT NOT NULL,
		hostname TEXT NOT NULL,
		status TEXT NOT NULL,
		previous_status TEXT NOT NULL DEFAULT '',
		pending TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS portals_hostname ON portals(hostname) WHERE status != 'DELETED';`,

	`CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		zone_id TEXT NOT NULL REFERENCES zones(id),
		company_id TEXT NOT NULL,
		address INTEGER NOT NULL,
		worker_id TEXT REFERENCES workers(id),
		portal_id TEXT REFERENCES portals(id),
		status TEXT NOT NULL,
		previous_status TEXT NOT NULL DEFAULT '',
		pending TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		CHECK (worker_id IS NULL OR portal_id IS NULL)
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS nodes_zone_address ON nodes(zone_id, address) WHERE status != 'DELETED';`,
	`CREATE UNIQUE INDEX IF NOT EXISTS nodes_worker ON nodes(worker_id) WHERE worker_id IS NOT NULL AND status != 'DELETED';`,
	`CREATE UNIQUE INDEX IF NOT EXISTS nodes_portal ON nodes(portal_id) WHERE portal_id IS NOT NULL AND status != 'DELETED';`,

	`CREATE TABLE IF NOT EXISTS transponders (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		portal_id TEXT NOT NULL REFERENCES portals(id),
		worker_id TEXT NOT NULL REFERENCES workers(id),
		protocol TEXT NOT NULL,
		port INTEGER NOT NULL,
		target_port INTEGER NOT NULL,
		path TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		previous_status TEXT NOT NULL DEFAULT '',
		pending TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS transponders_binding ON transponders(portal_id, protocol, port, path) WHERE status != 'DELETED';`,

	`CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS event_resources (
		event_id TEXT NOT NULL REFERENCES events(id),
		resource_type TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		PRIMARY KEY (event_id, resource_type, resource_id)
	);`,
	`CREATE INDEX IF NOT EXISTS event_resources_resource ON event_resources(resource_type, resource_id);`,
	`CREATE TABLE IF NOT EXISTS event_properties (
		event_id TEXT NOT NULL REFERENCES events(id),
		position INTEGER NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (event_id, position)
	);`,
	`CREATE TRIGGER IF NOT EXISTS events_append_only_update BEFORE UPDATE ON events
		BEGIN SELECT RAISE(ABORT, 'events are append-only'); END;`,
	`CREATE TRIGGER IF NOT EXISTS events_append_only_delete BEFORE DELETE ON events
		BEGIN SELECT RAISE(ABORT, 'events are append-only'); END;`,
}
