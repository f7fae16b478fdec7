// Package store implements the EntityStore, WorkspaceStore and
// OperationLog: durable, sqlite-backed persistence for everything
// spec.md §3/§4.1-§4.3 describes. It replaces the teacher's
// internal/emergent package, which delegated all persistence to a remote
// graph API this system does not have (see DESIGN.md, "Dropped teacher
// dependencies").
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// DB wraps the sqlite connection plus the in-memory per-workspace
// single-writer locks the concurrency model requires (spec.md §5). rootDir
// is empty for in-memory databases; when set, BRep blobs are mirrored to
// rootDir/geometry/{entity_id}.brep and the operation history to
// rootDir/history/operations.log alongside the sqlite tables (spec.md §6's
// persisted-state layout).
type DB struct {
	sqlx    *sqlx.DB
	locks   *workspaceLocks
	rootDir string
}

// Open opens (creating if necessary) the sqlite database at rootDir/cadcore.db
// and applies any pending migrations.
func Open(rootDir string) (*DB, error) {
	for _, sub := range []string{"geometry", "history"} {
		if err := os.MkdirAll(filepath.Join(rootDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating %s directory: %w", sub, err)
		}
	}
	path := filepath.Join(rootDir, "cadcore.db")
	sqlxDB, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	sqlxDB.SetMaxOpenConns(1) // single-writer discipline is enforced above the DB too; sqlite tolerates only one writer at a time anyway.

	if err := migrate(sqlxDB.DB); err != nil {
		sqlxDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &DB{sqlx: sqlxDB, locks: newWorkspaceLocks(), rootDir: rootDir}, nil
}

// geometryPath returns the sidecar blob path for an entity id, or "" when
// the store is in-memory.
func (db *DB) geometryPath(entityID string) string {
	if db.rootDir == "" {
		return ""
	}
	return filepath.Join(db.rootDir, "geometry", entityID+".brep")
}

// historyPath returns the chronological operation log file, or "" when the
// store is in-memory.
func (db *DB) historyPath() string {
	if db.rootDir == "" {
		return ""
	}
	return filepath.Join(db.rootDir, "history", "operations.log")
}

// OpenMemory opens an in-memory database, used by tests and by
// scenario.run's scratch workspaces.
func OpenMemory() (*DB, error) {
	sqlxDB, err := sqlx.Open("sqlite", "file::memory:?cache=shared&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory sqlite database: %w", err)
	}
	sqlxDB.SetMaxOpenConns(1)
	if err := migrate(sqlxDB.DB); err != nil {
		sqlxDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &DB{sqlx: sqlxDB, locks: newWorkspaceLocks()}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(embeddedMigrations)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

// Close releases the underlying connection.
func (db *DB) Close() error {
	return db.sqlx.Close()
}
