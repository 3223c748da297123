// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY SQLITE?
// creatorhub is a single-server app: one process owns the leads, sequences
// and the send log. SQLite gives us a real SQL database in a single file,
// with no server to run.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which needs a C toolchain and makes
// cross-compilation painful. modernc.org/sqlite is pure Go.
//
// ONE DB, SEVERAL STORES:
// DB owns the connection pool. Each entity gets a thin store type (UserDB,
// LeadDB, SequenceDB, MessageDB) that shares the pool and implements one
// repository interface, so method names like Create/GetByID don't collide.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/creatorhub.db" → file-based database (persistent)
//   - ":memory:"           → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// An in-memory database lives inside ONE connection. If the pool opened a
	// second connection it would see a brand new, empty database. Pinning the
	// pool to a single connection keeps tests honest.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while the dispatcher is writing.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Foreign keys are OFF by default in SQLite. We rely on ON DELETE CASCADE
	// for sequence steps and the send log.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	// Concurrent writers wait up to 5s for the lock instead of failing with
	// SQLITE_BUSY straight away.
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.Migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// newWithConn wraps an existing pool without migrating. Tests use it with
// go-sqlmock to exercise driver-error paths.
func newWithConn(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Users returns the user store.
func (db *DB) Users() *UserDB { return &UserDB{conn: db.conn} }

// Leads returns the CRM lead store.
func (db *DB) Leads() *LeadDB { return &LeadDB{conn: db.conn} }

// Sequences returns the email sequence store.
func (db *DB) Sequences() *SequenceDB { return &SequenceDB{conn: db.conn} }

// Messages returns the outreach send log.
func (db *DB) Messages() *MessageDB { return &MessageDB{conn: db.conn} }

// Migrate creates or upgrades the schema. Every statement is idempotent, so
// it is safe to run on every start; `creatorhub migrate` runs it on its own.
func (db *DB) Migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			first_name    TEXT NOT NULL DEFAULT '',
			last_name     TEXT NOT NULL DEFAULT '',
			email         TEXT NOT NULL UNIQUE COLLATE NOCASE,
			password_hash TEXT NOT NULL DEFAULT '',
			google_id     TEXT,
			subscribed    INTEGER NOT NULL DEFAULT 0,
			credits       INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_users_google_id
			ON users(google_id) WHERE google_id IS NOT NULL;
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS subscriptions (
			user_id        TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			plan_id        TEXT NOT NULL,
			plan_name      TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL,
			renews_at      DATETIME,
			card_brand     TEXT NOT NULL DEFAULT '',
			card_last_four TEXT NOT NULL DEFAULT ''
		);
	`)
	if err != nil {
		return fmt.Errorf("creating subscriptions table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS sequences (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at  DATETIME NOT NULL,
			updated_at  DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sequences_user_id ON sequences(user_id);

		CREATE TABLE IF NOT EXISTS sequence_emails (
			sequence_id TEXT NOT NULL REFERENCES sequences(id) ON DELETE CASCADE,
			step        INTEGER NOT NULL,
			subject     TEXT NOT NULL,
			body        TEXT NOT NULL DEFAULT '',
			delay_days  INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (sequence_id, step)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating sequence tables: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS leads (
			id                TEXT PRIMARY KEY,
			user_id           TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			platform          TEXT NOT NULL,
			username          TEXT NOT NULL COLLATE NOCASE,
			display_name      TEXT NOT NULL DEFAULT '',
			email             TEXT NOT NULL DEFAULT '',
			followers         INTEGER NOT NULL DEFAULT 0,
			avg_viewers       INTEGER NOT NULL DEFAULT 0,
			socials           TEXT NOT NULL DEFAULT '{}',
			notes             TEXT NOT NULL DEFAULT '',
			sequence_id       TEXT REFERENCES sequences(id) ON DELETE SET NULL,
			sequence_status   TEXT NOT NULL DEFAULT 'not_started',
			current_step      INTEGER NOT NULL DEFAULT 0,
			stage             TEXT NOT NULL DEFAULT 'new',
			replied           INTEGER NOT NULL DEFAULT 0,
			classification    TEXT NOT NULL DEFAULT 'unclassified',
			enrolled_at       DATETIME,
			last_contacted_at DATETIME,
			created_at        DATETIME NOT NULL,
			updated_at        DATETIME NOT NULL,
			UNIQUE (user_id, platform, username)
		);
		CREATE INDEX IF NOT EXISTS idx_leads_user_id ON leads(user_id);
		CREATE INDEX IF NOT EXISTS idx_leads_active ON leads(sequence_status, replied);
	`)
	if err != nil {
		return fmt.Errorf("creating leads table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS outreach_messages (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			lead_id     TEXT NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
			sequence_id TEXT NOT NULL,
			step        INTEGER NOT NULL,
			recipient   TEXT NOT NULL,
			subject     TEXT NOT NULL,
			body        TEXT NOT NULL,
			tracking_id TEXT NOT NULL UNIQUE,
			sent_at     DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_outreach_user_sent ON outreach_messages(user_id, sent_at);
	`)
	if err != nil {
		return fmt.Errorf("creating outreach_messages table: %w", err)
	}

	return nil
}

// encodeSocials stores a socials map as a JSON object; nil becomes "{}".
func encodeSocials(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeSocials(s string) (map[string]string, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// nullTime converts an optional time into something database/sql can bind.
func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

// timePtr turns a scanned sql.NullTime back into an optional time.
func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
