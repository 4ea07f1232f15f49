// Package store persists saved accounts, user settings and a short-lived
// timeline cache in a local SQLite database.
package store

import (
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/blindodon/mastodon-core/internal/logger"
	"github.com/blindodon/mastodon-core/internal/secrets"
)

// timeLayout sorts lexically in the same order as chronologically.
const timeLayout = "2006-01-02 15:04:05.000000"

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrEncryption wraps failures to seal or open a stored token.
	ErrEncryption = errors.New("token encryption error")
)

// Store is the account database. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	path   string
	sealer *secrets.Sealer
	now    func() time.Time
	log    *logger.Logger
}

// Option configures Open.
type Option func(*options)

type options struct {
	passphrase string
	now        func() time.Time
}

// WithPassphrase seals access and refresh tokens at rest.
func WithPassphrase(p string) Option {
	return func(o *options) { o.passphrase = p }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Open opens or creates the database at path and brings the schema up to date.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serialises writers and keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, now: o.now, log: logger.Global().WithPrefix("store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if o.passphrase != "" {
		salt, err := s.salt()
		if err != nil {
			db.Close()
			return nil, err
		}
		if s.sealer, err = secrets.NewSealer(o.passphrase, salt); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %w", ErrEncryption, err)
		}
	}

	s.log.Info("opened database at %s", path)
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		instance_url TEXT NOT NULL,
		username TEXT NOT NULL,
		access_token TEXT NOT NULL,
		refresh_token TEXT,
		data TEXT NOT NULL,
		created_at TEXT NOT NULL,
		last_used_at TEXT NOT NULL,
		is_default INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS posts (
		id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TEXT NOT NULL,
		data TEXT NOT NULL,
		cached_at TEXT NOT NULL,
		PRIMARY KEY (account_id, id)
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_last_used ON accounts(last_used_at);
	CREATE INDEX IF NOT EXISTS idx_posts_cached ON posts(cached_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// salt returns the database's key-derivation salt, creating it on first use.
func (s *Store) salt() ([]byte, error) {
	var encoded string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'token_salt'`).Scan(&encoded)
	switch {
	case err == nil:
		salt, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt salt: %v", ErrEncryption, err)
		}
		return salt, nil
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("read salt: %w", err)
	}

	salt, err := secrets.NewSalt()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryption, err)
	}
	if _, err := s.db.Exec(`INSERT INTO meta (key, value) VALUES ('token_salt', ?)`,
		base64.StdEncoding.EncodeToString(salt)); err != nil {
		return nil, fmt.Errorf("store salt: %w", err)
	}
	return salt, nil
}

func (s *Store) timestamp() string {
	return formatTime(s.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, err := time.ParseInLocation(timeLayout, v, time.UTC)
	if err != nil {
		// Rows written by other tools may carry RFC 3339 timestamps.
		if t2, err2 := time.Parse(time.RFC3339Nano, v); err2 == nil {
			return t2.UTC()
		}
		return time.Time{}
	}
	return t
}
