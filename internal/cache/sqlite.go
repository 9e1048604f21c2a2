package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/conneroisu/sectional/internal/errors"
	"github.com/conneroisu/sectional/internal/liquid"
	"github.com/conneroisu/sectional/internal/logging"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	hash TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	accessed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at);
`

// SQLite persists documents in a single table. The driver is chosen at
// build time: modernc.org/sqlite by default, mattn/go-sqlite3 with the
// cgo_sqlite tag.
type SQLite struct {
	db       *sql.DB
	dsn      string
	rebuild  Rebuilder
	ttl      time.Duration
	compress bool
	logger   logging.Logger
	now      func() time.Time

	hits   int64
	misses int64
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens (creating if needed) the database at dsn.
func NewSQLite(dsn string, rebuild Rebuilder, ttl time.Duration, compress bool, logger logging.Logger) (*SQLite, error) {
	if dsn == "" {
		return nil, errors.NewConfigError(errors.ErrCodeCacheBackend, "sqlite cache requires a data source")
	}
	if rebuild == nil {
		return nil, errors.NewMissingCollaboratorError(errors.ErrCodeCacheBackend, "sqlite cache requires a document builder")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	db, err := openDB(dsn)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeCacheBackend, "opening cache database", err).WithPath(dsn)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", sqliteSchema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.NewIOError(errors.ErrCodeCacheBackend, "initializing cache database", err).WithPath(dsn)
		}
	}

	return &SQLite{
		db:       db,
		dsn:      dsn,
		rebuild:  rebuild,
		ttl:      ttl,
		compress: compress,
		logger:   logger.WithComponent("cache.sqlite"),
		now:      time.Now,
	}, nil
}

// cutoff is the oldest created_at still considered live.
func (s *SQLite) cutoff() int64 {
	if s.ttl <= 0 {
		return 0
	}
	return s.now().Add(-s.ttl).Unix()
}

// Exists reports whether a live row for hash exists.
func (s *SQLite) Exists(hash string) bool {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM documents WHERE hash = ? AND created_at >= ?`, hash, s.cutoff(),
	).Scan(&one)
	return err == nil
}

// Read loads and rebuilds the document for hash.
func (s *SQLite) Read(hash string) (*liquid.Document, bool) {
	ctx := context.Background()

	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE hash = ? AND created_at >= ?`, hash, s.cutoff(),
	).Scan(&data)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Warn(ctx, err, "Cache lookup failed", "hash", hash)
		}
		atomic.AddInt64(&s.misses, 1)
		return nil, false
	}

	rec, err := decodeRecord(data)
	var doc *liquid.Document
	if err == nil {
		doc, err = s.rebuild.BuildTokens(rec.Tokens, nil)
	}
	if err != nil {
		s.logger.Warn(ctx, err, "Discarding unreadable cache entry", "hash", hash)
		s.Delete(hash)
		atomic.AddInt64(&s.misses, 1)
		return nil, false
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE documents SET accessed_at = ? WHERE hash = ?`, s.now().Unix(), hash); err != nil {
		s.logger.Debug(ctx, "Failed to touch cache entry", "hash", hash, "error", err)
	}
	atomic.AddInt64(&s.hits, 1)
	return doc, true
}

// Write upserts doc under hash. Documents that include other templates are
// not persisted.
func (s *SQLite) Write(hash string, doc *liquid.Document) error {
	if !persistable(doc) {
		return nil
	}

	now := s.now()
	data, err := encodeDocument(doc, now, s.compress)
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeCacheBackend, "encoding cache entry", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO documents (hash, data, created_at, accessed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET data = excluded.data, created_at = excluded.created_at, accessed_at = excluded.accessed_at`,
		hash, data, now.Unix(), now.Unix())
	if err != nil {
		return errors.NewIOError(errors.ErrCodeCacheBackend, "writing cache entry", err).WithPath(s.dsn)
	}
	return nil
}

// Delete removes the row for hash.
func (s *SQLite) Delete(hash string) bool {
	res, err := s.db.Exec(`DELETE FROM documents WHERE hash = ?`, hash)
	if err != nil {
		return false
	}
	n, err := res.RowsAffected()
	return err == nil && n > 0
}

// Prune removes expired rows.
func (s *SQLite) Prune() (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	res, err := s.db.Exec(`DELETE FROM documents WHERE created_at < ?`, s.cutoff())
	if err != nil {
		return 0, errors.NewIOError(errors.ErrCodeCacheBackend, "pruning cache database", err).WithPath(s.dsn)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.NewIOError(errors.ErrCodeCacheBackend, "pruning cache database", err).WithPath(s.dsn)
	}
	return int(n), nil
}

// Clear removes every row and resets statistics.
func (s *SQLite) Clear() error {
	atomic.StoreInt64(&s.hits, 0)
	atomic.StoreInt64(&s.misses, 0)
	if _, err := s.db.Exec(`DELETE FROM documents`); err != nil {
		return errors.NewIOError(errors.ErrCodeCacheBackend, "clearing cache database", err).WithPath(s.dsn)
	}
	return nil
}

// Stats counts rows and stored bytes.
func (s *SQLite) Stats() Stats {
	stats := Stats{
		Backend: BackendSQLite,
		Hits:    atomic.LoadInt64(&s.hits),
		Misses:  atomic.LoadInt64(&s.misses),
	}
	var size sql.NullInt64
	err := s.db.QueryRow(`SELECT COUNT(*), SUM(LENGTH(data)) FROM documents`).Scan(&stats.Entries, &size)
	if err != nil {
		s.logger.Warn(context.Background(), err, "Failed to read cache statistics")
	}
	stats.Size = size.Int64
	return stats
}

// Close closes the database.
func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing cache database: %w", err)
	}
	return nil
}
