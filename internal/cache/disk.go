package cache

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	fileatomic "github.com/natefinch/atomic"

	"github.com/conneroisu/sectional/internal/errors"
	"github.com/conneroisu/sectional/internal/liquid"
	"github.com/conneroisu/sectional/internal/logging"
)

const diskExt = ".cbor"

// hashPattern keeps hashes from naming anything outside the cache
// directory.
var hashPattern = regexp.MustCompile(`^[0-9a-f]{16,128}$`)

// Disk persists documents as one file per hash under dir, sharded by the
// first two hex digits. Files are replaced atomically, so concurrent
// readers see either the old or the new entry.
type Disk struct {
	dir      string
	rebuild  Rebuilder
	ttl      time.Duration
	compress bool
	logger   logging.Logger
	now      func() time.Time

	hits   int64
	misses int64
}

var _ Store = (*Disk)(nil)

// NewDisk creates dir if needed and returns a store rooted there.
func NewDisk(dir string, rebuild Rebuilder, ttl time.Duration, compress bool, logger logging.Logger) (*Disk, error) {
	if dir == "" {
		return nil, errors.NewConfigError(errors.ErrCodeCacheBackend, "disk cache requires a directory")
	}
	if rebuild == nil {
		return nil, errors.NewMissingCollaboratorError(errors.ErrCodeCacheBackend, "disk cache requires a document builder")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewIOError(errors.ErrCodeCacheBackend, "creating cache directory", err).WithPath(dir)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Disk{
		dir:      dir,
		rebuild:  rebuild,
		ttl:      ttl,
		compress: compress,
		logger:   logger.WithComponent("cache.disk"),
		now:      time.Now,
	}, nil
}

func (d *Disk) path(hash string) (string, bool) {
	if !hashPattern.MatchString(hash) {
		return "", false
	}
	return filepath.Join(d.dir, hash[:2], hash+diskExt), true
}

func (d *Disk) expired(modTime time.Time) bool {
	return d.ttl > 0 && d.now().Sub(modTime) > d.ttl
}

// Exists reports whether a live entry for hash is on disk.
func (d *Disk) Exists(hash string) bool {
	path, ok := d.path(hash)
	if !ok {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !d.expired(info.ModTime())
}

// Read loads and rebuilds the document for hash. Unreadable entries are
// removed and reported as misses.
func (d *Disk) Read(hash string) (*liquid.Document, bool) {
	doc, err := d.read(hash)
	if err != nil || doc == nil {
		if err != nil {
			d.logger.Warn(context.Background(), err, "Discarding unreadable cache entry", "hash", hash)
			d.Delete(hash)
		}
		atomic.AddInt64(&d.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&d.hits, 1)
	return doc, true
}

func (d *Disk) read(hash string) (*liquid.Document, error) {
	path, ok := d.path(hash)
	if !ok {
		return nil, nil
	}
	info, err := os.Stat(path)
	if err != nil || d.expired(info.ModTime()) {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	return d.rebuild.BuildTokens(rec.Tokens, nil)
}

// Write persists doc under hash. Documents that include other templates
// are not persisted.
func (d *Disk) Write(hash string, doc *liquid.Document) error {
	path, ok := d.path(hash)
	if !ok {
		return errors.NewInternalError(errors.ErrCodeCacheBackend,
			fmt.Sprintf("invalid cache key %q", hash), nil)
	}
	if !persistable(doc) {
		return nil
	}

	data, err := encodeDocument(doc, d.now(), d.compress)
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeCacheBackend, "encoding cache entry", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewIOError(errors.ErrCodeCacheBackend, "creating cache shard", err).WithPath(path)
	}
	if err := fileatomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return errors.NewIOError(errors.ErrCodeCacheBackend, "writing cache entry", err).WithPath(path)
	}
	return nil
}

// Delete removes the entry for hash.
func (d *Disk) Delete(hash string) bool {
	path, ok := d.path(hash)
	if !ok {
		return false
	}
	return os.Remove(path) == nil
}

// walk visits every entry file.
func (d *Disk) walk(fn func(path string, info fs.FileInfo) error) error {
	return filepath.WalkDir(d.dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(path, diskExt) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		return fn(path, info)
	})
}

// Prune removes expired entries.
func (d *Disk) Prune() (int, error) {
	removed := 0
	err := d.walk(func(path string, info fs.FileInfo) error {
		if d.expired(info.ModTime()) && os.Remove(path) == nil {
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, errors.NewIOError(errors.ErrCodeCacheBackend, "pruning cache directory", err).WithPath(d.dir)
	}
	return removed, nil
}

// Clear removes every entry and resets statistics.
func (d *Disk) Clear() error {
	err := d.walk(func(path string, _ fs.FileInfo) error {
		return os.Remove(path)
	})
	atomic.StoreInt64(&d.hits, 0)
	atomic.StoreInt64(&d.misses, 0)
	if err != nil {
		return errors.NewIOError(errors.ErrCodeCacheBackend, "clearing cache directory", err).WithPath(d.dir)
	}
	return nil
}

// Stats counts entries on disk.
func (d *Disk) Stats() Stats {
	stats := Stats{
		Backend: BackendDisk,
		Hits:    atomic.LoadInt64(&d.hits),
		Misses:  atomic.LoadInt64(&d.misses),
	}
	_ = d.walk(func(_ string, info fs.FileInfo) error {
		stats.Entries++
		stats.Size += info.Size()
		return nil
	})
	return stats
}

// Close is a no-op.
func (d *Disk) Close() error { return nil }
