// Package cache stores built section documents keyed by the content hash of
// their source, so identical source is tokenized and built only once.
//
// Memory keeps documents in an LRU list with TTL expiry. Disk and SQLite
// persist the token stream (CBOR, optionally zstd-compressed) and rebuild
// documents on read; they only persist leaf documents, since a document
// that still includes other templates must be rebuilt against the
// including page anyway.
package cache

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"

	"github.com/conneroisu/sectional/internal/errors"
	"github.com/conneroisu/sectional/internal/liquid"
	"github.com/conneroisu/sectional/internal/logging"
)

// Cache is what the section and include tags need: atomic presence checks,
// reads and writes keyed by content hash.
type Cache interface {
	Exists(hash string) bool
	Read(hash string) (*liquid.Document, bool)
	Write(hash string, doc *liquid.Document) error
}

// Store is a Cache with housekeeping operations.
type Store interface {
	Cache
	Delete(hash string) bool
	Prune() (int, error)
	Clear() error
	Stats() Stats
	Close() error
}

// Rebuilder turns persisted tokens back into a document.
type Rebuilder interface {
	BuildTokens(tokens []liquid.Token, env *liquid.Env) (*liquid.Document, error)
}

// Stats is a point-in-time view of a store.
type Stats struct {
	Backend   string `json:"backend" yaml:"backend"`
	Entries   int    `json:"entries" yaml:"entries"`
	Size      int64  `json:"size" yaml:"size"`
	MaxSize   int64  `json:"max_size" yaml:"max_size"`
	Hits      int64  `json:"hits" yaml:"hits"`
	Misses    int64  `json:"misses" yaml:"misses"`
	Evictions int64  `json:"evictions" yaml:"evictions"`
}

// HitRate returns hits over lookups, between 0 and 1.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Backend names accepted by Open.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendDisk   = "disk"
	BackendSQLite = "sqlite"
)

// Options selects and configures a backend.
type Options struct {
	Backend  string
	Dir      string
	DSN      string
	MaxSize  int64
	TTL      time.Duration
	Compress bool
	Logger   logging.Logger
}

// Open creates the configured store. The none backend yields a nil store
// and no error: rendering then builds every section fresh.
func Open(opts Options, rebuild Rebuilder) (Store, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}

	switch opts.Backend {
	case "", BackendNone:
		return nil, nil
	case BackendMemory:
		return NewMemory(opts.MaxSize, opts.TTL), nil
	case BackendDisk:
		store, err := NewDisk(opts.Dir, rebuild, opts.TTL, opts.Compress, opts.Logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendSQLite:
		dsn := opts.DSN
		if dsn == "" {
			if opts.Dir == "" {
				return nil, errors.NewConfigError(errors.ErrCodeCacheBackend, "sqlite cache requires a dsn or directory")
			}
			if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
				return nil, errors.NewIOError(errors.ErrCodeCacheBackend, "creating cache directory", err).WithPath(opts.Dir)
			}
			dsn = filepath.Join(opts.Dir, "cache.db")
		}
		store, err := NewSQLite(dsn, rebuild, opts.TTL, opts.Compress, opts.Logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, errors.NewConfigError(errors.ErrCodeCacheBackend,
			fmt.Sprintf("unknown cache backend %q", opts.Backend))
	}
}

// ContentHash returns the hex BLAKE3-256 digest of source.
func ContentHash(source string) string {
	sum := blake3.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// nestedTags are the tags that make a document unsuitable for persistence.
var nestedTags = []string{"include", "section"}

func persistable(doc *liquid.Document) bool {
	return doc != nil && !doc.References(nestedTags...)
}

// documentSize approximates the memory held by a document's tokens.
func documentSize(doc *liquid.Document) int64 {
	if doc == nil {
		return 0
	}
	var size int64
	for _, tok := range doc.Tokens() {
		size += int64(len(tok.Name) + len(tok.Value) + 1)
	}
	return size
}
