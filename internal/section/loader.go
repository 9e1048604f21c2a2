package section

import (
	"context"

	"github.com/conneroisu/sectional/internal/cache"
	"github.com/conneroisu/sectional/internal/errors"
	"github.com/conneroisu/sectional/internal/liquid"
	"github.com/conneroisu/sectional/internal/logging"
	"github.com/conneroisu/sectional/internal/resolver"
)

// Deps are the collaborators the section and include tags are built with.
type Deps struct {
	// FileSystem resolves and reads template files. Tags fail to parse
	// without one.
	FileSystem resolver.FileSystem
	// Cache holds built documents by content hash. Optional.
	Cache cache.Cache
	// Builder builds included sources. Defaults to the builder the tag is
	// registered on.
	Builder liquid.DocumentBuilder
	Logger  logging.Logger
	// MarkerClass is the first class of every section wrapper.
	MarkerClass string
}

// Register installs the section and include tags on b.
func Register(b *liquid.Builder, deps Deps) {
	if deps.Builder == nil {
		deps.Builder = b
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	if deps.MarkerClass == "" {
		deps.MarkerClass = DefaultMarkerClass
	}

	l := &loader{
		fs:      deps.FileSystem,
		cache:   deps.Cache,
		builder: deps.Builder,
		logger:  deps.Logger.WithComponent("section"),
	}

	b.Register("section", func(markup string) (liquid.Tag, error) {
		tag, err := newTag(markup, l, deps.MarkerClass)
		if err != nil {
			return nil, err
		}
		return tag, nil
	})
	b.Register("include", func(markup string) (liquid.Tag, error) {
		tag, err := newInclude(markup, l)
		if err != nil {
			return nil, err
		}
		return tag, nil
	})
}

// loader reads included sources and obtains documents for them, going
// through the cache when there is one.
type loader struct {
	fs      resolver.FileSystem
	cache   cache.Cache
	builder liquid.DocumentBuilder
	logger  logging.Logger
}

func (l *loader) read(name string, kind resolver.Kind) (string, error) {
	if l.fs == nil {
		return "", errors.NewMissingCollaboratorError(errors.ErrCodeNoFileSystem, "no file system").
			WithComponent(name)
	}
	data, err := l.fs.Read(name, kind)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// document returns a document for source and the hash it is cached under.
// A cached document is reused unless it still has includes; otherwise the
// source is built and written back, replacing any stale entry.
func (l *loader) document(source string, env *liquid.Env) (*liquid.Document, string, error) {
	if l.cache == nil {
		doc, err := l.builder.Build(source, env)
		return doc, "", err
	}

	hash := cache.ContentHash(source)
	if doc, ok := l.cache.Read(hash); ok && doc != nil && !doc.HasIncludes() {
		return doc, hash, nil
	}

	doc, err := l.builder.Build(source, env)
	if err != nil {
		return nil, "", err
	}
	if err := l.cache.Write(hash, doc); err != nil {
		l.logger.Warn(context.Background(), err, "Failed to cache document", "hash", hash)
	}

	return doc, hash, nil
}

// current reports whether the cache still holds hash and it matches the
// hash of the source as it reads now.
func (l *loader) current(held, source string) bool {
	if l.cache == nil || held == "" {
		return false
	}
	hash := cache.ContentHash(source)
	return hash == held && l.cache.Exists(hash)
}

func (l *loader) missingFileSystem() bool {
	return l.fs == nil
}
