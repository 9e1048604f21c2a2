// Package resolver maps user-supplied template names to files inside a
// sandboxed directory tree.
//
// Names are validated against an allow-list before they touch the
// filesystem, joined under the root selected by the template kind, and
// canonicalized (symlinks evaluated) after joining. The canonical result must
// lie inside the canonical root by whole path segments; anything else is
// reported as not found.
package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/conneroisu/sectional/internal/errors"
)

// Kind selects which sub-root a name is resolved against.
type Kind int

const (
	KindDefault Kind = iota
	KindInclude
	KindSection
	KindTemplate
)

// String returns the string representation of the Kind
func (k Kind) String() string {
	switch k {
	case KindInclude:
		return "include"
	case KindSection:
		return "section"
	case KindTemplate:
		return "template"
	default:
		return "default"
	}
}

// ParseKind converts a kind name from the CLI into a Kind. Unknown names map
// to KindDefault.
func ParseKind(name string) Kind {
	switch strings.ToLower(name) {
	case "include":
		return KindInclude
	case "section":
		return KindSection
	case "template":
		return KindTemplate
	default:
		return KindDefault
	}
}

var (
	namePattern    = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9_/-]*$`)
	extNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9_./-]*$`)
)

// FileSystem is what the template tags need from a resolver.
type FileSystem interface {
	Resolve(name string, kind Kind) (string, error)
	Read(name string, kind Kind) ([]byte, error)
}

// RootSet holds the four canonical directories names are resolved under.
type RootSet struct {
	Root         string
	IncludeRoot  string
	SectionRoot  string
	TemplateRoot string
}

// Options controls how names are turned into file names.
type Options struct {
	// AllowExtensions permits dots in names and disables the prefix and
	// suffix decoration.
	AllowExtensions bool
	// Prefix is prepended to the base name, Rails-partial style.
	Prefix string
	// Suffix is the file extension appended to the base name, without dot.
	Suffix string
}

// DefaultOptions returns the partial naming convention: "_name.liquid".
func DefaultOptions() Options {
	return Options{Prefix: "_", Suffix: "liquid"}
}

// Option configures a Local resolver.
type Option func(*Options)

// WithAllowExtensions toggles extension mode.
func WithAllowExtensions(allow bool) Option {
	return func(o *Options) { o.AllowExtensions = allow }
}

// WithPrefix overrides the base name prefix.
func WithPrefix(prefix string) Option {
	return func(o *Options) { o.Prefix = prefix }
}

// WithSuffix overrides the file extension.
func WithSuffix(suffix string) Option {
	return func(o *Options) { o.Suffix = strings.TrimPrefix(suffix, ".") }
}

// Local resolves template names against directories on the local disk.
// It is immutable after construction and safe for concurrent use.
type Local struct {
	roots RootSet
	opts  Options
}

var _ FileSystem = (*Local)(nil)

// New canonicalizes root and the optional sub-roots once. Empty sub-roots
// default to root. Every root must exist, and sub-roots must lie inside
// root since nothing outside it could ever be returned.
func New(root, includeRoot, sectionRoot, templateRoot string, options ...Option) (*Local, error) {
	opts := DefaultOptions()
	for _, o := range options {
		o(&opts)
	}

	if root == "" {
		return nil, errors.NewNotFoundError(errors.ErrCodeRootNotFound, "root path is empty")
	}
	realRoot, err := canonicalDir(root)
	if err != nil {
		return nil, errors.NewNotFoundError(errors.ErrCodeRootNotFound,
			fmt.Sprintf("root path could not be found: %q", root)).WithCause(err)
	}

	sub := func(label, path string) (string, error) {
		if path == "" {
			return realRoot, nil
		}
		resolved, err := canonicalDir(path)
		if err != nil {
			return "", errors.NewNotFoundError(errors.ErrCodeRootNotFound,
				fmt.Sprintf("%s root could not be found: %q", label, path)).WithCause(err)
		}
		if !within(realRoot, resolved) {
			return "", errors.NewNotFoundError(errors.ErrCodePathEscape,
				fmt.Sprintf("%s root %q is not under %q", label, resolved, realRoot)).WithPath(resolved)
		}
		return resolved, nil
	}

	roots := RootSet{Root: realRoot}
	if roots.IncludeRoot, err = sub("include", includeRoot); err != nil {
		return nil, err
	}
	if roots.SectionRoot, err = sub("section", sectionRoot); err != nil {
		return nil, err
	}
	if roots.TemplateRoot, err = sub("template", templateRoot); err != nil {
		return nil, err
	}

	return &Local{roots: roots, opts: opts}, nil
}

// Roots returns the canonical root set.
func (l *Local) Roots() RootSet {
	return l.roots
}

// Options returns the naming options.
func (l *Local) Options() Options {
	return l.opts
}

// Resolve validates name and returns the canonical path of the file it
// names for the given kind.
func (l *Local) Resolve(name string, kind Kind) (string, error) {
	if name == "" {
		return "", errors.NewParseError(errors.ErrCodeEmptyName, "empty template name")
	}
	if err := l.validateName(name); err != nil {
		return "", err
	}

	dir, base := filepath.Split(filepath.FromSlash(name))
	if !l.opts.AllowExtensions {
		base = l.opts.Prefix + base
		if l.opts.Suffix != "" {
			base += "." + l.opts.Suffix
		}
	}

	fullPath := filepath.Join(l.rootFor(kind), dir, base)

	realPath, err := filepath.EvalSymlinks(fullPath)
	if err != nil {
		return "", errors.NewNotFoundError(errors.ErrCodeTemplateNotFound,
			fmt.Sprintf("%s file not found: %s", kind, fullPath)).
			WithComponent(name).
			WithPath(fullPath).
			WithContext("kind", kind.String()).
			WithCause(err)
	}
	realPath, err = filepath.Abs(realPath)
	if err != nil {
		return "", errors.NewNotFoundError(errors.ErrCodeTemplateNotFound,
			fmt.Sprintf("%s file not found: %s", kind, fullPath)).WithComponent(name).WithCause(err)
	}

	if !within(l.roots.Root, realPath) {
		return "", errors.NewNotFoundError(errors.ErrCodePathEscape,
			fmt.Sprintf("illegal template full path: %s not under %s", realPath, l.roots.Root)).
			WithComponent(name).
			WithPath(realPath).
			WithContext("kind", kind.String())
	}

	return realPath, nil
}

// Read resolves name and returns the file content.
func (l *Local) Read(name string, kind Kind) ([]byte, error) {
	path, err := l.Resolve(name, kind)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeReadFailed,
			"reading template file", err).WithComponent(name).WithPath(path)
	}

	return data, nil
}

func (l *Local) validateName(name string) error {
	pattern := namePattern
	if l.opts.AllowExtensions {
		pattern = extNamePattern
	}

	illegal := !pattern.MatchString(name)
	if !illegal {
		for _, segment := range strings.Split(name, "/") {
			if segment == ".." {
				illegal = true
				break
			}
		}
	}

	if illegal {
		return errors.NewParseError(errors.ErrCodeIllegalName,
			fmt.Sprintf("illegal template name %q", name)).WithComponent(name)
	}

	return nil
}

func (l *Local) rootFor(kind Kind) string {
	switch kind {
	case KindInclude:
		return l.roots.IncludeRoot
	case KindSection:
		return l.roots.SectionRoot
	case KindTemplate:
		return l.roots.TemplateRoot
	default:
		return l.roots.Root
	}
}

// canonicalDir returns the absolute, symlink-free form of an existing
// directory.
func canonicalDir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", resolved)
	}

	return resolved, nil
}

// within reports whether path equals root or lies beneath it, comparing
// whole path segments so "/data/templates-evil" is not inside
// "/data/templates".
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if filepath.IsAbs(rel) {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
