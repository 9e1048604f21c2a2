// Package renderer wires the template resolver, document builder, section
// tags and parse cache together and renders named templates.
//
// A Renderer is safe for concurrent use: every render pass gets its own
// context while the builder, resolver and cache are shared.
package renderer

import (
	"context"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/conneroisu/sectional/internal/cache"
	"github.com/conneroisu/sectional/internal/config"
	"github.com/conneroisu/sectional/internal/errors"
	"github.com/conneroisu/sectional/internal/liquid"
	"github.com/conneroisu/sectional/internal/logging"
	"github.com/conneroisu/sectional/internal/resolver"
	"github.com/conneroisu/sectional/internal/section"
)

// Renderer renders templates from a configured template tree.
type Renderer struct {
	fs      *resolver.Local
	builder *liquid.Builder
	store   cache.Store
	logger  logging.Logger
}

// Options carries the collaborators New does not derive from configuration.
type Options struct {
	Logger logging.Logger
	// Registry receives cache metrics. Nil leaves the cache uninstrumented.
	Registry prometheus.Registerer
}

// New builds a renderer from cfg.
func New(cfg *config.Config, opts Options) (*Renderer, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithComponent("renderer")

	t := cfg.Templates
	fs, err := resolver.New(t.Root, t.IncludeRoot, t.SectionRoot, t.TemplateRoot,
		resolver.WithPrefix(t.Prefix),
		resolver.WithSuffix(t.Suffix),
		resolver.WithAllowExtensions(t.AllowExtensions),
	)
	if err != nil {
		return nil, err
	}

	builder := liquid.NewBuilder(liquid.WithMaxIncludeDepth(cfg.Render.MaxIncludeDepth))

	store, err := cache.Open(cache.Options{
		Backend:  cfg.Cache.Backend,
		Dir:      cfg.Cache.Dir,
		DSN:      cfg.Cache.DSN,
		MaxSize:  cfg.Cache.MaxSize,
		TTL:      cfg.Cache.TTL,
		Compress: cfg.Cache.Compress,
		Logger:   logger,
	}, builder)
	if err != nil {
		return nil, err
	}
	if store != nil && opts.Registry != nil {
		instrumented := cache.Instrument(store, cache.NewMetrics(cfg.Metrics.Namespace, opts.Registry))
		instrumented.RefreshGauges()
		store = instrumented
	}

	deps := section.Deps{
		FileSystem:  fs,
		Builder:     builder,
		Logger:      logger,
		MarkerClass: cfg.Render.MarkerClass,
	}
	if store != nil {
		deps.Cache = store
	}
	section.Register(builder, deps)

	logger.Debug(context.Background(), "Renderer ready",
		"root", fs.Roots().Root,
		"cache", cfg.Cache.Backend,
		"tags", builder.Tags())

	return &Renderer{fs: fs, builder: builder, store: store, logger: logger}, nil
}

// Render reads the template called name and renders it with data.
func (r *Renderer) Render(ctx context.Context, name string, data map[string]any) (string, error) {
	logger := r.logger.With("render_id", uuid.NewString(), "template", name)

	source, err := r.fs.Read(name, resolver.KindTemplate)
	if err != nil {
		errors.NewErrorHandler(logger).Handle(ctx, err)
		return "", err
	}

	return r.render(ctx, logger, string(source), data)
}

// RenderString renders template source with data.
func (r *Renderer) RenderString(ctx context.Context, source string, data map[string]any) (string, error) {
	return r.render(ctx, r.logger.With("render_id", uuid.NewString()), source, data)
}

func (r *Renderer) render(ctx context.Context, logger logging.Logger, source string, data map[string]any) (string, error) {
	op := logging.StartOperation(logger, "render")

	// Parse-time overrides and render-time bindings read the same data.
	scope := liquid.NewContext(data)
	out, err := r.renderWith(scope, source)
	if err != nil {
		if errors.IsSecurityError(err) {
			logging.LogSecurityEvent(logger, ctx, "template_path_escape", map[string]interface{}{
				"error": err.Error(),
			})
		}
		errors.NewErrorHandler(logger).Handle(ctx, err)
		return "", err
	}

	op.End(ctx)
	return out, nil
}

func (r *Renderer) renderWith(scope *liquid.Context, source string) (string, error) {
	doc, err := r.builder.Build(source, r.builder.NewEnv(scope))
	if err != nil {
		return "", err
	}
	return doc.Render(scope)
}

// Resolve returns the file a template name refers to for kind.
func (r *Renderer) Resolve(name string, kind resolver.Kind) (string, error) {
	return r.fs.Resolve(name, kind)
}

// Roots returns the canonical template roots.
func (r *Renderer) Roots() resolver.RootSet {
	return r.fs.Roots()
}

// Store returns the parse cache, or nil when caching is disabled.
func (r *Renderer) Store() cache.Store {
	return r.store
}

// Builder returns the document builder with every tag registered.
func (r *Renderer) Builder() *liquid.Builder {
	return r.builder
}

// Close releases the cache.
func (r *Renderer) Close() error {
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}
