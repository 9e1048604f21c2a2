package section

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/sectional/internal/cache"
	"github.com/conneroisu/sectional/internal/errors"
	"github.com/conneroisu/sectional/internal/liquid"
	"github.com/conneroisu/sectional/internal/resolver"
)

var fixtures = map[string]string{
	"sections/_hero.liquid":      `<h1>{{ section.heading }}</h1>{% schema %}{"class":"hero-banner"}{% endschema %}`,
	"sections/_card.liquid":      `<p>{{ card.title }}</p>`,
	"sections/_badge.liquid":     `{{ label }}-{{ count }}-{{ badge }}`,
	"sections/_promo.liquid":     `<aside>{% include section.icon %}</aside>`,
	"sections/_outer.liquid":     `<div>{% section 'card' with product %}</div>`,
	"sections/_wrap.liquid":      `{% section 'promo' %}`,
	"sections/_loop.liquid":      `{% section 'loop' %}`,
	"sections/_ping.liquid":      `{% section 'pong' %}`,
	"sections/_pong.liquid":      `{% section 'ping' %}`,
	"sections/_d1.liquid":        `{% section 'd2' %}`,
	"sections/_d2.liquid":        `{% section 'd3' %}`,
	"sections/_d3.liquid":        `leaf`,
	"sections/_broken.liquid":    `x{% schema %}{not json{% endschema %}`,
	"sections/_commented.liquid": "y{% schema %}{\n  // wrapper\n  \"class\": \"promo wide\",\n  \"tag\": \"section\",\n}{% endschema %}",
	"sections/_boom.liquid":      `{% boom %}`,
	"snippets/_cart.liquid":      `<svg>cart</svg>`,
	"snippets/_star.liquid":      `<svg>{{ star }}</svg>`,
	"snippets/_self.liquid":      `{% include 'self' %}`,
}

// countingBuilder counts fresh builds of included sources.
type countingBuilder struct {
	inner *liquid.Builder
	mu    sync.Mutex
	total int
}

func (c *countingBuilder) Build(source string, env *liquid.Env) (*liquid.Document, error) {
	c.mu.Lock()
	c.total++
	c.mu.Unlock()
	return c.inner.Build(source, env)
}

func (c *countingBuilder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

type harness struct {
	root    string
	builder *liquid.Builder
	counter *countingBuilder
}

func newHarness(t *testing.T, c cache.Cache, opts ...liquid.BuilderOption) *harness {
	t.Helper()

	root := t.TempDir()
	for rel, content := range fixtures {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	fs, err := resolver.New(root, filepath.Join(root, "snippets"), filepath.Join(root, "sections"), "")
	require.NoError(t, err)

	b := liquid.NewBuilder(opts...)
	counter := &countingBuilder{inner: b}
	Register(b, Deps{FileSystem: fs, Cache: c, Builder: counter})
	b.Register("boom", func(string) (liquid.Tag, error) { return boomTag{}, nil })

	return &harness{root: root, builder: b, counter: counter}
}

func (h *harness) write(t *testing.T, rel, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(h.root, rel), []byte(content), 0o644))
}

func (h *harness) build(source string, ctx *liquid.Context) (*liquid.Document, error) {
	return h.builder.Build(source, h.builder.NewEnv(ctx))
}

func (h *harness) render(t *testing.T, source string, assigns map[string]any) (string, error) {
	t.Helper()
	ctx := liquid.NewContext(assigns)
	doc, err := h.build(source, ctx)
	if err != nil {
		return "", err
	}
	return doc.Render(ctx)
}

type boomTag struct{}

func (boomTag) Parse(*liquid.Env) error { return nil }

func (boomTag) Render(*liquid.Context) (string, error) {
	return "", fmt.Errorf("boom")
}

// wrapperElement parses out and returns the first element's tag and
// attributes.
func wrapperElement(t *testing.T, out string) (string, map[string]string) {
	t.Helper()
	nodes, err := html.ParseFragment(strings.NewReader(out), &html.Node{
		Type: html.ElementNode, Data: "body", DataAtom: atom.Body,
	})
	require.NoError(t, err)
	for _, n := range nodes {
		if n.Type != html.ElementNode {
			continue
		}
		attrs := make(map[string]string, len(n.Attr))
		for _, a := range n.Attr {
			attrs[a.Key] = a.Val
		}
		return n.Data, attrs
	}
	t.Fatalf("no element in %q", out)
	return "", nil
}

func TestRenderHeroScenario(t *testing.T) {
	h := newHarness(t, nil)

	out, err := h.render(t, "{% section 'hero' %}", map[string]any{
		"settings": map[string]any{
			"sections": map[string]any{
				"hero": map[string]any{"settings": map[string]any{"heading": "Welcome"}},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `<div id="section-hero" class="section-marker hero-banner"><h1>Welcome</h1></div>`, out)

	tag, attrs := wrapperElement(t, out)
	assert.Equal(t, "div", tag)
	assert.Equal(t, "section-hero", attrs["id"])
	assert.Equal(t, "section-marker hero-banner", attrs["class"])
}

func TestRenderCollectionScenario(t *testing.T) {
	h := newHarness(t, nil)

	out, err := h.render(t, "{% section 'card' as 'products' %}", map[string]any{
		"products": []any{
			map[string]any{"title": "p1"},
			map[string]any{"title": "p2"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `<div id="section-card" class="section-marker"><p>p1</p><p>p2</p></div>`, out)
}

func TestCollectionOfOneMatchesSingular(t *testing.T) {
	h := newHarness(t, nil)
	product := map[string]any{"title": "Shirt"}

	asOut, err := h.render(t, "{% section 'card' as products %}", map[string]any{"products": []any{product}})
	require.NoError(t, err)
	withOut, err := h.render(t, "{% section 'card' with product %}", map[string]any{"product": product})
	require.NoError(t, err)

	assert.Equal(t, withOut, asOut)
}

func TestRenderEmptyCollection(t *testing.T) {
	h := newHarness(t, nil)

	out, err := h.render(t, "{% section 'card' as products %}", map[string]any{"products": []any{}})
	require.NoError(t, err)
	assert.Equal(t, `<div id="section-card" class="section-marker"></div>`, out)
}

func TestScalarBoundValueSelectsSettings(t *testing.T) {
	h := newHarness(t, nil)

	out, err := h.render(t, "{% section 'hero' with 'promo-1' %}", map[string]any{
		"settings": map[string]any{
			"sections": map[string]any{
				"hero":    map[string]any{"settings": map[string]any{"heading": "Default"}},
				"promo-1": map[string]any{"settings": map[string]any{"heading": "Sale"}},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `<div id="section-promo-1" class="section-marker hero-banner"><h1>Sale</h1></div>`, out)
}

func TestUnsluggableBoundValueFallsBackToName(t *testing.T) {
	h := newHarness(t, nil)

	for _, bound := range []string{"'日本'", "'!!'"} {
		t.Run(bound, func(t *testing.T) {
			out, err := h.render(t, "{% section 'card' with "+bound+" %}", nil)
			require.NoError(t, err)
			_, attrs := wrapperElement(t, out)
			assert.Equal(t, "section-card", attrs["id"])
		})
	}
}

func TestAttributesAreBound(t *testing.T) {
	h := newHarness(t, nil)

	out, err := h.render(t, "{% section 'badge' with 'new' label:'Sale' count:n %}", map[string]any{"n": 3})
	require.NoError(t, err)
	assert.Equal(t, `<div id="section-new" class="section-marker">Sale-3-new</div>`, out)
}

func TestScopeSymmetry(t *testing.T) {
	h := newHarness(t, nil)

	tests := []struct {
		name    string
		source  string
		wantErr bool
	}{
		{name: "singular", source: "{% section 'badge' with 'x' label:'a' count:1 %}"},
		{name: "collection", source: "{% section 'card' as products %}"},
		{name: "settings", source: "{% section 'hero' %}"},
		{name: "include", source: "{% include 'star' with 'gold' %}"},
		{name: "render error", source: "{% section 'boom' %}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := liquid.NewContext(map[string]any{
				"section":  "caller",
				"label":    "caller-label",
				"products": []any{map[string]any{"title": "p"}},
				"settings": map[string]any{"sections": map[string]any{
					"hero": map[string]any{"settings": map[string]any{"heading": "h"}},
				}},
			})
			before := ctx.Snapshot()
			depth := ctx.Depth()

			doc, err := h.build(tt.source, ctx)
			require.NoError(t, err)
			_, err = doc.Render(ctx)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, depth, ctx.Depth())
			assert.Equal(t, before, ctx.Snapshot())
		})
	}
}

func TestSchemaDegradesGracefully(t *testing.T) {
	h := newHarness(t, nil)

	out, err := h.render(t, "{% section 'broken' %}", nil)
	require.NoError(t, err)
	assert.Equal(t, `<div id="section-broken" class="section-marker">x</div>`, out)

	out, err = h.render(t, "{% section 'commented' %}", nil)
	require.NoError(t, err)
	assert.Equal(t, `<section id="section-commented" class="section-marker promo wide">y</section>`, out)
}

func TestSettingsOverride(t *testing.T) {
	h := newHarness(t, nil)

	t.Run("override applied", func(t *testing.T) {
		out, err := h.render(t, "{% section 'promo' %}", map[string]any{
			"settings": map[string]any{"sections": map[string]any{
				"promo": map[string]any{"settings": map[string]any{"icon": "cart"}},
			}},
		})
		require.NoError(t, err)
		assert.Equal(t, `<div id="section-promo" class="section-marker"><aside><svg>cart</svg></aside></div>`, out)
	})

	t.Run("override keyed by bound value", func(t *testing.T) {
		out, err := h.render(t, "{% section 'promo' with 'spring' %}", map[string]any{
			"star": "gold",
			"settings": map[string]any{"sections": map[string]any{
				"promo":  map[string]any{"settings": map[string]any{"icon": "cart"}},
				"spring": map[string]any{"settings": map[string]any{"icon": "star"}},
			}},
		})
		require.NoError(t, err)
		assert.Equal(t, `<div id="section-spring" class="section-marker"><aside><svg>gold</svg></aside></div>`, out)
	})

	t.Run("no override leaves the expression", func(t *testing.T) {
		// section.icon is not a legal template name.
		_, err := h.render(t, "{% section 'promo' %}", nil)
		require.Error(t, err)
		assert.True(t, errors.IsParse(err))
	})
}

func promoSettings(icon string) map[string]any {
	return map[string]any{
		"star": "gold",
		"settings": map[string]any{"sections": map[string]any{
			"promo": map[string]any{"settings": map[string]any{"icon": icon}},
		}},
	}
}

func TestSettingsOverrideAcrossCachedRenders(t *testing.T) {
	const (
		promoCart = `<div id="section-promo" class="section-marker"><aside><svg>cart</svg></aside></div>`
		promoStar = `<div id="section-promo" class="section-marker"><aside><svg>gold</svg></aside></div>`
	)

	tests := []struct {
		name     string
		source   string
		wantCart string
		wantStar string
	}{
		{
			name:     "top-level section",
			source:   "{% section 'promo' %}",
			wantCart: promoCart,
			wantStar: promoStar,
		},
		{
			name:     "section nested in a cached section",
			source:   "{% section 'wrap' %}",
			wantCart: `<div id="section-wrap" class="section-marker">` + promoCart + `</div>`,
			wantStar: `<div id="section-wrap" class="section-marker">` + promoStar + `</div>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := cache.NewMemory(0, 0)
			h := newHarness(t, store)

			out, err := h.render(t, tt.source, promoSettings("cart"))
			require.NoError(t, err)
			assert.Equal(t, tt.wantCart, out)

			out, err = h.render(t, tt.source, promoSettings("star"))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStar, out, "changed settings must not reuse the earlier build")
			assert.True(t, store.Exists(cache.ContentHash(`<aside>{% include star %}</aside>`)))

			out, err = h.render(t, tt.source, promoSettings("cart"))
			require.NoError(t, err)
			assert.Equal(t, tt.wantCart, out)
		})
	}
}

func TestOverridableSectionIsRebuilt(t *testing.T) {
	h := newHarness(t, cache.NewMemory(0, 0))

	doc, err := h.build("{% section 'promo' %}", liquid.NewContext(promoSettings("cart")))
	require.NoError(t, err)
	tag, ok := doc.Nodes()[0].(*Tag)
	require.True(t, ok)

	assert.True(t, tag.HasIncludes(), "a section whose nested include settings may override is never reused as is")
	assert.True(t, doc.HasIncludes())
}

func TestParseErrors(t *testing.T) {
	h := newHarness(t, nil)

	tests := []struct {
		name   string
		source string
		check  func(error) bool
	}{
		{name: "missing name", source: "{% section %}", check: errors.IsParse},
		{name: "dangling with", source: "{% section 'hero' with %}", check: errors.IsParse},
		{name: "traversal", source: "{% section '../secret' %}", check: errors.IsParse},
		{name: "missing file", source: "{% section 'footer' %}", check: errors.IsNotFound},
		{name: "self include", source: "{% section 'loop' %}", check: errors.IsRecursionLimit},
		{name: "mutual include", source: "{% section 'ping' %}", check: errors.IsRecursionLimit},
		{name: "include cycle", source: "{% include 'self' %}", check: errors.IsRecursionLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.build(tt.source, nil)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
}

func TestDepthLimit(t *testing.T) {
	h := newHarness(t, nil, liquid.WithMaxIncludeDepth(2))

	_, err := h.build("{% section 'd2' %}", nil)
	require.NoError(t, err)

	_, err = h.build("{% section 'd1' %}", nil)
	require.Error(t, err)
	var te *errors.TemplateError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, errors.ErrCodeIncludeDepth, te.Code)
}

func TestMissingFileSystem(t *testing.T) {
	b := liquid.NewBuilder()
	Register(b, Deps{})

	for _, source := range []string{"{% section 'hero' %}", "{% include 'icon' %}"} {
		_, err := b.Build(source, nil)
		require.Error(t, err)
		assert.True(t, errors.IsMissingCollaborator(err))
	}
}

func TestCacheReuse(t *testing.T) {
	store := cache.NewMemory(0, 0)
	h := newHarness(t, store)
	assigns := map[string]any{"product": map[string]any{"title": "Shirt"}}

	first, err := h.render(t, "{% section 'card' with product %}", assigns)
	require.NoError(t, err)
	assert.Equal(t, 1, h.counter.count())

	second, err := h.render(t, "{% section 'card' with product %}", assigns)
	require.NoError(t, err)
	assert.Equal(t, 1, h.counter.count(), "identical source must not be rebuilt")
	assert.Equal(t, first, second)

	h.write(t, "sections/_card.liquid", `<p class="card">{{ card.title }}</p>`)
	third, err := h.render(t, "{% section 'card' with product %}", assigns)
	require.NoError(t, err)
	assert.Equal(t, 2, h.counter.count(), "changed source must be rebuilt")
	assert.Contains(t, third, `<p class="card">Shirt</p>`)
	assert.True(t, store.Exists(cache.ContentHash(`<p class="card">{{ card.title }}</p>`)))
}

func TestCacheReuseOnDisk(t *testing.T) {
	builder := liquid.NewBuilder()
	store, err := cache.NewDisk(t.TempDir(), builder, 0, true, nil)
	require.NoError(t, err)
	h := newHarness(t, store)

	for i := 0; i < 3; i++ {
		out, err := h.render(t, "{% section 'card' as products %}", map[string]any{
			"products": []any{map[string]any{"title": "p"}},
		})
		require.NoError(t, err)
		assert.Equal(t, `<div id="section-card" class="section-marker"><p>p</p></div>`, out)
	}
	assert.Equal(t, 1, h.counter.count())
}

func TestNestedSectionsUseCache(t *testing.T) {
	h := newHarness(t, cache.NewMemory(0, 0))
	assigns := map[string]any{"product": map[string]any{"title": "Hat"}}

	for i := 0; i < 3; i++ {
		out, err := h.render(t, "{% section 'outer' %}", assigns)
		require.NoError(t, err)
		assert.Equal(t,
			`<div id="section-outer" class="section-marker"><div><div id="section-card" class="section-marker"><p>Hat</p></div></div></div>`,
			out)
	}
	assert.Equal(t, 2, h.counter.count(), "outer and card are each built once")
}

func TestHasIncludes(t *testing.T) {
	store := cache.NewMemory(0, 0)
	h := newHarness(t, store)

	doc, err := h.build("{% section 'card' %}", nil)
	require.NoError(t, err)
	tag, ok := doc.Nodes()[0].(*Tag)
	require.True(t, ok)
	require.NotEmpty(t, tag.Hash())
	assert.NotNil(t, tag.Document())

	assert.False(t, tag.HasIncludes())
	assert.False(t, doc.HasIncludes())

	store.Delete(tag.Hash())
	assert.True(t, tag.HasIncludes(), "evicted entries force a rebuild")

	require.NoError(t, store.Write(tag.Hash(), tag.Document()))
	assert.False(t, tag.HasIncludes())

	h.write(t, "sections/_card.liquid", "changed")
	assert.True(t, tag.HasIncludes(), "changed source forces a rebuild")
	assert.True(t, doc.HasIncludes())
}

func TestHasIncludesWithoutCache(t *testing.T) {
	h := newHarness(t, nil)

	doc, err := h.build("{% section 'card' %}{% include 'cart' %}", nil)
	require.NoError(t, err)
	for _, n := range doc.Nodes() {
		inc, ok := n.(liquid.Includer)
		require.True(t, ok)
		assert.True(t, inc.HasIncludes())
	}
}

func TestInclude(t *testing.T) {
	h := newHarness(t, cache.NewMemory(0, 0))

	out, err := h.render(t, "<b>{% include 'star' with 'gold' %}</b>", nil)
	require.NoError(t, err)
	assert.Equal(t, "<b><svg>gold</svg></b>", out)

	out, err = h.render(t, "{% include star as colors %}", map[string]any{"colors": []string{"r", "g"}})
	require.NoError(t, err)
	assert.Equal(t, "<svg>r</svg><svg>g</svg>", out)

	doc, err := h.build("{% include 'cart' %}", nil)
	require.NoError(t, err)
	assert.False(t, doc.HasIncludes())
	assert.Equal(t, 2, h.counter.count(), "star and cart are each built once")
}

func TestConcurrentRendersShareCache(t *testing.T) {
	h := newHarness(t, cache.NewMemory(0, 0))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			title := fmt.Sprintf("t%d", i)
			out, err := h.render(t, "{% section 'card' with product %}", map[string]any{
				"product": map[string]any{"title": title},
			})
			assert.NoError(t, err)
			assert.Contains(t, out, "<p>"+title+"</p>")
		}(i)
	}
	wg.Wait()
}
