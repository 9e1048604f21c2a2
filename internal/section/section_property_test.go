//go:build property
// +build property

package section

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/conneroisu/sectional/internal/cache"
	"github.com/conneroisu/sectional/internal/liquid"
)

// TestSectionProperties checks rendering invariants over generated data.
func TestSectionProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(4321)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)
	h := newHarness(t, cache.NewMemory(0, 0))

	properties.Property("collection output is the concatenation of singular renders", prop.ForAll(
		func(titles []string) bool {
			products := make([]any, len(titles))
			var want strings.Builder
			for i, title := range titles {
				product := map[string]any{"title": title}
				products[i] = product
				want.WriteString("<p>" + title + "</p>")
			}

			out, err := h.render(t, "{% section 'card' as products %}", map[string]any{"products": products})
			if err != nil {
				return false
			}
			return out == `<div id="section-card" class="section-marker">`+want.String()+`</div>`
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("rendering leaves the caller's scope untouched", prop.ForAll(
		func(label string, count int, fail bool) bool {
			ctx := liquid.NewContext(map[string]any{"label": "outer", "n": count})
			before := ctx.Snapshot()

			name := "badge"
			if fail {
				name = "boom"
			}
			source := fmt.Sprintf("{%% section '%s' with 'x' label:'%s' count:n %%}", name, label)
			doc, err := h.build(source, ctx)
			if err != nil {
				return false
			}
			_, _ = doc.Render(ctx)

			after := ctx.Snapshot()
			return ctx.Depth() == 1 && len(after) == len(before) &&
				after["label"] == "outer" && after["n"] == count
		},
		gen.AlphaString(),
		gen.Int(),
		gen.Bool(),
	))

	properties.Property("wrapper ids are slugs of the bound value", prop.ForAll(
		func(handle string) bool {
			out, err := h.render(t, "{% section 'badge' with handle %}", map[string]any{"handle": handle})
			if err != nil {
				return false
			}
			return strings.HasPrefix(out, `<div id="section-`+Slug(handle)+`"`)
		},
		gen.RegexMatch(`^[A-Za-z0-9 _-]{1,16}$`),
	))

	properties.TestingRun(t)
}
