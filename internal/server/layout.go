package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/a-h/templ"

	"github.com/conneroisu/sectional/internal/errors"
)

// LivePath is where browsers open the live-reload socket.
const LivePath = "/_live"

const liveReloadJS = `(function () {
  var scheme = location.protocol === "https:" ? "wss:" : "ws:";
  function connect() {
    var ws = new WebSocket(scheme + "//" + location.host + "` + LivePath + `");
    ws.onmessage = function (event) {
      var msg = JSON.parse(event.data);
      if (msg.type === "reload") { location.reload(); }
    };
    ws.onclose = function () { setTimeout(connect, 1000); };
  }
  connect();
})();`

func liveReloadScript() templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<script data-live-reload>`+liveReloadJS+`</script>`)
		return err
	})
}

// errorPage shows a failed render in the browser.
func errorPage(status int, name string, err error) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		title := fmt.Sprintf("%d %s", status, http.StatusText(status))
		_, werr := fmt.Fprintf(w,
			`<!DOCTYPE html><html><head><meta charset="utf-8"><title>%s</title></head>`+
				`<body><h1>%s</h1><p>Rendering <code>%s</code> failed.</p><pre>%s</pre>%s</body></html>`,
			templ.EscapeString(title),
			templ.EscapeString(title),
			templ.EscapeString(name),
			templ.EscapeString(err.Error()),
			suggestionList(errors.Suggest(err)))
		return werr
	})
}

// suggestionList renders suggestions as an escaped HTML list.
func suggestionList(suggestions []errors.ErrorSuggestion) string {
	if len(suggestions) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(`<h2>Suggestions</h2><ul class="suggestions">`)
	for _, s := range suggestions {
		b.WriteString("<li><strong>" + templ.EscapeString(s.Title) + "</strong>")
		if s.Description != "" {
			b.WriteString(" " + templ.EscapeString(s.Description))
		}
		if s.Command != "" {
			b.WriteString(" <code>" + templ.EscapeString(s.Command) + "</code>")
		}
		b.WriteString("</li>")
	}
	b.WriteString("</ul>")
	return b.String()
}

// injectLiveReload places the reload script before </body>, or at the end
// of documents without one.
func injectLiveReload(ctx context.Context, page string) (string, error) {
	var script strings.Builder
	if err := liveReloadScript().Render(ctx, &script); err != nil {
		return "", err
	}

	idx := strings.LastIndex(strings.ToLower(page), "</body>")
	if idx < 0 {
		return page + script.String(), nil
	}
	return page[:idx] + script.String() + page[idx:], nil
}
