package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/conneroisu/sectional/internal/errors"
	"github.com/conneroisu/sectional/internal/renderer"
	"github.com/conneroisu/sectional/internal/resolver"
)

func newRenderCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "render <template>",
		Aliases: []string{"r"},
		Short:   "Render a template to stdout or a file",
		Long: `Render a template from the template root with the given data file.

Section settings are read from settings.sections.<name>.settings in the
data; collections bound with "as" come from top-level keys.

Examples:
  sectional render index                      # templates/_index.liquid
  sectional render index --data data.yml      # with render data
  sectional render index -d data.json -O out/index.html`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			bindFlags(a.v, cmd.Flags(), map[string]string{"data": "render.data_file"})
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRender(cmd.Context(), args[0], output)
		},
	}

	cmd.Flags().StringP("data", "d", "", "render data file (YAML or JSON)")
	cmd.Flags().StringVarP(&output, "out", "O", "", "write the result to this file instead of stdout")
	AddFlagValidation(cmd, "data", ValidateFileExists)

	return cmd
}

func (a *app) runRender(ctx context.Context, name, output string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	data, err := renderer.LoadData(cfg.Render.DataFile)
	if err != nil {
		return err
	}

	r, err := renderer.New(cfg, renderer.Options{Logger: a.logger})
	if err != nil {
		return err
	}
	defer r.Close()

	page, err := r.Render(ctx, name, data)
	if err != nil {
		return err
	}

	if output == "" {
		a.printf("%s", page)
		return nil
	}
	if err := atomic.WriteFile(output, strings.NewReader(page)); err != nil {
		return errors.WrapIO(err, errors.ErrCodeWriteFailed, "writing rendered output").WithPath(output)
	}
	a.logger.Info(ctx, "Rendered template", "template", name, "output", output, "bytes", len(page))
	return nil
}

func newResolveCmd(a *app) *cobra.Command {
	var (
		kind   string
		format string
	)

	cmd := &cobra.Command{
		Use:   "resolve <name>...",
		Short: "Show which file a template name refers to",
		Long: `Resolve template names the way the section, include and render paths do,
without reading the files.

Examples:
  sectional resolve hero --kind section
  sectional resolve icon --kind include -o json
  sectional resolve index about --kind template`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runResolve(args, resolver.ParseKind(kind), format)
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "default", "name kind (default, include, section, template)")
	AddFlagValidation(cmd, "kind", func(value string) error {
		return ValidateFormat(value, []string{"default", "include", "section", "template"})
	})
	addOutputFlag(cmd, &format)

	return cmd
}

// Resolution is one resolved name.
type Resolution struct {
	Name string `json:"name" yaml:"name"`
	Kind string `json:"kind" yaml:"kind"`
	Path string `json:"path" yaml:"path"`
}

func (a *app) runResolve(names []string, kind resolver.Kind, format string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	// Resolving needs no cache.
	cfg.Cache.Backend = "none"

	r, err := renderer.New(cfg, renderer.Options{Logger: a.logger})
	if err != nil {
		return err
	}
	defer r.Close()

	resolved := make([]Resolution, 0, len(names))
	for _, name := range names {
		path, err := r.Resolve(name, kind)
		if err != nil {
			return err
		}
		resolved = append(resolved, Resolution{Name: name, Kind: kind.String(), Path: path})
	}

	return writeOutput(a.out, format, resolved, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "NAME\tKIND\tPATH")
		for _, res := range resolved {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", res.Name, res.Kind, res.Path)
		}
	})
}
