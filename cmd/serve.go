package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/sectional/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Preview templates with live reload",
		Long: `Start the preview server. Every template under the template root is
served at /<name> (and /render/<name>); "/" renders index. Open pages reload
when a template or the data file changes.

Other endpoints:
  /health         server and cache status
  /metrics        Prometheus metrics
  /_cache         cache statistics (GET), clear (DELETE)
  /_cache/prune   prune expired entries (POST)

Examples:
  sectional serve
  sectional serve --port 3000 --data data.yml
  sectional serve --live-reload=false --cache-backend sqlite`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			bindFlags(a.v, cmd.Flags(), map[string]string{
				"host":        "server.host",
				"port":        "server.port",
				"live-reload": "server.live_reload",
				"data":        "render.data_file",
			})
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd.Context())
		},
	}

	cmd.Flags().StringP("host", "H", "localhost", "host to bind to")
	cmd.Flags().IntP("port", "p", 8080, "port to serve on")
	cmd.Flags().Bool("live-reload", true, "reload open pages when templates change")
	cmd.Flags().StringP("data", "d", "", "render data file (YAML or JSON)")
	AddFlagValidation(cmd, "port", ValidatePort)
	AddFlagValidation(cmd, "data", ValidateFileExists)

	return cmd
}

func (a *app) runServe(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, a.logger)
	if err != nil {
		return err
	}

	defer func() { _ = srv.Shutdown(context.Background()) }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.printf("Serving %s at http://%s:%d\n", srv.Renderer().Roots().Root, cfg.Server.Host, cfg.Server.Port)
	return srv.Start(ctx)
}
