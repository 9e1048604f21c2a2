// Package cmd provides the sectional command-line interface.
//
// Configuration is layered, highest priority first:
//
//  1. Command-line flags (--data, --port, --cache-backend, ...)
//  2. SECTIONAL_<SECTION>_<KEY> environment variables, e.g. SECTIONAL_CACHE_BACKEND
//  3. The configuration file: --config, else SECTIONAL_CONFIG_FILE, else
//     .sectional.yml in the working directory
//  4. Built-in defaults
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/sectional/internal/config"
	"github.com/conneroisu/sectional/internal/errors"
	"github.com/conneroisu/sectional/internal/logging"
)

// ConfigFileEnv names a configuration file when --config is absent.
const ConfigFileEnv = config.EnvPrefix + "_CONFIG_FILE"

// app is the state shared by every command of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	logger  logging.Logger
	out     io.Writer
	errOut  io.Writer
}

// Execute runs the CLI with os.Args and reports a failure on stderr along
// with any suggestions for fixing it.
func Execute() error {
	err := NewRootCmd().ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, errors.FormatSuggestions("Error: "+err.Error(), errors.Suggest(err)))
	}
	return err
}

// NewRootCmd builds the command tree with its own Viper instance.
func NewRootCmd() *cobra.Command {
	a := &app{
		v:      viper.New(),
		logger: logging.NewNopLogger(),
		out:    os.Stdout,
		errOut: os.Stderr,
	}

	root := &cobra.Command{
		Use:   "sectional",
		Short: "Render Liquid templates built from sections and snippets",
		Long: `sectional renders Liquid templates assembled from reusable sections and
snippets. Section output is wrapped in a marker element, section settings
come from the render data, and parsed sections are cached by content hash.

Quick Start:
  sectional render index --data data.yml   Render templates/_index.liquid
  sectional resolve hero --kind section    Show which file a name maps to
  sectional serve                          Preview with live reload
  sectional cache stats                    Inspect the parse cache`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.out = cmd.OutOrStdout()
			a.errOut = cmd.ErrOrStderr()
			return a.initConfig(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default .sectional.yml, or "+ConfigFileEnv+")")
	flags.String("log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	flags.String("log-format", config.DefaultLogFormat, "log format (text, json)")
	flags.String("root", "", "template root directory")
	flags.String("cache-backend", "", "parse cache backend (none, memory, disk, sqlite)")
	bindFlags(a.v, flags, map[string]string{
		"log-level":     "log.level",
		"log-format":    "log.format",
		"root":          "templates.root",
		"cache-backend": "cache.backend",
	})

	root.AddCommand(
		newRenderCmd(a),
		newResolveCmd(a),
		newServeCmd(a),
		newCacheCmd(a),
		newConfigCmd(a),
		newVersionCmd(a),
	)

	return root
}

// initConfig selects and reads the configuration file, binds the
// environment and sets up logging.
func (a *app) initConfig(cmd *cobra.Command) error {
	explicit := true
	switch {
	case a.cfgFile != "":
		a.v.SetConfigFile(a.cfgFile)
	case os.Getenv(ConfigFileEnv) != "":
		a.v.SetConfigFile(os.Getenv(ConfigFileEnv))
	default:
		explicit = false
		a.v.AddConfigPath(".")
		a.v.SetConfigType("yaml")
		a.v.SetConfigName(".sectional")
	}

	if err := config.BindEnv(a.v); err != nil {
		return err
	}

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return errors.WrapConfig(err, errors.ErrCodeConfigInvalid, "reading configuration file").
				WithPath(a.v.ConfigFileUsed())
		}
	}

	level, err := logging.ParseLevel(a.v.GetString("log.level"))
	if err != nil {
		return errors.WrapConfig(err, errors.ErrCodeConfigInvalid, "invalid log level").WithComponent("log.level")
	}
	a.logger = logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: a.v.GetString("log.format"),
		Output: a.errOut,
	})

	if used := a.v.ConfigFileUsed(); used != "" {
		a.logger.Debug(cmd.Context(), "Using config file", "path", used)
	}
	return nil
}

// loadConfig decodes and validates the merged configuration.
func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFrom(a.v)
	if err != nil {
		return nil, err
	}
	for _, warning := range config.Validate(cfg).Warnings {
		a.logger.Warn(context.Background(), nil, "Configuration warning",
			"field", warning.Field, "message", warning.Message)
	}
	return cfg, nil
}

func (a *app) printf(format string, args ...interface{}) {
	fmt.Fprintf(a.out, format, args...)
}
