package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/sectional/internal/config"
	"github.com/conneroisu/sectional/internal/errors"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or validate the effective configuration",
		Long: `Show or validate the configuration after merging the config file,
SECTIONAL_* environment variables, flags and defaults.

Examples:
  sectional config show
  sectional config show -o json
  sectional config validate --config prod.sectional.yml`,
	}

	format := FormatYAML
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			flat, err := flatten(cfg)
			if err != nil {
				return err
			}
			return writeOutput(a.out, format, cfg, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "KEY\tVALUE")
				for _, key := range config.Keys {
					fmt.Fprintf(tw, "%s\t%v\n", key, flat[key])
				}
			})
		},
	}
	showCmd.Flags().StringVarP(&format, "output", "o", FormatYAML, "output format ("+strings.Join(outputFormats, "|")+")")
	AddFlagValidation(showCmd, "output", func(value string) error {
		return ValidateFormat(value, outputFormats)
	})

	var strict bool
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors and warnings",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.runConfigValidate(strict)
		},
	}
	validateCmd.Flags().BoolVar(&strict, "strict", false, "treat warnings as errors")

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

// flatten maps every "section.key" to its effective value.
func flatten(cfg *config.Config) (map[string]interface{}, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var sections map[string]map[string]interface{}
	if err := json.Unmarshal(raw, &sections); err != nil {
		return nil, err
	}

	flat := make(map[string]interface{}, len(config.Keys))
	for section, fields := range sections {
		for key, value := range fields {
			flat[section+"."+key] = value
		}
	}
	if ttl, ok := flat["cache.ttl"]; ok {
		if ns, ok := ttl.(float64); ok {
			flat["cache.ttl"] = time.Duration(ns).String()
		}
	}
	return flat, nil
}

func (a *app) runConfigValidate(strict bool) error {
	cfg, err := config.LoadFrom(a.v)
	if err != nil {
		return err
	}

	result := config.Validate(cfg)
	if !result.HasWarnings() {
		a.printf("Configuration is valid\n")
		return nil
	}

	a.printf("%s", result.String())
	if strict {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("configuration has %d warnings", len(result.Warnings)))
	}
	return nil
}
