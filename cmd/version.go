package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/sectional/internal/version"
)

func newVersionCmd(a *app) *cobra.Command {
	var (
		format   string
		short    bool
		detailed bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display the sectional version, commit, build time, Go version and
platform.

Examples:
  sectional version              # version and commit
  sectional version --detailed   # every build field
  sectional version -o json      # machine-readable`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			info := version.Get()
			switch format {
			case "text":
				switch {
				case short:
					a.printf("%s\n", info.Short())
				case detailed:
					a.printf("%s\n", info.String())
				default:
					a.printf("sectional %s\n", info.Short())
				}
				return nil
			case FormatJSON, FormatYAML:
				return writeOutput(a.out, format, info, nil)
			default:
				return fmt.Errorf("unsupported format: %s (supported: text, json, yaml)", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "text", "output format (text, json, yaml)")
	cmd.Flags().BoolVar(&short, "short", false, "print the version only")
	cmd.Flags().BoolVar(&detailed, "detailed", false, "print every build field")

	return cmd
}
