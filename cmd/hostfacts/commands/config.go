package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/hostfacts/pkg/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate and show the configuration",
	}

	cmd.AddCommand(newConfigValidateCommand())
	cmd.AddCommand(newConfigShowCommand())

	return cmd
}

func newConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a configuration file or directory",
		Long: `Validate a CUE configuration against the hostfacts schema.

Every problem is reported with its file and line where known. Without a
path the file given by --config, or ` + defaultConfigHint + `, is validated.`,
		Example: `  # Validate the default configuration
  hostfacts config validate

  # Validate a candidate file
  hostfacts config validate ./hostfacts.cue`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) > 0 {
				path = args[0]
			}

			_, err := config.Load(path)
			var loadErr *config.LoadError
			switch {
			case err == nil:
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
				return err
			case errors.As(err, &loadErr):
				for _, ve := range loadErr.Errors {
					fmt.Fprintln(cmd.OutOrStdout(), ve.Error())
				}
				return &ExitError{Code: 1}
			default:
				return err
			}
		},
	}
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults and command line flags are
applied. Passwords are masked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := selectedFormat()
			if err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			applyFlags(cfg)
			if cfg.Remote.Password != "" {
				cfg.Remote.Password = "********"
			}

			if format == formatYAML {
				// Round trip through JSON so the YAML keys match the file.
				data, err := json.Marshal(cfg)
				if err != nil {
					return err
				}
				var doc map[string]any
				if err := json.Unmarshal(data, &doc); err != nil {
					return err
				}
				return encodeYAML(cmd.OutOrStdout(), doc)
			}

			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}
