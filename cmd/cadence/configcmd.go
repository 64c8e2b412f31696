package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	var show bool
	check := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration file",
		Long:  "check loads the config file, expands ${ENV} references, applies defaults and validates the result.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if show {
				// Secrets are expanded at this point; redact them before printing.
				redacted := *cfg
				redacted.Providers = cfg.Providers.Redacted()
				if redacted.Store.PostgresDSN != "" {
					redacted.Store.PostgresDSN = "<redacted>"
				}
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(&redacted); err != nil {
					return fmt.Errorf("encode config: %w", err)
				}
				if err := enc.Close(); err != nil {
					return err
				}
			}
			fmt.Fprintf(out, "%s: ok\n", root.configPath)
			return nil
		},
	}
	check.Flags().BoolVar(&show, "show", false, "print the effective configuration with secrets redacted")
	cmd.AddCommand(check)
	return cmd
}
