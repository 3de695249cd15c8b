package main

import (
	"fmt"

	"github.com/danmuck/botctl/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or validate the botctl config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config template with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(opts.configPath, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote config template to %s\n", opts.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(opts.configPath, true)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Validated config at %s (token from $%s)\n", opts.configPath, cfg.TokenEnv)
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
