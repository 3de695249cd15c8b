package main

import (
	"fmt"
	"os"

	"github.com/danmuck/botctl/internal/config"
	"github.com/danmuck/botctl/internal/observability"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "botctl.toml"

var version = "dev"

type rootOptions struct {
	configPath string
}

// config resolves the service config. A missing default file yields defaults.
func (o *rootOptions) config(cmd *cobra.Command) (config.Config, error) {
	return resolveConfig(o.configPath, cmd.Flags().Changed("config"))
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "botctl",
		Short:         "Host small chat bots as supervised child processes",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			observability.InitLogger("botctl")
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "path to the botctl TOML config")

	root.AddCommand(
		newRunCmd(opts),
		newConfigCmd(opts),
		newBotsCmd(opts),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "botctl: %v\n", err)
		os.Exit(1)
	}
}
