package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/danmuck/botctl/internal/registry"
	"github.com/spf13/cobra"
)

func newBotsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bots",
		Short: "List registered bots from the registry file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}
			reg, err := registry.Open(cfg.RegistryFile)
			if err != nil {
				return err
			}
			entries, err := reg.Entries()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No bots deployed.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPATH\tENTRY")
			for _, e := range entries {
				entry := "missing"
				if info, err := os.Stat(filepath.Join(e.Path, cfg.EntryScript)); err == nil && info.Mode().IsRegular() {
					entry = "ok"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.Name, e.Path, entry)
			}
			return w.Flush()
		},
	}
}
