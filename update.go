package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/traces-scraper/updater"
)

func newUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Replace this binary with the latest release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ucfg, err := updater.NewConfig(Version, cfg.Update.Repo, cfg.Update.Interval)
			if err != nil {
				return err
			}
			u := updater.New(ucfg, log.New(cmd.OutOrStdout(), "[UPDATER] ", log.LstdFlags))

			checkOnly, _ := cmd.Flags().GetBool("check")
			if checkOnly {
				release, newer, err := u.Check(cmd.Context())
				if err != nil {
					return err
				}
				if newer {
					fmt.Fprintf(cmd.OutOrStdout(), "%s is available (running %s)\n", release.Version(), Version)
				}
				return nil
			}

			updated, err := u.CheckAndApply(cmd.Context())
			if err != nil {
				return err
			}
			if updated {
				fmt.Fprintln(cmd.OutOrStdout(), "Updated. Restart running services to use the new version.")
			}
			return nil
		},
	}
	cmd.Flags().Bool("check", false, "only report whether an update is available")
	return cmd
}
