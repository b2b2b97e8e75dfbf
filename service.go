package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/traces-scraper/service"
)

func newServiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "service <install|uninstall|start|stop|restart|status|run>",
		Short:     "Manage tracesdl serve as an operating system service",
		Args:      cobra.ExactArgs(1),
		ValidArgs: service.Commands,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			autoUpdate, _ := cmd.Flags().GetBool("auto-update")

			prg := &service.Program{
				ConfigPath: configPath,
				Version:    Version,
				AutoUpdate: autoUpdate,
			}
			return service.RunServiceCommand(args[0], prg, log.New(os.Stdout, "[SERVICE] ", log.LstdFlags))
		},
	}
	cmd.Flags().Bool("auto-update", false, "check GitHub releases periodically and update in place")
	return cmd
}
