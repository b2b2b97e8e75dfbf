// Command tracesdl downloads organic operator certificates from the TRACES
// directory for a list of suppliers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/traces-scraper/config"
)

// Version is overridden at build time with -ldflags "-X main.Version=..."
var Version = "1.0.0"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tracesdl",
		Short: "Download TRACES organic operator certificates for a supplier list",
		Long: `tracesdl searches the TRACES organic operator directory for every supplier
in a CSV file and downloads the matching PDF certificate.

Each supplier ends as downloaded, not found, ambiguous, timed out or error;
the outcomes are written to report.json in the output directory.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "config file (default ./tracesdl.yaml or $XDG_CONFIG_HOME/tracesdl/config.yaml)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newServiceCmd())
	cmd.AddCommand(newUpdateCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// loadConfig reads the file named by --config, or the default locations
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
