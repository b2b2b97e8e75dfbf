package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/traces-scraper/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the upload web UI",
		Long: `serve starts the web UI. Uploaded supplier lists are processed one job at a
time; each job gets its own run directory which is removed after the
retention period. Google login is enabled when GOOGLE_CLIENT_ID and
GOOGLE_CLIENT_SECRET are set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			f := cmd.Flags()
			if f.Changed("addr") {
				cfg.Server.Addr, _ = f.GetString("addr")
			}
			if f.Changed("grpc-port") {
				cfg.Server.GRPCPort, _ = f.GetString("grpc-port")
			}
			if f.Changed("db") {
				cfg.Server.DB, _ = f.GetString("db")
			}
			if f.Changed("runs-dir") {
				cfg.Server.RunsDir, _ = f.GetString("runs-dir")
			}
			if f.Changed("headed") {
				cfg.Headed, _ = f.GetBool("headed")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return server.Run(ctx, server.Options{
				Config:  cfg,
				Logger:  log.New(os.Stdout, "[SERVER] ", log.LstdFlags),
				Version: Version,
			})
		},
	}

	f := cmd.Flags()
	f.String("addr", "", "HTTP listen address (default :8080)")
	f.String("grpc-port", "", "gRPC health port, empty string disables (default 50051)")
	f.String("db", "", "SQLite file for job history (default in memory)")
	f.String("runs-dir", "", "directory for job run folders")
	f.Bool("headed", false, "show the browser window")
	return cmd
}
