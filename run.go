package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/traces-scraper/config"
	"github.com/traces-scraper/pipeline"
	"github.com/traces-scraper/report"
	"github.com/traces-scraper/scrapers"
	"github.com/traces-scraper/suppliers"
)

// sessionFactory opens the browser; nil means chromedp
var sessionFactory scrapers.Factory

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process a supplier CSV in one browser session",
		Example: `  tracesdl run --suppliers suppliers.csv --out ./downloads
  tracesdl run --suppliers suppliers.csv --headed --delay 5 --report json,csv,md --zip`,
		Args: cobra.NoArgs,
		RunE: runBatch,
	}

	f := cmd.Flags()
	f.String("suppliers", "", "CSV file with one supplier name per line (first column)")
	f.String("out", config.DefaultOutputDir, "output directory, created if absent")
	f.Bool("headed", false, "show the browser window")
	f.Int("timeout", config.DefaultTimeoutMS, "navigation and download timeout in milliseconds")
	f.Float64("delay", config.DefaultDelaySeconds, "pause between suppliers in seconds")
	f.StringSlice("report", nil, "report formats besides json: csv, md")
	f.Bool("zip", false, "also package the downloaded certificates and reports as <out>.zip")
	return cmd
}

// applyRunFlags lets flags given on the command line win over the config file
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("suppliers") {
		cfg.Suppliers, _ = f.GetString("suppliers")
	}
	if f.Changed("out") {
		cfg.OutputDir, _ = f.GetString("out")
	}
	if f.Changed("headed") {
		cfg.Headed, _ = f.GetBool("headed")
	}
	if f.Changed("timeout") {
		cfg.TimeoutMS, _ = f.GetInt("timeout")
	}
	if f.Changed("delay") {
		cfg.DelaySeconds, _ = f.GetFloat64("delay")
	}
	if f.Changed("report") {
		extra, _ := f.GetStringSlice("report")
		cfg.Reports = append([]string{string(report.FormatJSON)}, extra...)
	}
	if f.Changed("zip") {
		cfg.Zip, _ = f.GetBool("zip")
	}
}

func runBatch(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Suppliers == "" {
		return errors.New("--suppliers is required")
	}
	formats, err := cfg.ReportFormats()
	if err != nil {
		return err
	}

	sups, err := suppliers.ReadFile(cfg.Suppliers, cfg.HeaderLabels)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	logger := log.New(cmd.OutOrStdout(), "[TRACES] ", log.LstdFlags)
	logger.Printf("%d supplier(s) from %s, output %s", len(sups), cfg.Suppliers, cfg.OutputDir)

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, err := pipeline.Execute(ctx, cfg.PipelineOptions(cfg.OutputDir), sups, sessionFactory, pipeline.Hooks{}, logger)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}

	paths, err := report.WriteAll(cfg.OutputDir, rep, formats)
	if err != nil {
		return err
	}
	for _, p := range paths {
		logger.Printf("Report written to %s", p)
	}

	if cfg.Zip {
		dest := filepath.Clean(cfg.OutputDir) + ".zip"
		if err := report.ZipResult(cfg.OutputDir, dest, rep); err != nil {
			return err
		}
		logger.Printf("ZIP written to %s", dest)
	}

	s := rep.Summary
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d downloaded, %d not found, %d ambiguous, %d timed out, %d errors (of %d)\n",
		s.Success, s.NotFound, s.Ambiguous, s.TimedOut, s.Errors, s.Total)
	return nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
