package pipeline

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/traces-scraper/download"
	"github.com/traces-scraper/matcher"
	"github.com/traces-scraper/model"
	"github.com/traces-scraper/scrapers"
)

// Options configure a whole batch
type Options struct {
	Scraper             scrapers.Config
	Processor           ProcessorOptions
	Delay               time.Duration
	SimilarityThreshold float64
	PollInterval        time.Duration
}

// Execute opens one browser session, runs every supplier through it and closes
// the session again. The only error is a browser that could not be started;
// everything after that ends up in the report.
func Execute(ctx context.Context, opts Options, suppliers []model.Supplier, factory scrapers.Factory, hooks Hooks, logger *log.Logger) (*model.Report, error) {
	if factory == nil {
		factory = scrapers.NewTracesScraper
	}

	var report *model.Report
	cfg := opts.Scraper
	err := scrapers.WithSession(ctx, &cfg, logger, factory, func(s scrapers.Session) error {
		waiter := download.NewWaiter(cfg.DownloadPath, s.Downloads(), logger)
		waiter.SetPollInterval(opts.PollInterval)

		processor := NewProcessor(s, matcher.New(opts.SimilarityThreshold), waiter, opts.Processor, logger)
		runner := NewRunner(processor, opts.Delay, logger)
		runner.SetHooks(hooks)

		report = runner.Run(ctx, suppliers)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if abs, aerr := filepath.Abs(cfg.DownloadPath); aerr == nil {
		report.OutputDir = abs
	} else {
		report.OutputDir = cfg.DownloadPath
	}
	return report, nil
}
