// Package pipeline runs suppliers through the search, match and download
// steps against a single browser session.
package pipeline

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/traces-scraper/download"
	"github.com/traces-scraper/matcher"
	"github.com/traces-scraper/model"
	"github.com/traces-scraper/scrapers"
)

// Browser is the part of a scrapers.Session the processor drives
type Browser interface {
	Search(ctx context.Context, query string) error
	ListResults(ctx context.Context) ([]model.SearchResultEntry, error)
	ClickDownload(ctx context.Context, entry model.SearchResultEntry) error
}

// Waiter confirms downloads; implemented by download.Waiter
type Waiter interface {
	Arm() *download.Pending
	Await(ctx context.Context, p *download.Pending, supplier string, timeout time.Duration) (download.Result, error)
}

// State is a step of the per-supplier state machine
type State int

const (
	StateInit State = iota
	StateSearched
	StateMatched
	StateDownloading
	StateVerified
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateSearched:
		return "searched"
	case StateMatched:
		return "matched"
	case StateDownloading:
		return "downloading"
	case StateVerified:
		return "verified"
	}
	return "unknown"
}

// ProcessorOptions tunes retries and waits for one supplier
type ProcessorOptions struct {
	// SearchRetries is how often a failed navigation is retried
	SearchRetries int
	RetryBackoff  time.Duration
	// DownloadTimeout bounds the first wait for a download
	DownloadTimeout time.Duration
	// TimeoutRetryFactor multiplies DownloadTimeout for the single retry
	TimeoutRetryFactor int
}

// DefaultProcessorOptions returns the options used by the CLI
func DefaultProcessorOptions() ProcessorOptions {
	return ProcessorOptions{
		SearchRetries:      2,
		RetryBackoff:       3 * time.Second,
		DownloadTimeout:    45 * time.Second,
		TimeoutRetryFactor: 2,
	}
}

// Processor takes one supplier from Init to Verified
type Processor struct {
	browser Browser
	matcher *matcher.Matcher
	waiter  Waiter
	opts    ProcessorOptions
	logger  *log.Logger
	sleep   func(context.Context, time.Duration) error
}

// NewProcessor creates a Processor. The browser must not be shared with any
// other goroutine while the processor is in use.
func NewProcessor(browser Browser, m *matcher.Matcher, waiter Waiter, opts ProcessorOptions, logger *log.Logger) *Processor {
	if logger == nil {
		logger = log.New(os.Stdout, "[TRACES] ", log.LstdFlags)
	}
	if m == nil {
		m = matcher.New(matcher.DefaultSimilarityThreshold)
	}
	if opts.TimeoutRetryFactor < 1 {
		opts.TimeoutRetryFactor = 1
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = DefaultProcessorOptions().DownloadTimeout
	}
	return &Processor{
		browser: browser,
		matcher: m,
		waiter:  waiter,
		opts:    opts,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// supplierRun is the mutable state of one supplier's pass
type supplierRun struct {
	supplier model.Supplier
	state    State
	outcome  model.Outcome

	navRetries     int
	searches       int
	entry          model.SearchResultEntry
	pending        *download.Pending
	timeoutRetried bool
}

func (r *supplierRun) finish(o model.Outcome) {
	o.Attempts = r.searches
	r.outcome = o
	r.state = StateVerified
}

// Process runs the state machine for sup and always returns an Outcome for it.
// The returned error is non-nil only when the batch cannot go on: the session
// was lost (scrapers.ErrSessionLost) or ctx was cancelled.
func (p *Processor) Process(ctx context.Context, sup model.Supplier) (model.Outcome, error) {
	run := &supplierRun{supplier: sup, state: StateInit}

	for run.state != StateVerified {
		if err := ctx.Err(); err != nil {
			return p.abort(run, err)
		}

		var err error
		switch run.state {
		case StateInit:
			err = p.search(ctx, run)
		case StateSearched:
			err = p.match(ctx, run)
		case StateMatched:
			err = p.trigger(ctx, run)
		case StateDownloading:
			err = p.verify(ctx, run)
		}
		if err != nil {
			return p.abort(run, err)
		}
	}
	return run.outcome, nil
}

func (p *Processor) abort(run *supplierRun, err error) (model.Outcome, error) {
	reason := err.Error()
	switch {
	case errors.Is(err, scrapers.ErrSessionLost):
		reason = scrapers.ErrSessionLost.Error()
		err = scrapers.ErrSessionLost
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		reason = "cancelled"
	}
	run.finish(model.Failed(run.supplier.Name, reason))
	return run.outcome, err
}

// fatal reports errors that must end the batch instead of the supplier
func fatal(err error) bool {
	return errors.Is(err, scrapers.ErrSessionLost) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// retry spends one navigation retry and sends the run back to Init.
// It reports false when the budget is used up.
func (p *Processor) retry(ctx context.Context, run *supplierRun, step string, cause error) (bool, error) {
	if !scrapers.IsRetryable(cause) || run.navRetries >= p.opts.SearchRetries {
		return false, nil
	}
	run.navRetries++
	p.logger.Printf("  %s failed (%v), retry %d/%d in %s", step, cause, run.navRetries, p.opts.SearchRetries, p.opts.RetryBackoff)
	if err := p.sleep(ctx, p.opts.RetryBackoff); err != nil {
		return false, err
	}
	run.state = StateInit
	return true, nil
}

// Init -> Searched
func (p *Processor) search(ctx context.Context, run *supplierRun) error {
	run.searches++
	err := p.browser.Search(ctx, run.supplier.NormalizedName)
	if err == nil {
		run.state = StateSearched
		return nil
	}
	if fatal(err) {
		return err
	}
	retried, serr := p.retry(ctx, run, "search", err)
	if serr != nil {
		return serr
	}
	if !retried {
		run.finish(model.Failed(run.supplier.Name, err.Error()))
	}
	return nil
}

// Searched -> Matched
func (p *Processor) match(ctx context.Context, run *supplierRun) error {
	entries, err := p.browser.ListResults(ctx)
	if err != nil {
		if fatal(err) {
			return err
		}
		retried, serr := p.retry(ctx, run, "read results", err)
		if serr != nil {
			return serr
		}
		if !retried {
			run.finish(model.Failed(run.supplier.Name, err.Error()))
		}
		return nil
	}

	decision := p.matcher.Match(entries, run.supplier.Name)
	switch decision.Kind {
	case model.NoMatch:
		run.finish(model.NotFound(run.supplier.Name))
	case model.Ambiguous:
		run.finish(model.AmbiguousOutcome(run.supplier.Name, decision.CandidateNames()))
	case model.UniqueMatch:
		run.entry = decision.Entry
		run.state = StateMatched
	}
	return nil
}

// Matched -> Downloading
func (p *Processor) trigger(ctx context.Context, run *supplierRun) error {
	pending := p.waiter.Arm()
	err := p.browser.ClickDownload(ctx, run.entry)
	if err == nil {
		run.pending = pending
		run.state = StateDownloading
		return nil
	}
	if fatal(err) {
		return err
	}
	if errors.Is(err, scrapers.ErrNoCertificate) {
		o := model.NotFound(run.supplier.Name)
		o.Detail = "no PDF certificate offered for " + run.entry.DisplayName
		run.finish(o)
		return nil
	}
	retried, serr := p.retry(ctx, run, "download click", err)
	if serr != nil {
		return serr
	}
	if !retried {
		run.finish(model.Failed(run.supplier.Name, err.Error()))
	}
	return nil
}

// Downloading -> Verified
func (p *Processor) verify(ctx context.Context, run *supplierRun) error {
	timeout := p.opts.DownloadTimeout
	if run.timeoutRetried {
		timeout *= time.Duration(p.opts.TimeoutRetryFactor)
	}

	res, err := p.waiter.Await(ctx, run.pending, run.supplier.Name, timeout)
	if err != nil {
		if fatal(err) {
			return err
		}
		run.finish(model.Failed(run.supplier.Name, err.Error()))
		return nil
	}

	switch res.State {
	case download.Ready:
		run.finish(model.Success(res.Path, run.supplier.Name))
	case download.TimedOut:
		if run.timeoutRetried {
			run.finish(model.TimedOut(run.supplier.Name))
			return nil
		}
		run.timeoutRetried = true
		p.logger.Printf("  download timed out after %s, retrying once", timeout)
		run.state = StateMatched
	default:
		run.finish(model.Failed(run.supplier.Name, "download wait ended in state "+res.State.String()))
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
