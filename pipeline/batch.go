package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/traces-scraper/model"
	"github.com/traces-scraper/scrapers"
)

// SupplierProcessor runs one supplier to a terminal outcome
type SupplierProcessor interface {
	Process(ctx context.Context, sup model.Supplier) (model.Outcome, error)
}

// Hooks report batch progress to a caller such as the web UI
type Hooks struct {
	OnMessage  func(message string)
	OnProgress func(current, total, ok int)
}

// Runner processes a supplier list strictly in order
type Runner struct {
	processor SupplierProcessor
	delay     time.Duration
	logger    *log.Logger
	hooks     Hooks
	sleep     func(context.Context, time.Duration) error
	now       func() time.Time
}

// NewRunner creates a Runner that pauses delay between two suppliers
func NewRunner(processor SupplierProcessor, delay time.Duration, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.New(os.Stdout, "[TRACES] ", log.LstdFlags)
	}
	return &Runner{
		processor: processor,
		delay:     delay,
		logger:    logger,
		sleep:     sleepCtx,
		now:       time.Now,
	}
}

// SetHooks installs progress callbacks
func (r *Runner) SetHooks(h Hooks) {
	r.hooks = h
}

func (r *Runner) log(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	r.logger.Println(msg)
	if r.hooks.OnMessage != nil {
		r.hooks.OnMessage(msg)
	}
}

// Run processes suppliers and returns exactly one outcome per supplier, in
// input order. Per-supplier failures are recorded, never returned. Losing the
// browser or cancelling ctx marks every remaining supplier as an error.
func (r *Runner) Run(ctx context.Context, suppliers []model.Supplier) *model.Report {
	report := &model.Report{
		StartedAt: r.now(),
		Outcomes:  make([]model.Outcome, 0, len(suppliers)),
	}
	total := len(suppliers)
	ok := 0

	for i, sup := range suppliers {
		r.log("[%d/%d] %s", i+1, total, sup.Name)

		outcome, err := r.processor.Process(ctx, sup)
		report.Outcomes = append(report.Outcomes, outcome)
		if outcome.OK() {
			ok++
		}
		r.log("  -> %s", describe(outcome))
		if r.hooks.OnProgress != nil {
			r.hooks.OnProgress(i+1, total, ok)
		}

		if err == nil && i < total-1 {
			err = r.sleep(ctx, r.delay)
		}
		if err != nil {
			reason := abortReason(err)
			report.Aborted = reason
			r.log("Batch aborted: %s", reason)
			for _, rest := range suppliers[i+1:] {
				report.Outcomes = append(report.Outcomes, model.Failed(rest.Name, reason))
			}
			if r.hooks.OnProgress != nil {
				r.hooks.OnProgress(total, total, ok)
			}
			break
		}
	}

	report.FinishedAt = r.now()
	report.Finalize()
	r.log("Done. Downloaded %d of %d.", ok, total)
	return report
}

func abortReason(err error) string {
	switch {
	case errors.Is(err, scrapers.ErrSessionLost):
		return scrapers.ErrSessionLost.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return err.Error()
}

func describe(o model.Outcome) string {
	switch o.Kind {
	case model.OutcomeSuccess:
		return "downloaded " + o.FilePath
	case model.OutcomeNotFound:
		if o.Detail != "" {
			return "not found (" + o.Detail + ")"
		}
		return "not found"
	case model.OutcomeAmbiguous:
		return fmt.Sprintf("ambiguous: %d candidates %q", len(o.Candidates), o.Candidates)
	case model.OutcomeTimedOut:
		return "timeout"
	}
	return "error: " + o.Detail
}
