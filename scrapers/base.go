package scrapers

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/traces-scraper/download"
	"github.com/traces-scraper/model"
)

// DefaultPortalURL is the TRACES organic operator directory
const DefaultPortalURL = "https://webgate.ec.europa.eu/tracesnt/directory/publication/organic-operator/index"

// Config holds the browser session configuration
type Config struct {
	PortalURL    string
	DownloadPath string
	Headless     bool
	Timeout      time.Duration
	Selectors    Selectors
}

// Selectors locate the portal's UI elements. Lists are tried in order.
type Selectors struct {
	SearchInputs  []string `yaml:"search_inputs"`
	SearchButtons []string `yaml:"search_buttons"`
	SearchText    string   `yaml:"search_text"`
	ResultRows    string   `yaml:"result_rows"`
	ResultName    string   `yaml:"result_name"`
	ViewText      string   `yaml:"view_text"`
	PDFText       string   `yaml:"pdf_text"`
}

// DefaultSelectors matches the TRACES directory as rendered today
func DefaultSelectors() Selectors {
	return Selectors{
		SearchInputs: []string{
			"input#search",
			"input[name='search']",
			"input[placeholder*='Search']",
			"input[type='search']",
			"input[type='text']",
		},
		SearchButtons: []string{
			"button[type='submit']",
			"input[type='submit']",
		},
		SearchText: "Search",
		ResultRows: "table tbody tr",
		ResultName: "td:first-child",
		ViewText:   "View",
		PDFText:    "PDF certificate",
	}
}

// withDefaults fills empty fields from DefaultSelectors
func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	if len(s.SearchInputs) == 0 {
		s.SearchInputs = d.SearchInputs
	}
	if len(s.SearchButtons) == 0 {
		s.SearchButtons = d.SearchButtons
	}
	if s.SearchText == "" {
		s.SearchText = d.SearchText
	}
	if s.ResultRows == "" {
		s.ResultRows = d.ResultRows
	}
	if s.ResultName == "" {
		s.ResultName = d.ResultName
	}
	if s.ViewText == "" {
		s.ViewText = d.ViewText
	}
	if s.PDFText == "" {
		s.PDFText = d.PDFText
	}
	return s
}

// Session is one browser page driving the portal. It is owned by a single
// goroutine; none of its methods may be called concurrently.
type Session interface {
	// Search fills the portal's search field with query and submits it
	Search(ctx context.Context, query string) error
	// ListResults returns the rows of the current results view in display order
	ListResults(ctx context.Context) ([]model.SearchResultEntry, error)
	// ClickDownload triggers the certificate PDF download of entry
	ClickDownload(ctx context.Context, entry model.SearchResultEntry) error
	// Downloads is the browser's download channel
	Downloads() <-chan download.Event
	// Close releases the browser
	Close() error
}

// Factory opens a Session
type Factory func(ctx context.Context, config *Config, logger *log.Logger) (Session, error)

// WithSession opens a session, runs fn with it and always closes it again,
// including when fn panics.
func WithSession(ctx context.Context, config *Config, logger *log.Logger, factory Factory, fn func(Session) error) error {
	session, err := factory(ctx, config, logger)
	if err != nil {
		return fmt.Errorf("failed to open browser session: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil && logger != nil {
			logger.Printf("Warning: failed to close browser: %v", cerr)
		}
	}()

	return fn(session)
}

// BaseScraper provides the chromedp plumbing shared by portal scrapers
type BaseScraper struct {
	Ctx          context.Context
	Cancel       context.CancelFunc
	AllocCancel  context.CancelFunc
	Config       *Config
	Logger       *log.Logger
	DownloadPath string
	Events       chan download.Event

	lost atomic.Bool
}

// Downloads implements Session
func (b *BaseScraper) Downloads() <-chan download.Event {
	return b.Events
}

// alive returns ErrSessionLost once the browser crashed or its context ended
func (b *BaseScraper) alive() error {
	if b.lost.Load() || b.Ctx == nil || b.Ctx.Err() != nil {
		return ErrSessionLost
	}
	return nil
}

// classify turns a chromedp failure into the error taxonomy
func (b *BaseScraper) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if b.alive() != nil {
		return fmt.Errorf("%s: %w", op, ErrSessionLost)
	}
	return &NavigationError{Op: op, Err: err}
}

func (b *BaseScraper) emit(ev download.Event) {
	select {
	case b.Events <- ev:
	default:
		b.Logger.Printf("Warning: download event dropped: GUID=%s", ev.GUID)
	}
}

// Close cleans up resources
func (b *BaseScraper) Close() error {
	if b.Cancel != nil {
		b.Cancel()
	}
	if b.AllocCancel != nil {
		b.AllocCancel()
	}
	return nil
}
