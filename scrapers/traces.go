package scrapers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/traces-scraper/download"
	"github.com/traces-scraper/model"
)

const (
	// DefaultTimeout bounds every single navigation and wait
	DefaultTimeout = 45 * time.Second

	settleInterval = 500 * time.Millisecond
)

// TracesScraper drives the TRACES organic operator directory with chromedp
type TracesScraper struct {
	BaseScraper
	selectors Selectors
}

// NewTracesScraper launches a browser and prepares it for downloads. It
// implements Factory.
func NewTracesScraper(ctx context.Context, config *Config, logger *log.Logger) (Session, error) {
	if logger == nil {
		logger = log.New(os.Stdout, "[TRACES] ", log.LstdFlags)
	}
	if config.PortalURL == "" {
		config.PortalURL = DefaultPortalURL
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	s := &TracesScraper{
		BaseScraper: BaseScraper{
			Config: config,
			Logger: logger,
			Events: make(chan download.Event, 16),
		},
		selectors: config.Selectors.withDefaults(),
	}
	if err := s.Initialize(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Initialize sets up chromedp browser
func (s *TracesScraper) Initialize(ctx context.Context) error {
	s.Logger.Println("Initializing browser...")

	if err := os.MkdirAll(s.Config.DownloadPath, 0755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	absDownloadPath, err := filepath.Abs(s.Config.DownloadPath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	s.DownloadPath = absDownloadPath

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.Config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
	)

	if s.Config.Headless {
		s.Logger.Println("Running in HEADLESS mode")
	} else {
		s.Logger.Println("Running in VISIBLE mode")
	}

	// an operator abort must not kill the browser mid-navigation; Close does that
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	bctx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(s.Logger.Printf))

	s.Ctx = bctx
	s.Cancel = cancel
	s.AllocCancel = allocCancel

	if err := chromedp.Run(s.Ctx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(absDownloadPath).
			WithEventsEnabled(true),
	); err != nil {
		return fmt.Errorf("failed to set download behavior: %w", err)
	}

	chromedp.ListenBrowser(s.Ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *browser.EventDownloadWillBegin:
			s.emit(download.Event{GUID: e.GUID, SuggestedFilename: e.SuggestedFilename, State: download.EventBegin})
		case *browser.EventDownloadProgress:
			switch e.State {
			case browser.DownloadProgressStateCompleted:
				s.emit(download.Event{GUID: e.GUID, State: download.EventCompleted})
			case browser.DownloadProgressStateCanceled:
				s.emit(download.Event{GUID: e.GUID, State: download.EventCanceled})
			}
		}
	})

	chromedp.ListenTarget(s.Ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventJavascriptDialogOpening:
			s.Logger.Printf("Dialog: %s", e.Message)
			go chromedp.Run(s.Ctx, page.HandleJavaScriptDialog(true))
		case *inspector.EventTargetCrashed:
			s.Logger.Println("Browser tab crashed")
			s.lost.Store(true)
		case *inspector.EventDetached:
			s.Logger.Printf("Browser detached: %s", e.Reason)
			s.lost.Store(true)
		}
	})

	s.Logger.Printf("Browser initialized. Download path: %s", absDownloadPath)
	return nil
}

// Search opens the directory, types query into the search box and submits.
// ctx is only checked before starting; a running navigation is bounded by the
// configured timeout instead.
func (s *TracesScraper) Search(ctx context.Context, query string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.alive(); err != nil {
		return err
	}

	tctx, cancel := context.WithTimeout(s.Ctx, s.Config.Timeout)
	defer cancel()

	s.Logger.Printf("Navigating to %s", s.Config.PortalURL)
	if err := chromedp.Run(tctx,
		chromedp.Navigate(s.Config.PortalURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return s.classify("navigate", err)
	}

	input, err := s.waitForSelector(tctx, s.selectors.SearchInputs)
	if err != nil {
		return s.classify("find search input", err)
	}
	if input == "" {
		return &NavigationError{Op: "search input not found on page"}
	}

	if err := chromedp.Run(tctx,
		chromedp.Focus(input, chromedp.ByQuery),
		chromedp.SetValue(input, "", chromedp.ByQuery),
		chromedp.SendKeys(input, query, chromedp.ByQuery),
	); err != nil {
		return s.classify("fill search input", err)
	}

	var clicked bool
	if err := chromedp.Run(tctx,
		chromedp.Evaluate(clickSearchScript(s.selectors), &clicked),
	); err != nil {
		return s.classify("click search button", err)
	}
	if !clicked {
		s.Logger.Println("Search button not found, submitting with Enter")
		if err := chromedp.Run(tctx, chromedp.SendKeys(input, kb.Enter, chromedp.ByQuery)); err != nil {
			return s.classify("submit search", err)
		}
	}

	s.settle(tctx)
	return nil
}

// ListResults parses the rows of the current results table
func (s *TracesScraper) ListResults(ctx context.Context) ([]model.SearchResultEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.alive(); err != nil {
		return nil, err
	}

	tctx, cancel := context.WithTimeout(s.Ctx, s.Config.Timeout)
	defer cancel()

	var html string
	if err := chromedp.Run(tctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, s.classify("read results", err)
	}
	return ParseResults(html, s.selectors)
}

// ClickDownload opens the entry's actions and clicks its PDF certificate item
func (s *TracesScraper) ClickDownload(ctx context.Context, entry model.SearchResultEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.alive(); err != nil {
		return err
	}

	tctx, cancel := context.WithTimeout(s.Ctx, s.Config.Timeout)
	defer cancel()

	var state string
	if err := chromedp.Run(tctx,
		chromedp.Evaluate(clickViewScript(s.selectors, entry.Handle), &state),
	); err != nil {
		return s.classify("click view", err)
	}
	switch state {
	case "clicked":
	case "missing":
		return &NavigationError{Op: fmt.Sprintf("result row %d disappeared", entry.Handle)}
	default:
		return fmt.Errorf("%q: %w", entry.DisplayName, ErrNoCertificate)
	}

	script := clickTextScript(s.selectors.PDFText)
	for {
		var found bool
		if err := chromedp.Run(tctx, chromedp.Evaluate(script, &found)); err != nil {
			if tctx.Err() != nil && s.alive() == nil {
				return fmt.Errorf("%q: %w", entry.DisplayName, ErrNoCertificate)
			}
			return s.classify("click pdf certificate", err)
		}
		if found {
			s.Logger.Printf("PDF certificate requested for %q", entry.DisplayName)
			return nil
		}
		select {
		case <-tctx.Done():
			if s.alive() != nil {
				return ErrSessionLost
			}
			return fmt.Errorf("%q: %w", entry.DisplayName, ErrNoCertificate)
		case <-time.After(settleInterval):
		}
	}
}

// waitForSelector polls until one of sels matches a visible element and
// returns it. An empty string means none appeared before ctx ended.
func (s *TracesScraper) waitForSelector(ctx context.Context, sels []string) (string, error) {
	script := firstVisibleScript(sels)
	for {
		var found string
		if err := chromedp.Run(ctx, chromedp.Evaluate(script, &found)); err != nil {
			if ctx.Err() != nil && s.alive() == nil {
				return "", nil
			}
			return "", err
		}
		if found != "" {
			return found, nil
		}
		select {
		case <-ctx.Done():
			return "", nil
		case <-time.After(settleInterval):
		}
	}
}

// settle waits until the number of result rows stops changing. Hitting the
// deadline is not an error; the listing is simply read as it is.
func (s *TracesScraper) settle(ctx context.Context) {
	script := fmt.Sprintf(`document.readyState === "complete" ? document.querySelectorAll(%s).length : -1`, jsString(s.selectors.ResultRows))
	last, stable := -2, 0
	for stable < 2 {
		select {
		case <-ctx.Done():
			s.Logger.Println("Results did not settle before timeout, reading as is")
			return
		case <-time.After(settleInterval):
		}
		var n int
		if err := chromedp.Run(ctx, chromedp.Evaluate(script, &n)); err != nil {
			return
		}
		if n >= 0 && n == last {
			stable++
		} else {
			stable = 0
		}
		last = n
	}
}

// ParseResults extracts the result rows from a rendered results page
func ParseResults(html string, sel Selectors) ([]model.SearchResultEntry, error) {
	sel = sel.withDefaults()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse results page: %w", err)
	}

	var entries []model.SearchResultEntry
	doc.Find(sel.ResultRows).Each(func(i int, row *goquery.Selection) {
		name := normSpace(row.Find(sel.ResultName).First().Text())
		if name == "" {
			return
		}
		entries = append(entries, model.SearchResultEntry{DisplayName: name, Handle: i})
	})
	return entries, nil
}

func normSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func firstVisibleScript(sels []string) string {
	list, _ := json.Marshal(sels)
	return fmt.Sprintf(`(function(sels) {
	for (var i = 0; i < sels.length; i++) {
		var el = document.querySelector(sels[i]);
		if (el && el.offsetParent !== null) {
			return sels[i];
		}
	}
	return "";
})(%s)`, list)
}

func clickSearchScript(sel Selectors) string {
	list, _ := json.Marshal(sel.SearchButtons)
	return fmt.Sprintf(`(function(sels, text) {
	var buttons = document.querySelectorAll('button');
	for (var i = 0; i < buttons.length; i++) {
		if (buttons[i].offsetParent !== null && buttons[i].textContent.trim().indexOf(text) >= 0) {
			buttons[i].click();
			return true;
		}
	}
	for (var j = 0; j < sels.length; j++) {
		var el = document.querySelector(sels[j]);
		if (el && el.offsetParent !== null) {
			el.click();
			return true;
		}
	}
	return false;
})(%s, %s)`, list, jsString(sel.SearchText))
}

func clickViewScript(sel Selectors, handle int) string {
	return fmt.Sprintf(`(function(rowSel, idx, text) {
	var rows = document.querySelectorAll(rowSel);
	if (idx >= rows.length) {
		return "missing";
	}
	var actions = rows[idx].querySelectorAll('button, a, [role="button"]');
	for (var i = 0; i < actions.length; i++) {
		if (actions[i].textContent.trim().indexOf(text) >= 0) {
			actions[i].click();
			return "clicked";
		}
	}
	return "no-view";
})(%s, %d, %s)`, jsString(sel.ResultRows), handle, jsString(sel.ViewText))
}

func clickTextScript(text string) string {
	return fmt.Sprintf(`(function(text) {
	var items = document.querySelectorAll('a, button, li, span, [role="menuitem"]');
	for (var i = 0; i < items.length; i++) {
		if (items[i].offsetParent !== null && items[i].textContent.trim() === text) {
			items[i].click();
			return true;
		}
	}
	return false;
})(%s)`, jsString(text))
}
