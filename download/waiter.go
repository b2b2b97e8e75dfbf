// Package download confirms that a triggered browser download has landed and
// moves it to a deterministic name in the output directory.
package download

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultPollInterval is how often the output directory is scanned while waiting
const DefaultPollInterval = 500 * time.Millisecond

// EventState is the lifecycle stage reported by the browser for one download
type EventState int

const (
	EventBegin EventState = iota
	EventCompleted
	EventCanceled
)

// Event is one notification from the browser's download channel
type Event struct {
	GUID              string
	SuggestedFilename string
	State             EventState
}

// WaitState is the tri-state result of one poll
type WaitState int

const (
	NotYet WaitState = iota
	Ready
	TimedOut
)

func (s WaitState) String() string {
	switch s {
	case Ready:
		return "ready"
	case TimedOut:
		return "timed_out"
	}
	return "not_yet"
}

// Result is what Await returns. Path is set only when State is Ready.
type Result struct {
	State WaitState
	Path  string
}

// Pending is a download trigger armed by Arm. It remembers the directory
// contents from before the click and the GUID the browser assigns to it.
type Pending struct {
	before    map[string]struct{}
	guid      string
	suggested string
	completed bool
	sizes     map[string]int64
}

// Waiter watches one output directory and one browser download channel
type Waiter struct {
	dir    string
	events <-chan Event
	poll   time.Duration
	logger *log.Logger

	mu    sync.Mutex
	names *Namer
	stale map[string]struct{}
}

// NewWaiter creates a Waiter. events may be nil, in which case only the
// directory is watched.
func NewWaiter(dir string, events <-chan Event, logger *log.Logger) *Waiter {
	if logger == nil {
		logger = log.New(os.Stdout, "[DOWNLOAD] ", log.LstdFlags)
	}
	return &Waiter{
		dir:    dir,
		events: events,
		poll:   DefaultPollInterval,
		logger: logger,
		names:  NewNamer(dir),
		stale:  make(map[string]struct{}),
	}
}

// SetPollInterval overrides the directory scan interval
func (w *Waiter) SetPollInterval(d time.Duration) {
	if d > 0 {
		w.poll = d
	}
}

// Dir returns the watched directory
func (w *Waiter) Dir() string {
	return w.dir
}

// Arm snapshots the directory. Call it right before triggering the download.
func (w *Waiter) Arm() *Pending {
	w.drain()

	p := &Pending{
		before: make(map[string]struct{}),
		sizes:  make(map[string]int64),
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return p
	}
	for _, e := range entries {
		p.before[e.Name()] = struct{}{}
	}
	return p
}

// Await blocks until the download armed by p is complete, timeout elapses or
// ctx is done. On success the file is moved to a name derived from supplier.
// A timed out download is left where it is.
func (w *Waiter) Await(ctx context.Context, p *Pending, supplier string, timeout time.Duration) (Result, error) {
	if p == nil {
		return Result{}, fmt.Errorf("download was not armed")
	}

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		path, state := w.check(p)
		if state == Ready {
			final, err := w.finalize(path, p.suggested, supplier)
			if err != nil {
				return Result{}, err
			}
			return Result{State: Ready, Path: final}, nil
		}

		select {
		case ev := <-w.events:
			w.observe(p, ev)
		case <-ticker.C:
		case <-tctx.Done():
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			w.markStale(p)
			w.logger.Printf("Download for %q not complete after %s", supplier, timeout)
			return Result{State: TimedOut}, nil
		}
	}
}

// observe binds the first download that begins after arming to p
func (w *Waiter) observe(p *Pending, ev Event) {
	if p.guid == "" && ev.State == EventBegin {
		if _, old := w.isStale(ev.GUID); old {
			return
		}
		p.guid = ev.GUID
		p.suggested = ev.SuggestedFilename
		w.logger.Printf("Download started: GUID=%s file=%s", ev.GUID, ev.SuggestedFilename)
		return
	}
	if ev.GUID != p.guid {
		return
	}
	switch ev.State {
	case EventCompleted:
		p.completed = true
		w.logger.Printf("Download completed: %s", ev.GUID)
	case EventCanceled:
		w.logger.Printf("Download canceled by browser: %s", ev.GUID)
	}
}

// check is one poll of the directory
func (w *Waiter) check(p *Pending) (string, WaitState) {
	if p.completed && p.guid != "" {
		path := filepath.Join(w.dir, p.guid)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
			return path, Ready
		}
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return "", NotYet
	}
	for _, e := range entries {
		name := e.Name()
		if _, ok := p.before[name]; ok || !candidate(name) {
			continue
		}
		if _, old := w.isStale(name); old {
			continue
		}
		if p.guid != "" && name != p.guid && !strings.HasPrefix(name, p.guid) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
			continue
		}
		path := filepath.Join(w.dir, name)
		prev, seen := p.sizes[path]
		p.sizes[path] = info.Size()
		if seen && prev == info.Size() {
			return path, Ready
		}
	}
	return "", NotYet
}

func (w *Waiter) finalize(path, suggested, supplier string) (string, error) {
	ext := strings.ToLower(filepath.Ext(suggested))
	if ext == "" {
		ext = ".pdf"
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	final, err := w.names.Move(path, supplier, ext)
	if err != nil {
		return "", fmt.Errorf("failed to move download: %w", err)
	}
	if !looksLikePDF(final) {
		w.logger.Printf("Warning: %s does not start with a PDF header", final)
	}
	w.logger.Printf("Saved certificate: %s", final)
	return final, nil
}

func (w *Waiter) markStale(p *Pending) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p.guid != "" {
		w.stale[p.guid] = struct{}{}
	}
	for path := range p.sizes {
		w.stale[filepath.Base(path)] = struct{}{}
	}
}

func (w *Waiter) isStale(name string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for guid := range w.stale {
		if name == guid || strings.HasPrefix(name, guid) {
			return guid, true
		}
	}
	return "", false
}

// drain discards events left over from earlier triggers
func (w *Waiter) drain() {
	if w.events == nil {
		return
	}
	for {
		select {
		case ev := <-w.events:
			if ev.State == EventBegin {
				w.mu.Lock()
				w.stale[ev.GUID] = struct{}{}
				w.mu.Unlock()
			}
		default:
			return
		}
	}
}

// candidate excludes in-progress and hidden files
func candidate(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".crdownload", ".tmp", ".part":
		return false
	}
	return true
}

func looksLikePDF(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	head := make([]byte, 5)
	n, _ := f.Read(head)
	return n == 5 && string(head) == "%PDF-"
}
