package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/traces-scraper/model"
	"github.com/traces-scraper/pipeline"
	"github.com/traces-scraper/report"
)

// RunFunc runs the batch of one job inside job.RunDir
type RunFunc func(ctx context.Context, job *Job, hooks pipeline.Hooks, logger *log.Logger) (*model.Report, error)

// EventType distinguishes websocket updates
type EventType string

const (
	EventLog      EventType = "log"
	EventProgress EventType = "progress"
	EventStatus   EventType = "status"
)

// Event is a live update of a running job
type Event struct {
	Type    EventType `json:"type"`
	Line    string    `json:"line,omitempty"`
	Current int       `json:"current,omitempty"`
	Total   int       `json:"total,omitempty"`
	OK      int       `json:"ok,omitempty"`
	Status  Status    `json:"status,omitempty"`
}

// Manager starts jobs, serializes them through a single worker slot and
// removes old runs
type Manager struct {
	store     Store
	runsDir   string
	retention time.Duration
	formats   []report.Format
	logger    *log.Logger

	slot chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	subs    map[string]map[chan Event]struct{}

	now func() time.Time
}

// NewManager creates a Manager. Jobs left queued or running by a previous
// process are marked interrupted.
func NewManager(ctx context.Context, store Store, runsDir string, retention time.Duration, formats []report.Format, logger *log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.New(os.Stdout, "[JOBS] ", log.LstdFlags)
	}
	if err := os.MkdirAll(runsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create runs directory: %w", err)
	}
	if len(formats) == 0 {
		formats = []report.Format{report.FormatJSON}
	}
	m := &Manager{
		store:     store,
		runsDir:   runsDir,
		retention: retention,
		formats:   formats,
		logger:    logger,
		slot:      make(chan struct{}, 1),
		cancels:   make(map[string]context.CancelFunc),
		subs:      make(map[string]map[chan Event]struct{}),
		now:       time.Now,
	}
	if err := m.markInterrupted(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) markInterrupted(ctx context.Context) error {
	jobs, err := m.store.List(ctx)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if j.Status.Terminal() {
			continue
		}
		m.logger.Printf("Job %s was %s when the server stopped, marking interrupted", j.ID, j.Status)
		err := m.store.Update(ctx, j.ID, func(j *Job) {
			j.Status = StatusInterrupted
			j.Error = "server restarted"
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Store returns the underlying job store
func (m *Manager) Store() Store {
	return m.store
}

// Submit creates a job with its own run directory and starts run in the
// background. The job waits until the worker slot is free.
func (m *Manager) Submit(total int, run RunFunc) (*Job, error) {
	id := uuid.NewString()
	now := m.now().UTC()
	dir := filepath.Join(m.runsDir, fmt.Sprintf("run_%s_%s", now.Format("20060102_150405"), id[:8]))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	job := &Job{
		ID:        id,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
		RunDir:    dir,
		Total:     total,
		Logs:      []string{},
	}
	if err := m.store.Create(context.Background(), job); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancels[id] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.execute(ctx, job.clone(), run)
	return job, nil
}

func (m *Manager) execute(ctx context.Context, job *Job, run RunFunc) {
	defer m.wg.Done()
	defer m.forget(job.ID)

	select {
	case m.slot <- struct{}{}:
	case <-ctx.Done():
		m.finish(job.ID, StatusCancelled, "cancelled before start")
		return
	}
	defer func() { <-m.slot }()

	m.setStatus(job.ID, StatusRunning, "")
	jobLogger := log.New(&lineWriter{m: m, id: job.ID}, "", 0)
	hooks := pipeline.Hooks{
		OnProgress: func(current, total, ok int) {
			_ = m.record(job.ID, func() error {
				return m.store.Update(context.Background(), job.ID, func(j *Job) {
					j.Current, j.Total, j.OK = current, total, ok
				})
			}, Event{Type: EventProgress, Current: current, Total: total, OK: ok})
		},
	}

	rep, err := m.runSafely(ctx, job, run, hooks, jobLogger)
	if err != nil {
		m.appendLog(job.ID, "Error: "+err.Error())
		m.finish(job.ID, StatusFailed, err.Error())
		return
	}

	if _, err := report.WriteAll(job.RunDir, rep, m.formats); err != nil {
		m.appendLog(job.ID, "Error: "+err.Error())
		m.finish(job.ID, StatusFailed, err.Error())
		return
	}

	if ctx.Err() != nil || rep.Aborted == "cancelled" {
		m.finish(job.ID, StatusCancelled, "")
		return
	}
	m.finish(job.ID, StatusDone, rep.Aborted)
}

func (m *Manager) runSafely(ctx context.Context, job *Job, run RunFunc, hooks pipeline.Hooks, logger *log.Logger) (rep *model.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Printf("Job %s panic recovered: %v", job.ID, r)
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	rep, err = run(ctx, job, hooks, logger)
	if err == nil && rep == nil {
		err = errors.New("batch produced no report")
	}
	return rep, err
}

func (m *Manager) setStatus(id string, status Status, msg string) {
	_ = m.record(id, func() error {
		return m.store.Update(context.Background(), id, func(j *Job) {
			j.Status = status
			if msg != "" {
				j.Error = msg
			}
		})
	}, Event{Type: EventStatus, Status: status})
}

func (m *Manager) finish(id string, status Status, msg string) {
	m.setStatus(id, status, msg)
	m.logger.Printf("Job %s finished: %s", id, status)
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.cancels[id]; ok {
		cancel()
		delete(m.cancels, id)
	}
	for ch := range m.subs[id] {
		close(ch)
	}
	delete(m.subs, id)
}

// Cancel asks a queued or running job to stop. The batch notices at its next
// state transition.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	cancel, ok := m.cancels[id]
	m.mu.Unlock()
	if !ok || job.Status.Terminal() {
		return ErrNotRunning
	}

	if err := m.store.Update(ctx, id, func(j *Job) { j.Cancel = true }); err != nil {
		return err
	}
	m.appendLog(id, "Cancellation requested")
	cancel()
	return nil
}

// Subscribe returns a channel of live events for job id. The channel is
// closed when the job finishes or unsubscribe is called. For a job that is not
// active the channel is closed right away.
func (m *Manager) Subscribe(id string) (<-chan Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribeLocked(id)
}

// Follow returns the stored job together with a channel of the events that
// happen after that snapshot. Every log line is in exactly one of the two.
func (m *Manager) Follow(ctx context.Context, id string) (*Job, <-chan Event, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	events, unsubscribe := m.subscribeLocked(id)
	return job, events, unsubscribe, nil
}

func (m *Manager) subscribeLocked(id string) (<-chan Event, func()) {
	ch := make(chan Event, 64)
	if _, running := m.cancels[id]; !running {
		close(ch)
		return ch, func() {}
	}
	if m.subs[id] == nil {
		m.subs[id] = make(map[chan Event]struct{})
	}
	m.subs[id][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.subs[id][ch]; ok {
				delete(m.subs[id], ch)
				close(ch)
			}
		})
	}
}

// record runs a store write and publishes ev while holding m.mu, so Follow
// sees a change either in its snapshot or on its channel.
func (m *Manager) record(id string, write func() error, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := write(); err != nil {
		return err
	}
	for ch := range m.subs[id] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (m *Manager) appendLog(id, line string) {
	err := m.record(id, func() error {
		return m.store.AppendLog(context.Background(), id, line)
	}, Event{Type: EventLog, Line: line})
	if err != nil {
		m.logger.Printf("Job %s: failed to store log line: %v", id, err)
	}
}

// Wait blocks until every submitted job has finished
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown cancels all jobs and waits for them, or until ctx is done
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, cancel := range m.cancels {
		cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lineWriter turns batch log output into job log lines
type lineWriter struct {
	m  *Manager
	id string
}

func (w *lineWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		w.m.logger.Printf("[%s] %s", w.id[:8], line)
		w.m.appendLog(w.id, line)
	}
	return len(p), nil
}
