// Package jobs tracks web UI download jobs: their progress, logs and run
// directories. One job runs at a time.
package jobs

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a job
type Status string

const (
	StatusQueued      Status = "queued"
	StatusRunning     Status = "running"
	StatusDone        Status = "done"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
	StatusInterrupted Status = "interrupted"
)

// Terminal reports whether the job will not change any more
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusCancelled, StatusInterrupted:
		return true
	}
	return false
}

var (
	ErrNotFound   = errors.New("job not found")
	ErrNotRunning = errors.New("job is not running")
)

// Job is one uploaded supplier list and its batch run
type Job struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	RunDir    string    `json:"-"`
	Current   int       `json:"current"`
	Total     int       `json:"total"`
	OK        int       `json:"ok"`
	Error     string    `json:"error,omitempty"`
	Cancel    bool      `json:"cancel_requested"`
	Logs      []string  `json:"logs"`
}

func (j *Job) clone() *Job {
	c := *j
	c.Logs = append([]string(nil), j.Logs...)
	return &c
}

// Store persists jobs. Implementations are safe for concurrent use and
// return copies.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// Update applies fn to the stored job atomically
	Update(ctx context.Context, id string, fn func(*Job)) error
	AppendLog(ctx context.Context, id, line string) error
	List(ctx context.Context) ([]*Job, error)
	Delete(ctx context.Context, id string) error
	Close() error
}
