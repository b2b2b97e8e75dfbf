package model

import "time"

// Report is the outcome sequence of one batch, in input order
type Report struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	OutputDir  string    `json:"output_dir"`

	Summary  Summary   `json:"summary"`
	Outcomes []Outcome `json:"outcomes"`

	// Aborted holds the reason the batch stopped early, if it did
	Aborted string `json:"aborted,omitempty"`
}

type Summary struct {
	Total     int `json:"total"`
	Success   int `json:"success"`
	NotFound  int `json:"not_found"`
	Ambiguous int `json:"ambiguous"`
	TimedOut  int `json:"timed_out"`
	Errors    int `json:"errors"`
}

// Finalize normalizes timestamps to UTC and recomputes the summary from Outcomes.
// Outcome order is never changed.
func (r *Report) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	s := Summary{Total: len(r.Outcomes)}
	for _, o := range r.Outcomes {
		switch o.Kind {
		case OutcomeSuccess:
			s.Success++
		case OutcomeNotFound:
			s.NotFound++
		case OutcomeAmbiguous:
			s.Ambiguous++
		case OutcomeTimedOut:
			s.TimedOut++
		case OutcomeError:
			s.Errors++
		}
	}
	r.Summary = s
}

// SuccessfulFiles returns the file paths of all successful outcomes
func (r *Report) SuccessfulFiles() []string {
	var files []string
	for _, o := range r.Outcomes {
		if o.OK() && o.FilePath != "" {
			files = append(files, o.FilePath)
		}
	}
	return files
}
