package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReportFinalize(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	r := &Report{
		StartedAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, loc),
		FinishedAt: time.Date(2024, 5, 1, 10, 5, 0, 0, loc),
		Outcomes: []Outcome{
			Success("/out/a.pdf", "A"),
			NotFound("B"),
			AmbiguousOutcome("C", []string{"C1", "C2"}),
			TimedOut("D"),
			Failed("E", "boom"),
			Success("/out/f.pdf", "F"),
		},
	}

	r.Finalize()

	assert.Equal(t, time.UTC, r.StartedAt.Location())
	assert.Equal(t, Summary{Total: 6, Success: 2, NotFound: 1, Ambiguous: 1, TimedOut: 1, Errors: 1}, r.Summary)
	assert.Equal(t, "A", r.Outcomes[0].Supplier)
	assert.Equal(t, "F", r.Outcomes[5].Supplier)
	assert.Equal(t, []string{"/out/a.pdf", "/out/f.pdf"}, r.SuccessfulFiles())
}

func TestMatchDecisionCandidateNames(t *testing.T) {
	d := MatchDecision{
		Kind: Ambiguous,
		Candidates: []SearchResultEntry{
			{DisplayName: "Nuts 2 B.V. Amsterdam", Handle: 0},
			{DisplayName: "Nuts 2 B.V. Rotterdam", Handle: 3},
		},
	}
	assert.Equal(t, []string{"Nuts 2 B.V. Amsterdam", "Nuts 2 B.V. Rotterdam"}, d.CandidateNames())
	assert.Equal(t, "ambiguous", d.Kind.String())
}
