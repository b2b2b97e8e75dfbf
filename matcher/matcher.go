// Package matcher decides which row of a TRACES results listing belongs to a supplier.
//
// Matching never guesses: when more than one row qualifies and none is an exact
// normalized match, the decision is Ambiguous and the operator has to choose.
package matcher

import (
	"slices"
	"strings"
	"unicode"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/traces-scraper/model"
)

// DefaultSimilarityThreshold is the Jaro-Winkler score a row name, and each of
// its misspelled tokens, must reach to count as a near match of the supplier name
const DefaultSimilarityThreshold = 0.90

// Normalize folds case, applies NFKC, trims and collapses inner whitespace
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// Matcher turns a results listing plus a supplier name into a MatchDecision
type Matcher struct {
	threshold float64
	metric    *metrics.JaroWinkler
}

// New creates a Matcher. A threshold outside (0, 1] falls back to the default.
func New(threshold float64) *Matcher {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSimilarityThreshold
	}
	metric := metrics.NewJaroWinkler()
	metric.CaseSensitive = true // inputs are already folded

	return &Matcher{
		threshold: threshold,
		metric:    metric,
	}
}

// Threshold returns the similarity threshold in use
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Match classifies entries against target. It has no side effects.
func (m *Matcher) Match(entries []model.SearchResultEntry, target string) model.MatchDecision {
	want := Normalize(target)
	if want == "" || len(entries) == 0 {
		return model.MatchDecision{Kind: model.NoMatch}
	}

	var exact, near []model.SearchResultEntry
	for _, e := range entries {
		got := Normalize(e.DisplayName)
		if got == "" {
			continue
		}
		if got == want {
			exact = append(exact, e)
			continue
		}
		if m.qualifies(got, want) {
			near = append(near, e)
		}
	}

	switch {
	case len(exact) == 1:
		return model.MatchDecision{Kind: model.UniqueMatch, Entry: exact[0]}
	case len(exact) > 1:
		// the portal listed the same name twice; both are shown to the operator
		return model.MatchDecision{Kind: model.Ambiguous, Candidates: exact}
	case len(near) == 1:
		return model.MatchDecision{Kind: model.UniqueMatch, Entry: near[0]}
	case len(near) > 1:
		return model.MatchDecision{Kind: model.Ambiguous, Candidates: near}
	}
	return model.MatchDecision{Kind: model.NoMatch}
}

// qualifies reports whether a row name is a near match of the wanted name:
// one contains the other, or both read the same token by token with only
// small spelling differences.
func (m *Matcher) qualifies(got, want string) bool {
	if strings.Contains(got, want) {
		return true
	}
	gotTokens, wantTokens := tokens(got), tokens(want)
	if containsRun(wantTokens, gotTokens) {
		return true
	}
	return m.similar(got, want, gotTokens, wantTokens)
}

// similar compares names of the same length in tokens. Tokens holding digits
// must be equal and every other differing token must pass the threshold on
// its own, so "Bio Farm" never stands in for "Bio Form".
func (m *Matcher) similar(got, want string, gotTokens, wantTokens []string) bool {
	if len(gotTokens) != len(wantTokens) {
		return false
	}
	if strutil.Similarity(got, want, m.metric) < m.threshold {
		return false
	}
	for i := range gotTokens {
		g, w := gotTokens[i], wantTokens[i]
		if g == w {
			continue
		}
		if hasDigit(g) || hasDigit(w) {
			return false
		}
		if strutil.Similarity(g, w, m.metric) < m.threshold {
			return false
		}
	}
	return true
}

// containsRun reports whether sub appears as consecutive tokens of s. A single
// token is too weak to identify a company and never counts.
func containsRun(s, sub []string) bool {
	if len(sub) < 2 || len(sub) > len(s) {
		return false
	}
	for i := 0; i+len(sub) <= len(s); i++ {
		if slices.Equal(s[i:i+len(sub)], sub) {
			return true
		}
	}
	return false
}

// tokens splits a normalized name into words without surrounding punctuation
func tokens(s string) []string {
	var out []string
	for _, f := range strings.Fields(s) {
		if t := strings.Trim(f, ".,;:()"); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func hasDigit(s string) bool {
	return strings.ContainsFunc(s, unicode.IsDigit)
}
