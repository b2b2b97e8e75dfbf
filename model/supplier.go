package model

// Supplier represents one organic operator taken from the input CSV
type Supplier struct {
	Name           string `json:"name"`
	NormalizedName string `json:"normalized_name"`
}

// SearchResultEntry is one row of the portal's results listing.
// Handle only identifies the row within the search that produced it.
type SearchResultEntry struct {
	DisplayName string `json:"display_name"`
	Handle      int    `json:"-"`
}

// MatchKind classifies a MatchDecision
type MatchKind int

const (
	NoMatch MatchKind = iota
	UniqueMatch
	Ambiguous
)

func (k MatchKind) String() string {
	switch k {
	case NoMatch:
		return "no_match"
	case UniqueMatch:
		return "unique_match"
	case Ambiguous:
		return "ambiguous"
	}
	return "unknown"
}

// MatchDecision is the matcher's verdict for one results listing.
// Entry is set for UniqueMatch, Candidates for Ambiguous.
type MatchDecision struct {
	Kind       MatchKind
	Entry      SearchResultEntry
	Candidates []SearchResultEntry
}

// CandidateNames returns the display names of the ambiguous candidates
func (d MatchDecision) CandidateNames() []string {
	names := make([]string, 0, len(d.Candidates))
	for _, c := range d.Candidates {
		names = append(names, c.DisplayName)
	}
	return names
}
