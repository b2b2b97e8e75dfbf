package model

// OutcomeKind is the terminal classification of one supplier
type OutcomeKind string

const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeNotFound  OutcomeKind = "not_found"
	OutcomeAmbiguous OutcomeKind = "ambiguous"
	OutcomeTimedOut  OutcomeKind = "timed_out"
	OutcomeError     OutcomeKind = "error"
)

// Outcome is the result of processing one supplier.
// FilePath is only set for OutcomeSuccess, Candidates only for OutcomeAmbiguous.
type Outcome struct {
	Kind       OutcomeKind `json:"kind"`
	Supplier   string      `json:"supplier"`
	FilePath   string      `json:"file_path,omitempty"`
	Candidates []string    `json:"candidates,omitempty"`
	Detail     string      `json:"detail,omitempty"`
	Attempts   int         `json:"attempts,omitempty"`
}

func Success(filePath, supplier string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Supplier: supplier, FilePath: filePath}
}

func NotFound(supplier string) Outcome {
	return Outcome{Kind: OutcomeNotFound, Supplier: supplier}
}

func AmbiguousOutcome(supplier string, candidates []string) Outcome {
	return Outcome{Kind: OutcomeAmbiguous, Supplier: supplier, Candidates: candidates}
}

func TimedOut(supplier string) Outcome {
	return Outcome{Kind: OutcomeTimedOut, Supplier: supplier}
}

func Failed(supplier, detail string) Outcome {
	return Outcome{Kind: OutcomeError, Supplier: supplier, Detail: detail}
}

// OK reports whether the outcome produced a certificate file
func (o Outcome) OK() bool {
	return o.Kind == OutcomeSuccess
}
