package agent

// State is the current stage of the synthesis workflow. Transitions are
// linear on success and loop back to StateGenerate on any failure until the
// attempt budget is spent.
type State int

const (
	StateGenerate State = iota
	StateValidate
	StateExecute
	StateSummarize
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateGenerate:
		return "generate"
	case StateValidate:
		return "validate"
	case StateExecute:
		return "execute"
	case StateSummarize:
		return "summarize"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RunMode selects the workflow shape. Fast mode drops the validation stage
// entirely; invalid queries surface as execution failures instead.
type RunMode string

const (
	RunModeStandard RunMode = "standard"
	RunModeFast     RunMode = "fast"
)

// SummarizerMode selects how result rows become an answer.
type SummarizerMode string

const (
	SummarizerNarrative  SummarizerMode = "narrative"
	SummarizerStructured SummarizerMode = "structured"
)

// QueryOrigin records whether a candidate was the first attempt or a repair
// informed by earlier failures.
type QueryOrigin string

const (
	OriginInitial QueryOrigin = "initial"
	OriginRepair  QueryOrigin = "repair"
)

// CandidateQuery is one generated query with its provenance.
type CandidateQuery struct {
	Text    string      `json:"text"`
	Attempt int         `json:"attempt"`
	Origin  QueryOrigin `json:"origin"`
}

// ValidationOutcome is present only in standard mode. Reason is carried
// verbatim into the next generation prompt.
type ValidationOutcome struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// ExecutionOutcome records what the graph database did with the query.
type ExecutionOutcome struct {
	Success bool             `json:"success"`
	Rows    []map[string]any `json:"-"`
	Err     string           `json:"error,omitempty"`
}

// Attempt is the complete record of one pass through the workflow.
type Attempt struct {
	Query      CandidateQuery     `json:"query"`
	Validation *ValidationOutcome `json:"validation,omitempty"`
	Execution  *ExecutionOutcome  `json:"execution,omitempty"`
	StageErr   string             `json:"stage_error,omitempty"`
}

// RetryContext is the ordered history of failed attempts. It accumulates
// monotonically across a request and is never truncated before being handed
// to the caller on exhaustion.
type RetryContext []Attempt
