package classifier

import "time"

// Lane identifies an execution strategy for a request.
type Lane string

const (
	// LaneQuick is the templated, cheap execution path.
	LaneQuick Lane = "quick"

	// LaneComplex is the full multi-phase deliberation path.
	LaneComplex Lane = "complex"
)

// Valid reports whether the lane is a known lane value.
func (l Lane) Valid() bool {
	return l == LaneQuick || l == LaneComplex
}

// Context carries request metadata that biases classification.
// All fields are optional; the zero value means "no prior context".
type Context struct {
	// ForceLane short-circuits classification to the given lane.
	ForceLane Lane `json:"force_lane,omitempty"`

	// PreviousPhase is set when the request arrives mid-workflow.
	PreviousPhase string `json:"previous_phase,omitempty"`

	// HasExistingPRD indicates a product requirements document already exists.
	HasExistingPRD bool `json:"has_existing_prd,omitempty"`

	// ProjectComplexity is an operator-declared complexity hint ("low",
	// "medium", "high").
	ProjectComplexity string `json:"project_complexity,omitempty"`

	// ProgramScale is an operator-declared program scale hint
	// (e.g. "team", "enterprise").
	ProgramScale string `json:"program_scale,omitempty"`
}

// Factors are the raw signals extracted from the request text.
type Factors struct {
	QuickKeywordHits   int  `json:"quick_keyword_hits"`
	ComplexKeywordHits int  `json:"complex_keyword_hits"`
	SingleFileScope    bool `json:"single_file_scope"`
	MultiFileScope     bool `json:"multi_file_scope"`
	MessageLength      int  `json:"message_length"`
	ShortMessage       bool `json:"short_message"`
	HasQuestion        bool `json:"has_question"`
	HasActionVerb      bool `json:"has_action_verb"`
}

// Scores holds the accumulated per-lane scores.
type Scores struct {
	Quick   int `json:"quick"`
	Complex int `json:"complex"`
}

// LaneDecision is the immutable outcome of classifying one request.
// Decisions are appended to a project's lane history for audit.
type LaneDecision struct {
	Lane       Lane            `json:"lane"`
	Confidence float64         `json:"confidence"`
	Rationale  string          `json:"rationale"`
	Factors    Factors         `json:"factors"`
	Scores     Scores          `json:"scores"`
	Scale      ScaleAssessment `json:"scale"`
	DecidedAt  time.Time       `json:"decided_at"`
}

// ScaleSignal is one contribution to or deduction from the scale score.
type ScaleSignal struct {
	Description string `json:"description"`
	Value       int    `json:"value"`
}

// ScaleAssessment is the ordinal 0-4 scale estimate for a request.
// It is derived per decision and never persisted on its own.
type ScaleAssessment struct {
	// Level is the canonical keyword-weighted level, 0 (trivial) to 4
	// (organization-wide).
	Level int `json:"level"`

	// Score is the raw weighted score the level was mapped from.
	Score int `json:"score"`

	// Contributions and Deductions record every scoring adjustment in
	// the order it was applied, for audit logging.
	Contributions []ScaleSignal `json:"contributions"`
	Deductions    []ScaleSignal `json:"deductions"`

	// KeywordMatches maps tier name to the keywords that matched.
	KeywordMatches map[string][]string `json:"keyword_matches,omitempty"`

	// Refinement is the diagnostic score-gap refinement. It never
	// overrides Level.
	Refinement *ScaleRefinement `json:"refinement,omitempty"`
}

// ScaleRefinement is the secondary level estimate derived from the
// classifier's quick/complex score gap. Diagnostic only.
type ScaleRefinement struct {
	Level      int     `json:"level"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}
