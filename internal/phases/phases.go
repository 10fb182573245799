// Package phases advances a persisted project through ordered workflow
// phases.
//
// A project owns a ProjectPhaseState: its current phase, an append-only
// transition history, and a lane-decision history. All mutation goes
// through the Machine, which serializes transitions per project, gates
// certain destination phases behind an explicit validation flag, enriches
// the transition context through pluggable per-phase enrichers, and only
// records a transition after the destination phase's workflow trigger has
// returned successfully. A failed trigger never corrupts persisted state.
package phases

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/flowd/internal/classifier"
)

// Phase is a named stage in the development workflow.
type Phase string

const (
	PhaseAnalysis     Phase = "analysis"
	PhasePlanning     Phase = "planning"
	PhaseArchitecture Phase = "architecture"
	PhaseDevelopment  Phase = "development"
	PhaseQA           Phase = "qa"
)

// ComplexLanePhases returns the fixed execution order for the complex lane.
func ComplexLanePhases() []Phase {
	return []Phase{PhaseAnalysis, PhasePlanning, PhaseArchitecture, PhaseDevelopment, PhaseQA}
}

// KnownPhase reports whether p is a recognized workflow phase.
func KnownPhase(p Phase) bool {
	for _, known := range ComplexLanePhases() {
		if p == known {
			return true
		}
	}
	return false
}

// Transition is one append-only phase history entry.
type Transition struct {
	From    Phase          `json:"from"`
	To      Phase          `json:"to"`
	At      time.Time      `json:"at"`
	Context map[string]any `json:"context,omitempty"`
}

// LaneRecord pairs a literal user request with the decision it produced.
type LaneRecord struct {
	Request  string                  `json:"request"`
	Decision classifier.LaneDecision `json:"decision"`
}

// Deliverable is an artifact produced by a phase trigger, keyed by type.
// Re-running a phase overwrites the artifact of the same type.
type Deliverable struct {
	Type     string            `json:"type"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Result is what a workflow trigger returns for a phase.
type Result struct {
	Phase        Phase         `json:"phase"`
	Summary      string        `json:"summary"`
	Deliverables []Deliverable `json:"deliverables,omitempty"`
	Raw          string        `json:"raw,omitempty"`
}

// Trigger executes the agent workflow for a destination phase against an
// enriched context. Implementations may persist deliverables as a side
// effect during execution; that persistence is independent of whether the
// transition itself is recorded.
type Trigger interface {
	Execute(ctx context.Context, phase Phase, enriched map[string]any) (*Result, error)
}

// EnrichFunc merges phase-specific material into a transition context.
// The base map must not be mutated; implementations return the merged map.
type EnrichFunc func(ctx context.Context, phase Phase, base map[string]any) (map[string]any, error)
