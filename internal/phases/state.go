package phases

import "sync"

// ProjectState is the persisted phase state for one project. It is owned
// exclusively by that project; all mutation happens under its internal
// mutex so concurrent external calls cannot interleave a read-then-write
// of the current phase.
type ProjectState struct {
	mu sync.Mutex

	projectID    string
	currentPhase Phase
	history      []Transition
	laneHistory  []LaneRecord
}

// NewProjectState creates state for a project starting at the given phase.
func NewProjectState(projectID string, initial Phase) *ProjectState {
	return &ProjectState{
		projectID:    projectID,
		currentPhase: initial,
	}
}

// ProjectID returns the owning project's identifier.
func (s *ProjectState) ProjectID() string { return s.projectID }

// CurrentPhase returns the project's current phase.
func (s *ProjectState) CurrentPhase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPhase
}

// History returns a copy of the transition log.
func (s *ProjectState) History() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transition, len(s.history))
	copy(out, s.history)
	return out
}

// LaneHistory returns a copy of the recorded lane decisions.
func (s *ProjectState) LaneHistory() []LaneRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LaneRecord, len(s.laneHistory))
	copy(out, s.laneHistory)
	return out
}

// RecordLane appends a lane decision to the project's audit history.
func (s *ProjectState) RecordLane(rec LaneRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.laneHistory = append(s.laneHistory, rec)
}

// applyTransition appends the transition and moves the current phase.
// Called by the Machine only after the phase trigger has succeeded.
func (s *ProjectState) applyTransition(t Transition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, t)
	s.currentPhase = t.To
}
