package phases

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ValidationError is returned when a gated phase is entered without
// validation. The project state is left completely unmodified.
type ValidationError struct {
	Phase Phase
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("phase %s is gated: validation required before transition", e.Phase)
}

// GateInfo describes why a destination phase is gated.
type GateInfo struct {
	Phase  Phase  `json:"phase"`
	Reason string `json:"reason"`
}

// TransitionResult is the outcome of a successful transition.
type TransitionResult struct {
	From    Phase          `json:"from"`
	To      Phase          `json:"to"`
	Result  *Result        `json:"result"`
	Context map[string]any `json:"context,omitempty"`
}

// Machine gates and persists workflow phase transitions.
type Machine struct {
	trigger   Trigger
	enrichers map[Phase]EnrichFunc
	gated     map[Phase]string
	logger    *zap.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithEnricher registers a context enricher for a destination phase.
func WithEnricher(phase Phase, fn EnrichFunc) MachineOption {
	return func(m *Machine) { m.enrichers[phase] = fn }
}

// WithGatedPhase marks a destination phase as requiring validation.
func WithGatedPhase(phase Phase, reason string) MachineOption {
	return func(m *Machine) { m.gated[phase] = reason }
}

// WithMachineClock overrides the time source, for tests.
func WithMachineClock(now func() time.Time) MachineOption {
	return func(m *Machine) { m.now = now }
}

// NewMachine creates a phase machine. Development and QA are gated by
// default: they consume validated upstream deliverables.
func NewMachine(trigger Trigger, logger *zap.Logger, opts ...MachineOption) (*Machine, error) {
	if trigger == nil {
		return nil, fmt.Errorf("phases: trigger is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Machine{
		trigger:   trigger,
		enrichers: make(map[Phase]EnrichFunc),
		gated: map[Phase]string{
			PhaseDevelopment: "development consumes validated planning and architecture deliverables",
			PhaseQA:          "qa verifies validated development output",
		},
		logger: logger,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Check returns gate information for a destination phase, or nil when the
// phase is not gated.
func (m *Machine) Check(state *ProjectState, to Phase) *GateInfo {
	if reason, ok := m.gated[to]; ok {
		return &GateInfo{Phase: to, Reason: reason}
	}
	return nil
}

// Transition moves a project into the destination phase.
//
// The sequence is: gate check, context enrichment, workflow trigger, and
// only on trigger success the history append and current-phase update.
// Trigger failures propagate unchanged; partial progress such as an
// already-persisted deliverable is not rolled back, since deliverables
// are idempotent artifacts keyed by type.
func (m *Machine) Transition(ctx context.Context, state *ProjectState, to Phase, base map[string]any, validated bool) (*TransitionResult, error) {
	if !KnownPhase(to) {
		return nil, fmt.Errorf("phases: unknown destination phase %q", to)
	}

	lock := m.lockFor(state.ProjectID())
	lock.Lock()
	defer lock.Unlock()

	if _, gated := m.gated[to]; gated && !validated {
		return nil, &ValidationError{Phase: to}
	}

	enriched, err := m.enrich(ctx, to, base)
	if err != nil {
		return nil, fmt.Errorf("phases: enriching context for %s: %w", to, err)
	}

	from := state.CurrentPhase()
	result, err := m.trigger.Execute(ctx, to, enriched)
	if err != nil {
		return nil, err
	}

	t := Transition{
		From:    from,
		To:      to,
		At:      m.now().UTC(),
		Context: enriched,
	}
	state.applyTransition(t)

	m.logger.Info("phase transition recorded",
		zap.String("project_id", state.ProjectID()),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	return &TransitionResult{
		From:    from,
		To:      to,
		Result:  result,
		Context: enriched,
	}, nil
}

// enrich copies the base context and applies the destination phase's
// enricher, if any.
func (m *Machine) enrich(ctx context.Context, to Phase, base map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(base))
	for k, v := range base {
		merged[k] = v
	}
	fn, ok := m.enrichers[to]
	if !ok {
		return merged, nil
	}
	return fn(ctx, to, merged)
}

// lockFor returns the per-project transition lock, creating it lazily.
func (m *Machine) lockFor(projectID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[projectID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[projectID] = lock
	}
	return lock
}
