package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/capability"
	"github.com/fyrsmithlabs/flowd/internal/classifier"
	"github.com/fyrsmithlabs/flowd/internal/deliverable"
	"github.com/fyrsmithlabs/flowd/internal/logging"
	"github.com/fyrsmithlabs/flowd/internal/phases"
	"github.com/fyrsmithlabs/flowd/internal/policy"
	"github.com/fyrsmithlabs/flowd/internal/routing"
)

const (
	defaultQuickInitTimeout = 10 * time.Second

	opQuickLane       = "execute_quick_lane"
	opComplexLane     = "execute_complex_lane"
	opSaveDeliverable = "save_deliverable"
)

// Config holds runtime execution settings.
type Config struct {
	// ApprovalMode gates every policy-matched operation behind approval.
	ApprovalMode bool `koanf:"approval_mode"`

	// AutoApprove lets approval mode pass operations that do not demand
	// escalation.
	AutoApprove bool `koanf:"auto_approve"`

	// ApprovedOperations pre-approves operation names or resolved rule
	// keys, satisfying both approval mode and escalation rules.
	ApprovedOperations []string `koanf:"approved_operations"`

	// QuickInitTimeout bounds quick-lane construction and initialization.
	QuickInitTimeout time.Duration `koanf:"quick_init_timeout"`

	// InitialPhase is where newly seen projects start.
	InitialPhase phases.Phase `koanf:"initial_phase"`
}

// NewDefaultConfig returns permissive runtime defaults.
func NewDefaultConfig() *Config {
	return &Config{
		AutoApprove:      true,
		QuickInitTimeout: defaultQuickInitTimeout,
		InitialPhase:     phases.PhaseAnalysis,
	}
}

// Deps are the runtime's collaborators.
type Deps struct {
	Enforcer *policy.Enforcer
	Router   *routing.Router
	Machine  *phases.Machine
	Store    deliverable.Store
	Factory  capability.Factory

	// QuickFactory builds the quick-lane executor. Defaults to
	// NewTemplatedQuickLane.
	QuickFactory QuickLaneFactory

	Logger  *zap.Logger
	Metrics *Metrics
}

// LaneStatus reports quick-lane availability for one response.
type LaneStatus struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// PhaseOutcome summarizes one executed complex-lane phase.
type PhaseOutcome struct {
	Phase        phases.Phase `json:"phase"`
	Summary      string       `json:"summary"`
	Deliverables []string     `json:"deliverables,omitempty"`
}

// WorkflowResponse is the result of one execute_workflow call. Lane is
// the lane that actually executed, which differs from Decision.Lane when
// the quick lane fell back.
type WorkflowResponse struct {
	Lane      classifier.Lane         `json:"lane"`
	Decision  classifier.LaneDecision `json:"decision"`
	Message   string                  `json:"message"`
	Files     []string                `json:"files,omitempty"`
	QuickLane *LaneStatus             `json:"quick_lane,omitempty"`
	Phases    []PhaseOutcome          `json:"phases,omitempty"`
}

// Runtime drives classified requests through policy gates and lane
// execution. Safe for concurrent use.
type Runtime struct {
	cfg          *Config
	enforcer     *policy.Enforcer
	router       *routing.Router
	machine      *phases.Machine
	store        deliverable.Store
	factory      capability.Factory
	quickFactory QuickLaneFactory
	logger       *zap.Logger
	metrics      *Metrics

	mu          sync.Mutex
	projects    map[string]*phases.ProjectState
	laneClients map[string]capability.Client
	quickExec   QuickLaneExecutor
}

// NewRuntime creates the orchestrator runtime.
func NewRuntime(cfg *Config, deps Deps) (*Runtime, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if deps.Enforcer == nil {
		return nil, fmt.Errorf("orchestrator: policy enforcer is required")
	}
	if deps.Router == nil {
		return nil, fmt.Errorf("orchestrator: router is required")
	}
	if deps.Machine == nil {
		return nil, fmt.Errorf("orchestrator: phase machine is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("orchestrator: deliverable store is required")
	}
	if deps.Factory == nil {
		return nil, fmt.Errorf("orchestrator: capability factory is required")
	}
	if deps.QuickFactory == nil {
		deps.QuickFactory = NewTemplatedQuickLane
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(deps.Logger)
	}
	return &Runtime{
		cfg:          cfg,
		enforcer:     deps.Enforcer,
		router:       deps.Router,
		machine:      deps.Machine,
		store:        deps.Store,
		factory:      deps.Factory,
		quickFactory: deps.QuickFactory,
		logger:       deps.Logger,
		metrics:      deps.Metrics,
		projects:     make(map[string]*phases.ProjectState),
		laneClients:  make(map[string]capability.Client),
	}, nil
}

// Project returns the state for a project, creating it at the configured
// initial phase on first sight.
func (r *Runtime) Project(projectID string) *phases.ProjectState {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.projects[projectID]
	if !ok {
		state = phases.NewProjectState(projectID, r.cfg.InitialPhase)
		r.projects[projectID] = state
	}
	return state
}

// ExecuteWorkflow classifies the request, gates the chosen lane through
// policy, and executes it. A quick-lane initialization failure is soft:
// the request falls back to the complex lane and the response reports the
// quick lane as unavailable.
func (r *Runtime) ExecuteWorkflow(ctx context.Context, projectID, userRequest string, cctx classifier.Context) (*WorkflowResponse, error) {
	start := time.Now()
	ctx = logging.WithProjectID(ctx, projectID)
	state := r.Project(projectID)

	decision := classifier.Classify(userRequest, cctx)
	state.RecordLane(phases.LaneRecord{Request: userRequest, Decision: decision})
	r.metrics.RecordLaneDecision(ctx, decision)

	r.log(ctx).Info("lane decided",
		zap.String("lane", string(decision.Lane)),
		zap.Float64("confidence", decision.Confidence),
		zap.Int("scale_level", decision.Scale.Level))

	op := opComplexLane
	if decision.Lane == classifier.LaneQuick {
		op = opQuickLane
	}
	if err := r.gate(ctx, op, policy.Metadata{Lane: string(decision.Lane)}); err != nil {
		return nil, err
	}

	resp := &WorkflowResponse{Lane: decision.Lane, Decision: decision}

	if decision.Lane == classifier.LaneQuick {
		done, err := r.runQuick(ctx, userRequest, cctx, resp)
		if err != nil {
			return nil, err
		}
		if done {
			r.metrics.RecordWorkflowDuration(ctx, classifier.LaneQuick, time.Since(start))
			return resp, nil
		}
		// Fallback: the complex lane now carries the request.
		resp.Lane = classifier.LaneComplex
	}

	outcomes, err := r.runComplex(ctx, state, userRequest, decision)
	resp.Phases = outcomes
	if err != nil {
		return nil, err
	}
	if n := len(outcomes); n > 0 {
		resp.Message = outcomes[n-1].Summary
	}
	r.metrics.RecordWorkflowDuration(ctx, classifier.LaneComplex, time.Since(start))
	return resp, nil
}

// TransitionPhase moves a project to the destination phase through the
// machine's gates and trigger.
func (r *Runtime) TransitionPhase(ctx context.Context, projectID string, to phases.Phase, base map[string]any, validated bool) (*phases.TransitionResult, error) {
	ctx = logging.WithProjectID(ctx, projectID)
	state := r.Project(projectID)
	res, err := r.machine.Transition(ctx, state, to, base, validated)
	if err != nil {
		return nil, err
	}
	r.metrics.RecordPhaseTransition(ctx, to)
	return res, nil
}

// gate assesses the operation against policy and the approval settings.
// Assess reserves the quota slot; the reservation is kept when the
// operation is cleared to proceed and returned when approval denies it.
func (r *Runtime) gate(ctx context.Context, op string, meta policy.Metadata) error {
	keys := policy.NormalizeOperation(op, meta)
	assessment, err := r.enforcer.Assess(op, keys)
	if err != nil {
		r.metrics.RecordPolicyRejection(ctx, op, KindPolicyViolation)
		return err
	}
	if assessment == nil {
		return nil
	}
	if !r.approvalAllows(op, assessment) {
		if assessment.Release != nil {
			assessment.Release()
		}
		r.metrics.RecordPolicyRejection(ctx, op, KindEscalationRequired)
		return &EscalationRequiredError{Operation: op, Key: assessment.Key}
	}
	if assessment.Commit != nil {
		assessment.Commit()
	}
	return nil
}

// approvalAllows combines the assessment with the approval settings.
// Escalation rules always require a pre-approval entry; approval mode
// additionally gates everything else unless auto-approve is on.
func (r *Runtime) approvalAllows(op string, a *policy.Assessment) bool {
	if r.operationApproved(op, a.Key) {
		return true
	}
	if a.RequiresEscalation {
		return false
	}
	if !r.cfg.ApprovalMode {
		return true
	}
	return r.cfg.AutoApprove
}

func (r *Runtime) operationApproved(op, key string) bool {
	for _, approved := range r.cfg.ApprovedOperations {
		a := strings.ToLower(strings.TrimSpace(approved))
		if a == strings.ToLower(op) || a == key {
			return true
		}
	}
	return false
}

// runQuick attempts the quick lane. The bool result reports whether the
// quick lane handled the request; false with a nil error means fall back.
func (r *Runtime) runQuick(ctx context.Context, userRequest string, cctx classifier.Context, resp *WorkflowResponse) (bool, error) {
	exec, err := r.quickExecutor(ctx)
	if err != nil {
		r.log(ctx).Warn("quick lane unavailable, falling back to complex lane", zap.Error(err))
		r.metrics.RecordQuickFallback(ctx, "init_failed")
		resp.QuickLane = &LaneStatus{Available: false, Reason: err.Error()}
		return false, nil
	}

	result, err := exec.Execute(ctx, userRequest, QuickContext{PreviousPhase: cctx.PreviousPhase})
	if err != nil {
		r.log(ctx).Warn("quick lane execution failed, falling back to complex lane", zap.Error(err))
		r.metrics.RecordQuickFallback(ctx, "execute_failed")
		resp.QuickLane = &LaneStatus{Available: false, Reason: err.Error()}
		return false, nil
	}

	resp.QuickLane = &LaneStatus{Available: true}
	resp.Message = result.Message
	resp.Files = result.Files
	return true, nil
}

// runComplex executes every complex-lane phase in order, persisting each
// phase's deliverables through the policy-gated save operation. Phase
// summaries accumulate into the context the later phases see.
func (r *Runtime) runComplex(ctx context.Context, state *phases.ProjectState, userRequest string, decision classifier.LaneDecision) ([]PhaseOutcome, error) {
	base := map[string]any{
		"project_id":   state.ProjectID(),
		"user_request": userRequest,
		"lane":         string(classifier.LaneComplex),
		"scale_level":  decision.Scale.Level,
	}

	var outcomes []PhaseOutcome
	for _, phase := range phases.ComplexLanePhases() {
		tr, err := r.machine.Transition(ctx, state, phase, base, true)
		if err != nil {
			return outcomes, err
		}
		r.metrics.RecordPhaseTransition(ctx, phase)

		outcome := PhaseOutcome{Phase: phase, Summary: tr.Result.Summary}
		for _, d := range tr.Result.Deliverables {
			rec, err := r.saveDeliverable(ctx, phase, d)
			if err != nil {
				// Deliverable persistence is best effort; the phase
				// itself already succeeded.
				r.log(ctx).Warn("deliverable not saved",
					zap.String("phase", string(phase)),
					zap.String("type", d.Type),
					zap.Error(err))
				continue
			}
			outcome.Deliverables = append(outcome.Deliverables, rec.ID)
		}
		outcomes = append(outcomes, outcome)
		base["summary_"+string(phase)] = tr.Result.Summary
	}
	return outcomes, nil
}

func (r *Runtime) saveDeliverable(ctx context.Context, phase phases.Phase, d phases.Deliverable) (*deliverable.Record, error) {
	if err := r.gate(ctx, opSaveDeliverable, policy.Metadata{Type: d.Type}); err != nil {
		return nil, err
	}
	return r.store.Save(ctx, string(phase), d.Type, d.Content, d.Metadata)
}

// quickExecutor returns the memoized quick-lane executor, constructing
// and initializing it under the configured timeout on first use. A
// failed initialization is not cached, so a later request can retry.
func (r *Runtime) quickExecutor(ctx context.Context) (QuickLaneExecutor, error) {
	r.mu.Lock()
	if r.quickExec != nil {
		exec := r.quickExec
		r.mu.Unlock()
		return exec, nil
	}
	r.mu.Unlock()

	timeout := r.cfg.QuickInitTimeout
	if timeout <= 0 {
		timeout = defaultQuickInitTimeout
	}
	initCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type initResult struct {
		exec QuickLaneExecutor
		err  error
	}
	ch := make(chan initResult, 1)
	go func() {
		client, err := r.laneClient(initCtx, routing.KeyQuick)
		if err != nil {
			ch <- initResult{err: err}
			return
		}
		exec := r.quickFactory(client, r.logger)
		if err := exec.Initialize(initCtx); err != nil {
			ch <- initResult{err: err}
			return
		}
		ch <- initResult{exec: exec}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("quick lane init: %w", res.err)
		}
		r.mu.Lock()
		if r.quickExec == nil {
			r.quickExec = res.exec
		}
		exec := r.quickExec
		r.mu.Unlock()
		return exec, nil
	case <-initCtx.Done():
		return nil, fmt.Errorf("quick lane init timed out after %s", timeout)
	}
}

// log returns the base logger with the correlation fields carried by ctx.
func (r *Runtime) log(ctx context.Context) *zap.Logger {
	return r.logger.With(logging.ContextFields(ctx)...)
}

// laneClient returns the memoized capability client for a route key.
func (r *Runtime) laneClient(ctx context.Context, key string) (capability.Client, error) {
	r.mu.Lock()
	if client, ok := r.laneClients[key]; ok {
		r.mu.Unlock()
		return client, nil
	}
	r.mu.Unlock()

	route := r.router.Resolve(key)
	client, err := r.factory.Create(ctx, route)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.laneClients[key]; ok {
		return existing, nil
	}
	r.laneClients[key] = client
	return client, nil
}
