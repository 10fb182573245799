package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/flowd/internal/capability"
	"github.com/fyrsmithlabs/flowd/internal/classifier"
	"github.com/fyrsmithlabs/flowd/internal/deliverable"
	"github.com/fyrsmithlabs/flowd/internal/phases"
	"github.com/fyrsmithlabs/flowd/internal/policy"
	"github.com/fyrsmithlabs/flowd/internal/routing"
)

type fakeClient struct {
	response string
	err      error
}

func (c *fakeClient) Generate(_ context.Context, _ string) (string, error) {
	return c.response, c.err
}

type fakeFactory struct {
	client capability.Client
	err    error
	calls  atomic.Int32
}

func (f *fakeFactory) Create(_ context.Context, _ *routing.ModelRoute) (capability.Client, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

type fakeQuickExec struct {
	initErr  error
	result   *QuickResult
	execErr  error
	executed atomic.Int32
}

func (q *fakeQuickExec) Initialize(_ context.Context) error { return q.initErr }

func (q *fakeQuickExec) Execute(_ context.Context, _ string, _ QuickContext) (*QuickResult, error) {
	q.executed.Add(1)
	if q.execErr != nil {
		return nil, q.execErr
	}
	return q.result, nil
}

type fakeTrigger struct {
	calls atomic.Int32
	fn    func(phase phases.Phase) (*phases.Result, error)
}

func (t *fakeTrigger) Execute(_ context.Context, phase phases.Phase, _ map[string]any) (*phases.Result, error) {
	t.calls.Add(1)
	if t.fn != nil {
		return t.fn(phase)
	}
	return &phases.Result{Phase: phase, Summary: fmt.Sprintf("%s done", phase)}, nil
}

func intPtr(n int) *int { return &n }

type runtimeFixture struct {
	runtime *Runtime
	trigger *fakeTrigger
	factory *fakeFactory
	quick   *fakeQuickExec
}

func newRuntimeFixture(t *testing.T, cfg *Config, pol *policy.Config) *runtimeFixture {
	t.Helper()

	trigger := &fakeTrigger{}
	machine, err := phases.NewMachine(trigger, zap.NewNop())
	require.NoError(t, err)

	router, err := routing.NewRouter(routing.ModelRoute{Provider: "openai", Model: "gpt-4o"}, nil)
	require.NoError(t, err)

	store, err := deliverable.NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	factory := &fakeFactory{client: &fakeClient{response: "ok"}}
	quick := &fakeQuickExec{result: &QuickResult{Message: "patched", Files: []string{"README.md"}}}

	rt, err := NewRuntime(cfg, Deps{
		Enforcer: policy.NewEnforcer(pol, zap.NewNop()),
		Router:   router,
		Machine:  machine,
		Store:    store,
		Factory:  factory,
		QuickFactory: func(_ capability.Client, _ *zap.Logger) QuickLaneExecutor {
			return quick
		},
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)

	return &runtimeFixture{runtime: rt, trigger: trigger, factory: factory, quick: quick}
}

func TestExecuteWorkflow_QuickLane(t *testing.T) {
	fx := newRuntimeFixture(t, nil, nil)

	resp, err := fx.runtime.ExecuteWorkflow(context.Background(), "proj-1", "fix typo in readme", classifier.Context{})
	require.NoError(t, err)

	assert.Equal(t, classifier.LaneQuick, resp.Lane)
	assert.Equal(t, "patched", resp.Message)
	assert.Equal(t, []string{"README.md"}, resp.Files)
	require.NotNil(t, resp.QuickLane)
	assert.True(t, resp.QuickLane.Available)
	assert.Empty(t, resp.Phases)
	assert.EqualValues(t, 0, fx.trigger.calls.Load())

	history := fx.runtime.Project("proj-1").LaneHistory()
	require.Len(t, history, 1)
	assert.Equal(t, "fix typo in readme", history[0].Request)
	assert.Equal(t, classifier.LaneQuick, history[0].Decision.Lane)
}

func TestExecuteWorkflow_QuickInitFailureFallsBack(t *testing.T) {
	fx := newRuntimeFixture(t, nil, nil)
	fx.factory.err = errors.New("no api key")

	resp, err := fx.runtime.ExecuteWorkflow(context.Background(), "proj-1", "fix typo in readme", classifier.Context{})
	require.NoError(t, err)

	assert.Equal(t, classifier.LaneComplex, resp.Lane)
	assert.Equal(t, classifier.LaneQuick, resp.Decision.Lane)
	require.NotNil(t, resp.QuickLane)
	assert.False(t, resp.QuickLane.Available)
	assert.Contains(t, resp.QuickLane.Reason, "no api key")

	// The quick executor is never invoked; the complex lane runs instead.
	assert.EqualValues(t, 0, fx.quick.executed.Load())
	assert.EqualValues(t, len(phases.ComplexLanePhases()), fx.trigger.calls.Load())
	assert.Len(t, resp.Phases, len(phases.ComplexLanePhases()))
}

func TestExecuteWorkflow_QuickExecuteFailureFallsBack(t *testing.T) {
	fx := newRuntimeFixture(t, nil, nil)
	fx.quick.execErr = errors.New("model unavailable")

	resp, err := fx.runtime.ExecuteWorkflow(context.Background(), "proj-1", "fix typo in readme", classifier.Context{})
	require.NoError(t, err)

	assert.Equal(t, classifier.LaneComplex, resp.Lane)
	require.NotNil(t, resp.QuickLane)
	assert.False(t, resp.QuickLane.Available)
	assert.EqualValues(t, len(phases.ComplexLanePhases()), fx.trigger.calls.Load())
}

func TestExecuteWorkflow_ComplexLane(t *testing.T) {
	fx := newRuntimeFixture(t, nil, nil)
	fx.trigger.fn = func(phase phases.Phase) (*phases.Result, error) {
		res := &phases.Result{Phase: phase, Summary: fmt.Sprintf("%s complete", phase)}
		if phase == phases.PhasePlanning {
			res.Deliverables = []phases.Deliverable{{Type: "prd", Content: "requirements"}}
		}
		return res, nil
	}

	resp, err := fx.runtime.ExecuteWorkflow(context.Background(), "proj-1",
		"redesign the authentication architecture across all services", classifier.Context{})
	require.NoError(t, err)

	assert.Equal(t, classifier.LaneComplex, resp.Lane)
	require.Len(t, resp.Phases, 5)
	assert.Equal(t, phases.PhaseAnalysis, resp.Phases[0].Phase)
	assert.Equal(t, phases.PhaseQA, resp.Phases[4].Phase)
	assert.Equal(t, "qa complete", resp.Message)
	assert.Len(t, resp.Phases[1].Deliverables, 1)

	state := fx.runtime.Project("proj-1")
	assert.Equal(t, phases.PhaseQA, state.CurrentPhase())
	assert.Len(t, state.History(), 5)
}

func TestExecuteWorkflow_PhaseFailureStopsPipeline(t *testing.T) {
	fx := newRuntimeFixture(t, nil, nil)
	fx.trigger.fn = func(phase phases.Phase) (*phases.Result, error) {
		if phase == phases.PhaseArchitecture {
			return nil, errors.New("agent timeout")
		}
		return &phases.Result{Phase: phase, Summary: string(phase)}, nil
	}

	_, err := fx.runtime.ExecuteWorkflow(context.Background(), "proj-1",
		"redesign the authentication architecture across all services", classifier.Context{})
	require.Error(t, err)

	// Analysis and planning were recorded; the failed phase was not.
	state := fx.runtime.Project("proj-1")
	assert.Equal(t, phases.PhasePlanning, state.CurrentPhase())
	assert.Len(t, state.History(), 2)
}

func TestExecuteWorkflow_PolicyViolation(t *testing.T) {
	pol := &policy.Config{Operations: map[string]policy.Rule{
		"execute_quick_lane": {MaxExecutionsPerHour: intPtr(0)},
	}}
	fx := newRuntimeFixture(t, nil, pol)

	_, err := fx.runtime.ExecuteWorkflow(context.Background(), "proj-1", "fix typo in readme", classifier.Context{})
	require.Error(t, err)

	var violation *policy.ViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, KindPolicyViolation, ClassifyError(err))
}

func TestExecuteWorkflow_EscalationRequiresApproval(t *testing.T) {
	pol := &policy.Config{Operations: map[string]policy.Rule{
		"execute_complex_lane": {Escalate: true},
	}}
	fx := newRuntimeFixture(t, nil, pol)

	_, err := fx.runtime.ExecuteWorkflow(context.Background(), "proj-1",
		"redesign the authentication architecture across all services", classifier.Context{})
	require.Error(t, err)
	assert.Equal(t, KindEscalationRequired, ClassifyError(err))
	assert.EqualValues(t, 0, fx.trigger.calls.Load())
}

func TestExecuteWorkflow_PreApprovedEscalation(t *testing.T) {
	pol := &policy.Config{Operations: map[string]policy.Rule{
		"execute_complex_lane": {Escalate: true},
	}}
	cfg := NewDefaultConfig()
	cfg.ApprovedOperations = []string{"execute_complex_lane"}
	fx := newRuntimeFixture(t, cfg, pol)

	resp, err := fx.runtime.ExecuteWorkflow(context.Background(), "proj-1",
		"redesign the authentication architecture across all services", classifier.Context{})
	require.NoError(t, err)
	assert.Len(t, resp.Phases, 5)
}

func TestExecuteWorkflow_ApprovalModeWithoutAutoApprove(t *testing.T) {
	pol := &policy.Config{Operations: map[string]policy.Rule{
		"execute_quick_lane": {MaxExecutionsPerHour: intPtr(100)},
	}}
	cfg := NewDefaultConfig()
	cfg.ApprovalMode = true
	cfg.AutoApprove = false
	fx := newRuntimeFixture(t, cfg, pol)

	_, err := fx.runtime.ExecuteWorkflow(context.Background(), "proj-1", "fix typo in readme", classifier.Context{})
	require.Error(t, err)

	var escalation *EscalationRequiredError
	require.ErrorAs(t, err, &escalation)
	assert.Equal(t, "execute_quick_lane", escalation.Operation)
}

func TestExecuteWorkflow_QuotaChargedPerExecution(t *testing.T) {
	pol := &policy.Config{Operations: map[string]policy.Rule{
		"execute_quick_lane": {MaxExecutionsPerHour: intPtr(2)},
	}}
	fx := newRuntimeFixture(t, nil, pol)

	for i := 0; i < 2; i++ {
		_, err := fx.runtime.ExecuteWorkflow(context.Background(), "proj-1", "fix typo in readme", classifier.Context{})
		require.NoError(t, err)
	}
	_, err := fx.runtime.ExecuteWorkflow(context.Background(), "proj-1", "fix typo in readme", classifier.Context{})
	require.Error(t, err)
	assert.Equal(t, KindPolicyViolation, ClassifyError(err))
}

// newCustomRuntime builds a runtime around a caller-supplied enforcer
// and logger, for tests that share state across runtimes or observe logs.
func newCustomRuntime(t *testing.T, cfg *Config, enforcer *policy.Enforcer, logger *zap.Logger) *Runtime {
	t.Helper()

	machine, err := phases.NewMachine(&fakeTrigger{}, zap.NewNop())
	require.NoError(t, err)
	router, err := routing.NewRouter(routing.ModelRoute{Provider: "openai", Model: "gpt-4o"}, nil)
	require.NoError(t, err)
	store, err := deliverable.NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	quick := &fakeQuickExec{result: &QuickResult{Message: "patched"}}
	rt, err := NewRuntime(cfg, Deps{
		Enforcer: enforcer,
		Router:   router,
		Machine:  machine,
		Store:    store,
		Factory:  &fakeFactory{client: &fakeClient{response: "ok"}},
		QuickFactory: func(_ capability.Client, _ *zap.Logger) QuickLaneExecutor {
			return quick
		},
		Logger: logger,
	})
	require.NoError(t, err)
	return rt
}

func TestExecuteWorkflow_DeniedEscalationReleasesQuota(t *testing.T) {
	pol := &policy.Config{Operations: map[string]policy.Rule{
		"execute_quick_lane": {Escalate: true, MaxExecutionsPerHour: intPtr(1)},
	}}
	enforcer := policy.NewEnforcer(pol, zap.NewNop())

	denied := newCustomRuntime(t, nil, enforcer, zap.NewNop())
	_, err := denied.ExecuteWorkflow(context.Background(), "proj-1", "fix typo in readme", classifier.Context{})
	require.Error(t, err)
	assert.Equal(t, KindEscalationRequired, ClassifyError(err))

	// The denied attempt returned its reserved slot, so a pre-approved
	// caller sharing the enforcer still fits inside the quota of one.
	cfg := NewDefaultConfig()
	cfg.ApprovedOperations = []string{"execute_quick_lane"}
	approved := newCustomRuntime(t, cfg, enforcer, zap.NewNop())
	_, err = approved.ExecuteWorkflow(context.Background(), "proj-1", "fix typo in readme", classifier.Context{})
	require.NoError(t, err)
}

func TestExecuteWorkflow_LogsProjectCorrelation(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	rt := newCustomRuntime(t, nil, policy.NewEnforcer(nil, zap.NewNop()), zap.New(core))

	_, err := rt.ExecuteWorkflow(context.Background(), "proj-observed", "fix typo in readme", classifier.Context{})
	require.NoError(t, err)

	entries := observed.FilterMessage("lane decided").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "proj-observed", entries[0].ContextMap()["project.id"])
}

func TestExecuteWorkflow_DeliverableViolationIsSoft(t *testing.T) {
	pol := &policy.Config{Operations: map[string]policy.Rule{
		"save_deliverable:prd": {MaxExecutionsPerHour: intPtr(0)},
	}}
	fx := newRuntimeFixture(t, nil, pol)
	fx.trigger.fn = func(phase phases.Phase) (*phases.Result, error) {
		return &phases.Result{
			Phase:        phase,
			Summary:      string(phase),
			Deliverables: []phases.Deliverable{{Type: "prd", Content: "blocked"}},
		}, nil
	}

	resp, err := fx.runtime.ExecuteWorkflow(context.Background(), "proj-1",
		"redesign the authentication architecture across all services", classifier.Context{})
	require.NoError(t, err)
	for _, outcome := range resp.Phases {
		assert.Empty(t, outcome.Deliverables)
	}
}

func TestTransitionPhase_GateAndSuccess(t *testing.T) {
	fx := newRuntimeFixture(t, nil, nil)

	_, err := fx.runtime.TransitionPhase(context.Background(), "proj-1", phases.PhaseDevelopment, nil, false)
	require.Error(t, err)

	var validation *phases.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, KindValidation, ClassifyError(err))

	res, err := fx.runtime.TransitionPhase(context.Background(), "proj-1", phases.PhasePlanning, map[string]any{"k": "v"}, false)
	require.NoError(t, err)
	assert.Equal(t, phases.PhasePlanning, res.To)
	assert.Equal(t, phases.PhasePlanning, fx.runtime.Project("proj-1").CurrentPhase())
}

func TestQuickExecutor_Memoized(t *testing.T) {
	fx := newRuntimeFixture(t, nil, nil)

	for i := 0; i < 3; i++ {
		_, err := fx.runtime.ExecuteWorkflow(context.Background(), "proj-1", "fix typo in readme", classifier.Context{})
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, fx.factory.calls.Load())
	assert.EqualValues(t, 3, fx.quick.executed.Load())
}

func TestClassifyError_Internal(t *testing.T) {
	assert.Equal(t, KindInternal, ClassifyError(errors.New("boom")))
}

func TestParseQuickResponse(t *testing.T) {
	res := parseQuickResponse("```json\n{\"message\": \"done\", \"files\": [\"a.go\"]}\n```")
	assert.Equal(t, "done", res.Message)
	assert.Equal(t, []string{"a.go"}, res.Files)

	res = parseQuickResponse("plain text answer")
	assert.Equal(t, "plain text answer", res.Message)
	assert.Empty(t, res.Files)
}
