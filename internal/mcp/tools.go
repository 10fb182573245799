package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/flowd/internal/classifier"
	"github.com/fyrsmithlabs/flowd/internal/orchestrator"
	"github.com/fyrsmithlabs/flowd/internal/phases"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() error {
	s.registerWorkflowTools()
	s.registerPhaseTools()
	return nil
}

// ===== WORKFLOW TOOLS =====

type executeWorkflowInput struct {
	ProjectID         string `json:"project_id" jsonschema:"required,Project identifier"`
	Request           string `json:"request" jsonschema:"required,The user request to execute"`
	ForceLane         string `json:"force_lane,omitempty" jsonschema:"Force a lane (quick or complex) instead of classifying"`
	PreviousPhase     string `json:"previous_phase,omitempty" jsonschema:"Phase the project was in when the request arrived"`
	HasExistingPRD    bool   `json:"has_existing_prd,omitempty" jsonschema:"True when a product requirements document already exists"`
	ProjectComplexity string `json:"project_complexity,omitempty" jsonschema:"Operator complexity hint (low medium or high)"`
	ProgramScale      string `json:"program_scale,omitempty" jsonschema:"Operator program scale hint (e.g. team or enterprise)"`
}

type executeWorkflowOutput struct {
	Lane       string                      `json:"lane" jsonschema:"Lane that executed the request"`
	DecidedAs  string                      `json:"decided_as" jsonschema:"Lane the classifier chose"`
	Confidence float64                     `json:"confidence" jsonschema:"Classification confidence"`
	Rationale  string                      `json:"rationale" jsonschema:"Classification rationale"`
	ScaleLevel int                         `json:"scale_level" jsonschema:"Estimated scale level (0-4)"`
	Message    string                      `json:"message" jsonschema:"Execution result message"`
	Files      []string                    `json:"files,omitempty" jsonschema:"Files the quick lane touched"`
	QuickLane  *orchestrator.LaneStatus    `json:"quick_lane,omitempty" jsonschema:"Quick lane availability"`
	Phases     []orchestrator.PhaseOutcome `json:"phases,omitempty" jsonschema:"Complex lane phase outcomes"`
}

type classifyRequestInput struct {
	Request           string `json:"request" jsonschema:"required,The user request to classify"`
	PreviousPhase     string `json:"previous_phase,omitempty" jsonschema:"Phase the project was in when the request arrived"`
	HasExistingPRD    bool   `json:"has_existing_prd,omitempty" jsonschema:"True when a product requirements document already exists"`
	ProjectComplexity string `json:"project_complexity,omitempty" jsonschema:"Operator complexity hint (low medium or high)"`
	ProgramScale      string `json:"program_scale,omitempty" jsonschema:"Operator program scale hint (e.g. team or enterprise)"`
}

type classifyRequestOutput struct {
	Decision classifier.LaneDecision `json:"decision" jsonschema:"Full lane decision with factors and scale assessment"`
}

func (s *Server) registerWorkflowTools() {
	// execute_workflow
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "execute_workflow",
		Description: "Classify a development request into a lane and execute it",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args executeWorkflowInput) (*mcp.CallToolResult, executeWorkflowOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "execute_workflow")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "execute_workflow")
			s.metrics.RecordInvocation(ctx, "execute_workflow", time.Since(start), toolErr)
		}()

		if args.ProjectID == "" {
			toolErr = fmt.Errorf("project_id is required")
			return nil, executeWorkflowOutput{}, toolErr
		}
		if args.Request == "" {
			toolErr = fmt.Errorf("request is required")
			return nil, executeWorkflowOutput{}, toolErr
		}

		cctx := classifier.Context{
			ForceLane:         classifier.Lane(args.ForceLane),
			PreviousPhase:     args.PreviousPhase,
			HasExistingPRD:    args.HasExistingPRD,
			ProjectComplexity: args.ProjectComplexity,
			ProgramScale:      args.ProgramScale,
		}
		if args.ForceLane != "" && !cctx.ForceLane.Valid() {
			toolErr = fmt.Errorf("force_lane must be quick or complex, got %q", args.ForceLane)
			return nil, executeWorkflowOutput{}, toolErr
		}

		resp, err := s.runtime.ExecuteWorkflow(ctx, args.ProjectID, args.Request, cctx)
		if err != nil {
			toolErr = fmt.Errorf("workflow execution failed: %w", err)
			return nil, executeWorkflowOutput{}, toolErr
		}

		result := executeWorkflowOutput{
			Lane:       string(resp.Lane),
			DecidedAs:  string(resp.Decision.Lane),
			Confidence: resp.Decision.Confidence,
			Rationale:  resp.Decision.Rationale,
			ScaleLevel: resp.Decision.Scale.Level,
			Message:    resp.Message,
			Files:      resp.Files,
			QuickLane:  resp.QuickLane,
			Phases:     resp.Phases,
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Executed on %s lane: %s", result.Lane, result.Message)},
			},
		}, result, nil
	})

	// classify_request
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "classify_request",
		Description: "Classify a request into a lane without executing it",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args classifyRequestInput) (*mcp.CallToolResult, classifyRequestOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "classify_request")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "classify_request")
			s.metrics.RecordInvocation(ctx, "classify_request", time.Since(start), toolErr)
		}()

		if args.Request == "" {
			toolErr = fmt.Errorf("request is required")
			return nil, classifyRequestOutput{}, toolErr
		}

		decision := classifier.Classify(args.Request, classifier.Context{
			PreviousPhase:     args.PreviousPhase,
			HasExistingPRD:    args.HasExistingPRD,
			ProjectComplexity: args.ProjectComplexity,
			ProgramScale:      args.ProgramScale,
		})

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Lane: %s (confidence %.2f, scale %d)", decision.Lane, decision.Confidence, decision.Scale.Level)},
			},
		}, classifyRequestOutput{Decision: decision}, nil
	})
}

// ===== PHASE TOOLS =====

type transitionPhaseInput struct {
	ProjectID string         `json:"project_id" jsonschema:"required,Project identifier"`
	ToPhase   string         `json:"to_phase" jsonschema:"required,Destination phase (analysis planning architecture development or qa)"`
	Context   map[string]any `json:"context,omitempty" jsonschema:"Context passed to the phase workflow"`
	Validated bool           `json:"validated,omitempty" jsonschema:"True when upstream deliverables have been validated (required for gated phases)"`
}

type transitionPhaseOutput struct {
	From    string         `json:"from" jsonschema:"Phase before the transition"`
	To      string         `json:"to" jsonschema:"Phase after the transition"`
	Summary string         `json:"summary" jsonschema:"Phase workflow summary"`
	Context map[string]any `json:"context,omitempty" jsonschema:"Enriched context the workflow saw"`
}

type projectStatusInput struct {
	ProjectID string `json:"project_id" jsonschema:"required,Project identifier"`
}

type projectStatusOutput struct {
	ProjectID    string              `json:"project_id" jsonschema:"Project identifier"`
	CurrentPhase string              `json:"current_phase" jsonschema:"The project's current phase"`
	Transitions  []phases.Transition `json:"transitions" jsonschema:"Append-only transition history"`
	LaneHistory  []phases.LaneRecord `json:"lane_history" jsonschema:"Lane decisions recorded for this project"`
}

func (s *Server) registerPhaseTools() {
	// transition_phase
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "transition_phase",
		Description: "Move a project to a workflow phase, running that phase's agent workflow",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args transitionPhaseInput) (*mcp.CallToolResult, transitionPhaseOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "transition_phase")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "transition_phase")
			s.metrics.RecordInvocation(ctx, "transition_phase", time.Since(start), toolErr)
		}()

		if args.ProjectID == "" {
			toolErr = fmt.Errorf("project_id is required")
			return nil, transitionPhaseOutput{}, toolErr
		}

		res, err := s.runtime.TransitionPhase(ctx, args.ProjectID, phases.Phase(args.ToPhase), args.Context, args.Validated)
		if err != nil {
			toolErr = fmt.Errorf("phase transition failed: %w", err)
			return nil, transitionPhaseOutput{}, toolErr
		}

		result := transitionPhaseOutput{
			From:    string(res.From),
			To:      string(res.To),
			Context: res.Context,
		}
		if res.Result != nil {
			result.Summary = res.Result.Summary
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Transitioned %s -> %s", result.From, result.To)},
			},
		}, result, nil
	})

	// project_status
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "project_status",
		Description: "Report a project's current phase, transition history, and lane decisions",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args projectStatusInput) (*mcp.CallToolResult, projectStatusOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "project_status")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "project_status")
			s.metrics.RecordInvocation(ctx, "project_status", time.Since(start), toolErr)
		}()

		if args.ProjectID == "" {
			toolErr = fmt.Errorf("project_id is required")
			return nil, projectStatusOutput{}, toolErr
		}

		state := s.runtime.Project(args.ProjectID)
		result := projectStatusOutput{
			ProjectID:    state.ProjectID(),
			CurrentPhase: string(state.CurrentPhase()),
			Transitions:  state.History(),
			LaneHistory:  state.LaneHistory(),
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Project %s is in phase %s", result.ProjectID, result.CurrentPhase)},
			},
		}, result, nil
	})
}
