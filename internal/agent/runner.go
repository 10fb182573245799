// Package agent executes phase workflows against a language-model
// capability endpoint.
//
// The runner builds a phase-specific prompt from the enriched transition
// context, calls the capability client, and parses the structured JSON
// payload the agent must return. A payload that fails to parse becomes a
// ParseError naming the phase and a snippet of the raw payload; it fails
// that single call, never the process.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/capability"
	"github.com/fyrsmithlabs/flowd/internal/phases"
)

// snippetLen bounds how much of an unparsable payload is surfaced.
const snippetLen = 120

// ParseError reports an agent response whose structured payload could not
// be decoded.
type ParseError struct {
	Phase   phases.Phase
	Agent   string
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("agent %s (phase %s) returned unparsable payload: %v (payload: %q)", e.Agent, e.Phase, e.Err, e.Snippet)
}

func (e *ParseError) Unwrap() error { return e.Err }

// payload is the wire shape agents must return.
type payload struct {
	Summary      string `json:"summary"`
	Deliverables []struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	} `json:"deliverables"`
}

// phaseAgents names the persona responsible for each phase, used in
// prompts and error reporting.
var phaseAgents = map[phases.Phase]string{
	phases.PhaseAnalysis:     "analyst",
	phases.PhasePlanning:     "planner",
	phases.PhaseArchitecture: "architect",
	phases.PhaseDevelopment:  "developer",
	phases.PhaseQA:           "qa-engineer",
}

// Runner is a phases.Trigger backed by a capability client.
type Runner struct {
	client capability.Client
	logger *zap.Logger
}

// NewRunner creates a runner over the given capability client.
func NewRunner(client capability.Client, logger *zap.Logger) (*Runner, error) {
	if client == nil {
		return nil, fmt.Errorf("agent: capability client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{client: client, logger: logger}, nil
}

// Execute runs the phase's agent workflow and decodes its payload.
func (r *Runner) Execute(ctx context.Context, phase phases.Phase, enriched map[string]any) (*phases.Result, error) {
	prompt, err := buildPrompt(phase, enriched)
	if err != nil {
		return nil, fmt.Errorf("agent: building prompt for %s: %w", phase, err)
	}

	raw, err := r.client.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("agent: executing %s workflow: %w", phase, err)
	}

	result, err := parseResult(phase, raw)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("agent workflow completed",
		zap.String("phase", string(phase)),
		zap.Int("deliverables", len(result.Deliverables)))
	return result, nil
}

// buildPrompt renders the agent instruction with the enriched context as
// a JSON document.
func buildPrompt(phase phases.Phase, enriched map[string]any) (string, error) {
	name := phaseAgents[phase]
	if name == "" {
		name = string(phase)
	}

	ctxJSON, err := json.MarshalIndent(enriched, "", "  ")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s agent for the %s phase of a development workflow.\n\n", name, phase)
	fmt.Fprintf(&b, "Context:\n%s\n\n", ctxJSON)
	b.WriteString("Respond with a single JSON object of the form ")
	b.WriteString(`{"summary": string, "deliverables": [{"type": string, "content": string}]}.`)
	return b.String(), nil
}

// parseResult decodes the agent payload, tolerating surrounding prose or
// code fences by extracting the outermost JSON object.
func parseResult(phase phases.Phase, raw string) (*phases.Result, error) {
	body := extractJSON(raw)

	var p payload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, &ParseError{
			Phase:   phase,
			Agent:   phaseAgents[phase],
			Snippet: snippet(raw),
			Err:     err,
		}
	}

	res := &phases.Result{
		Phase:   phase,
		Summary: p.Summary,
		Raw:     raw,
	}
	for _, d := range p.Deliverables {
		res.Deliverables = append(res.Deliverables, phases.Deliverable{
			Type:    d.Type,
			Content: d.Content,
		})
	}
	return res, nil
}

// extractJSON returns the substring between the first '{' and the last
// '}' so fenced or prefixed responses still decode.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

func snippet(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) <= snippetLen {
		return trimmed
	}
	return trimmed[:snippetLen] + "..."
}
