package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/phases"
)

type stubClient struct {
	response string
	err      error
	prompts  []string
}

func (c *stubClient) Generate(_ context.Context, prompt string) (string, error) {
	c.prompts = append(c.prompts, prompt)
	if c.err != nil {
		return "", c.err
	}
	return c.response, nil
}

func TestRunner_Execute(t *testing.T) {
	client := &stubClient{
		response: `{"summary": "plan drafted", "deliverables": [{"type": "prd", "content": "# PRD"}]}`,
	}
	r, err := NewRunner(client, zap.NewNop())
	require.NoError(t, err)

	res, err := r.Execute(context.Background(), phases.PhasePlanning, map[string]any{"request": "build it"})
	require.NoError(t, err)

	assert.Equal(t, phases.PhasePlanning, res.Phase)
	assert.Equal(t, "plan drafted", res.Summary)
	require.Len(t, res.Deliverables, 1)
	assert.Equal(t, "prd", res.Deliverables[0].Type)

	// The prompt names the phase persona and carries the context.
	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], "planner")
	assert.Contains(t, client.prompts[0], "build it")
}

func TestRunner_Execute_FencedPayload(t *testing.T) {
	client := &stubClient{
		response: "Here is the result:\n```json\n{\"summary\": \"ok\", \"deliverables\": []}\n```",
	}
	r, err := NewRunner(client, zap.NewNop())
	require.NoError(t, err)

	res, err := r.Execute(context.Background(), phases.PhaseAnalysis, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Summary)
}

func TestRunner_Execute_ParseError(t *testing.T) {
	client := &stubClient{response: "I could not produce JSON today. " + strings.Repeat("sorry ", 40)}
	r, err := NewRunner(client, zap.NewNop())
	require.NoError(t, err)

	_, err = r.Execute(context.Background(), phases.PhaseQA, nil)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, phases.PhaseQA, parseErr.Phase)
	assert.Equal(t, "qa-engineer", parseErr.Agent)
	assert.NotEmpty(t, parseErr.Snippet)
	assert.LessOrEqual(t, len(parseErr.Snippet), snippetLen+3)
}

func TestRunner_Execute_ClientFailure(t *testing.T) {
	boom := errors.New("provider unavailable")
	client := &stubClient{err: boom}
	r, err := NewRunner(client, zap.NewNop())
	require.NoError(t, err)

	_, err = r.Execute(context.Background(), phases.PhaseDevelopment, nil)
	require.ErrorIs(t, err, boom)
}

func TestNewRunner_RequiresClient(t *testing.T) {
	_, err := NewRunner(nil, zap.NewNop())
	require.Error(t, err)
}
