package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/capability"
)

// QuickContext is the minimal request context the quick lane sees.
type QuickContext struct {
	PreviousPhase string `json:"previous_phase,omitempty"`
}

// QuickResult is a quick-lane response.
type QuickResult struct {
	Message string   `json:"message"`
	Files   []string `json:"files,omitempty"`
}

// QuickLaneExecutor handles requests on the templated fast path.
// Initialize is called once, under the runtime's bounded init timeout,
// before the first Execute.
type QuickLaneExecutor interface {
	Initialize(ctx context.Context) error
	Execute(ctx context.Context, request string, qctx QuickContext) (*QuickResult, error)
}

// QuickLaneFactory builds a quick-lane executor over a lane-scoped client.
type QuickLaneFactory func(client capability.Client, logger *zap.Logger) QuickLaneExecutor

// NewTemplatedQuickLane is the default QuickLaneFactory: a single-shot
// templated prompt against the quick-lane model.
func NewTemplatedQuickLane(client capability.Client, logger *zap.Logger) QuickLaneExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &templatedQuickLane{client: client, logger: logger}
}

type templatedQuickLane struct {
	client capability.Client
	logger *zap.Logger
}

func (q *templatedQuickLane) Initialize(_ context.Context) error {
	if q.client == nil {
		return fmt.Errorf("quick lane: capability client is required")
	}
	return nil
}

const quickPromptTemplate = `You are handling a small, well-scoped development request. Respond directly and concisely.

Request: %s
%s
Reply with a JSON object of the form {"message": "...", "files": ["path", ...]} where files lists every file you would touch. Reply with JSON only.`

func (q *templatedQuickLane) Execute(ctx context.Context, request string, qctx QuickContext) (*QuickResult, error) {
	var phaseNote string
	if qctx.PreviousPhase != "" {
		phaseNote = fmt.Sprintf("The project was previously in the %s phase.\n", qctx.PreviousPhase)
	}

	raw, err := q.client.Generate(ctx, fmt.Sprintf(quickPromptTemplate, request, phaseNote))
	if err != nil {
		return nil, fmt.Errorf("quick lane: generating response: %w", err)
	}

	res := parseQuickResponse(raw)
	q.logger.Debug("quick lane response",
		zap.Int("message_len", len(res.Message)),
		zap.Int("files", len(res.Files)))
	return res, nil
}

// parseQuickResponse accepts the templated JSON shape but tolerates a
// plain-text reply, which becomes the message verbatim.
func parseQuickResponse(raw string) *QuickResult {
	trimmed := strings.TrimSpace(raw)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		var res QuickResult
		if err := json.Unmarshal([]byte(trimmed[start:end+1]), &res); err == nil && res.Message != "" {
			return &res
		}
	}
	return &QuickResult{Message: trimmed}
}
