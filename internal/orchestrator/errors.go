package orchestrator

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/flowd/internal/agent"
	"github.com/fyrsmithlabs/flowd/internal/phases"
	"github.com/fyrsmithlabs/flowd/internal/policy"
)

// EscalationRequiredError reports an operation the approval settings
// rejected: either the policy demands escalation with no matching
// pre-approval entry, or approval mode is on without auto-approve.
type EscalationRequiredError struct {
	Operation string
	Key       string
}

func (e *EscalationRequiredError) Error() string {
	return fmt.Sprintf("operation %s requires approval: add %q to routing.approved_operations or enable auto-approve", e.Operation, e.Key)
}

// ErrorKind labels a failure for the tool-call boundary.
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation"
	KindPolicyViolation    ErrorKind = "policy_violation"
	KindEscalationRequired ErrorKind = "escalation_required"
	KindAgentResponseParse ErrorKind = "agent_response_parse"
	KindInternal           ErrorKind = "internal"
)

// ClassifyError maps an error from the pipeline onto its taxonomy kind.
func ClassifyError(err error) ErrorKind {
	var (
		validationErr *phases.ValidationError
		violationErr  *policy.ViolationError
		escalationErr *EscalationRequiredError
		parseErr      *agent.ParseError
	)
	switch {
	case errors.As(err, &validationErr):
		return KindValidation
	case errors.As(err, &violationErr):
		return KindPolicyViolation
	case errors.As(err, &escalationErr):
		return KindEscalationRequired
	case errors.As(err, &parseErr):
		return KindAgentResponseParse
	default:
		return KindInternal
	}
}
