package domain

import (
	"fmt"
	"strings"
)

// ValidationError reports a document that failed validation. Issues carries
// one entry per finding.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("document failed validation with %d issue(s)", len(e.Issues))
}

// WorkflowStateError reports an operation attempted on a monster whose
// current state does not allow it. Distinct from an illegal transition: the
// transition itself may be legal, but the operation's precondition is not met.
type WorkflowStateError struct {
	MonsterID string
	State     State
	Expected  []State
	Op        string
}

func (e *WorkflowStateError) Error() string {
	msg := fmt.Sprintf("monster %s is in state %s, cannot %s", e.MonsterID, e.State, e.Op)
	if len(e.Expected) > 0 {
		names := make([]string, 0, len(e.Expected))
		for _, s := range e.Expected {
			names = append(names, string(s))
		}
		msg += fmt.Sprintf(" (expected %s)", strings.Join(names, " or "))
	}
	return msg
}
