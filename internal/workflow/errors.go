package workflow

import (
	"errors"
	"fmt"

	"github.com/guttosm/reconpulse/internal/domain/models"
)

// ErrBreakNotFound is returned when a workflow operation targets an unknown
// break.
var ErrBreakNotFound = errors.New("break not found")

// StateConflictError reports a transition that violates the break lifecycle
// state machine. No mutation is applied when it is returned.
type StateConflictError struct {
	BreakID   string
	From      models.BreakStatus
	Attempted string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("break %s: cannot %s from status %q", e.BreakID, e.Attempted, e.From)
}

// IsStateConflict reports whether err is a StateConflictError.
func IsStateConflict(err error) bool {
	var sc *StateConflictError
	return errors.As(err, &sc)
}

// RemediationRejectedError reports that a break was not eligible for
// automatic resolution. It is a policy rejection, not a state conflict.
type RemediationRejectedError struct {
	BreakID string
	Reason  string
}

func (e *RemediationRejectedError) Error() string {
	return fmt.Sprintf("break %s: auto-remediation rejected: %s", e.BreakID, e.Reason)
}

// IsRemediationRejected reports whether err is a RemediationRejectedError.
func IsRemediationRejected(err error) bool {
	var rr *RemediationRejectedError
	return errors.As(err, &rr)
}
