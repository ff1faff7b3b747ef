package domain

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
)

var (
	// ErrValidation covers malformed input such as a bad period format
	// or a missing precondition for an action.
	ErrValidation = errors.New("validation_error")

	// ErrUnauthorizedAction means the actor's role does not permit the
	// requested action in the current status.
	ErrUnauthorizedAction = errors.New("unauthorized_action")

	// ErrInvalidTransition means the action is illegal from the current
	// status, including any mutation of a cancelled or paid protocol.
	ErrInvalidTransition = errors.New("invalid_transition")

	// ErrNotFound covers a missing protocol, subject or actor.
	ErrNotFound = errors.New("protocol_not_found")

	// ErrConflict is a uniqueness violation during generation or
	// consolidation. Batch paths surface it as a skip, never as a
	// caller-visible failure.
	ErrConflict = errors.New("conflict")
)

// AggregationError marks a single subject whose totals could not be
// computed during generation. It isolates to that subject; the rest of
// the batch continues.
type AggregationError struct {
	SubjectID snowflake.ID
	Reason    string
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregation failed for subject %s: %s", e.SubjectID, e.Reason)
}
