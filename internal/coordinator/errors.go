package coordinator

import (
	"errors"
	"fmt"

	"github.com/danmuck/actiongate/internal/action"
	"github.com/google/uuid"
)

var (
	ErrActuatorUnavailable = errors.New("coordinator: actuator unavailable")
	ErrGoalRejected        = action.ErrGoalRejected
	ErrNoValidGoalExists   = errors.New("coordinator: no valid goal exists")
	ErrGoalInFlight        = errors.New("coordinator: goal already in flight")
	ErrTimedOut            = errors.New("coordinator: goal feedback went stale")
	ErrGoalAlreadyTerminal = errors.New("coordinator: goal already reached a terminal status")
	ErrInvalidConfig       = errors.New("coordinator: invalid config")
)

// Protocol operations tagged on ProtocolError.
const (
	OpSubmit = "submit"
	OpResult = "result"
	OpCancel = "cancel"
)

// ProtocolError is any action client failure. It is terminal for the session.
type ProtocolError struct {
	Op     string
	GoalID uuid.UUID
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.GoalID == uuid.Nil {
		return fmt.Sprintf("coordinator: protocol error op=%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("coordinator: protocol error op=%s goal_id=%s: %v", e.Op, e.GoalID, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
