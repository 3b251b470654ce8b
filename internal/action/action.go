package action

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const DefaultActionName = "follow_joint_trajectory"

var (
	ErrGoalRejected   = errors.New("action: goal rejected")
	ErrCancelRejected = errors.New("action: cancel rejected")
	ErrUnknownGoal    = errors.New("action: unknown goal")
	ErrGoalTerminated = errors.New("action: goal already terminated")
	ErrConnectionLost = errors.New("action: connection lost")
)

// GoalStatus mirrors the remote action server's view of a goal.
type GoalStatus string

const (
	GoalExecuting GoalStatus = "executing"
	GoalCanceling GoalStatus = "canceling"
	GoalSucceeded GoalStatus = "succeeded"
	GoalCanceled  GoalStatus = "canceled"
	GoalAborted   GoalStatus = "aborted"
)

// Cancel return codes reported by the action server.
const (
	CancelOK         uint32 = 0
	CancelRejected   uint32 = 1
	CancelUnknown    uint32 = 2
	CancelTerminated uint32 = 3
)

type Header struct {
	Stamp   time.Time
	FrameID string
}

type TrajectoryPoint struct {
	Positions     []float64
	TimeFromStart time.Duration
}

type JointTrajectory struct {
	Header     Header
	JointNames []string
	Points     []TrajectoryPoint
}

// Goal is one follow-joint-trajectory request.
type Goal struct {
	ID         uuid.UUID
	Trajectory JointTrajectory
}

// NewTrajectoryGoal builds the fixed goal payload: stamped header, empty frame,
// joint1/joint2 and no points.
func NewTrajectoryGoal(stamp time.Time) Goal {
	return Goal{
		ID: uuid.New(),
		Trajectory: JointTrajectory{
			Header:     Header{Stamp: stamp, FrameID: ""},
			JointNames: []string{"joint1", "joint2"},
			Points:     []TrajectoryPoint{},
		},
	}
}

type Feedback struct {
	GoalID uuid.UUID
	Stamp  time.Time
	Status GoalStatus
}

type Result struct {
	GoalID    uuid.UUID
	Status    GoalStatus
	ErrorCode uint32
	Message   string
}

func (r Result) Succeeded() bool {
	return r.Status == GoalSucceeded && r.ErrorCode == 0
}

// Outcome is the single terminal value delivered on a submission's result channel.
type Outcome struct {
	Result Result
	Err    error
}

// GoalHandle references an accepted goal on the remote server.
type GoalHandle interface {
	ID() uuid.UUID
	// Cancel returns once the server acknowledged the cancel request.
	Cancel(ctx context.Context) error
}

// Submission is what an accepted goal yields. Result receives exactly one Outcome.
// Feedback is closed when the goal's stream ends.
type Submission struct {
	Handle   GoalHandle
	Result   <-chan Outcome
	Feedback <-chan Feedback
}

// Client is the action client boundary consumed by the coordinator.
type Client interface {
	// WaitAvailable blocks until the action server is reachable or ctx ends.
	WaitAvailable(ctx context.Context) error
	// SendGoal submits goal and waits for acceptance. Rejection returns ErrGoalRejected.
	SendGoal(ctx context.Context, goal Goal) (Submission, error)
}

// Clock reports time as seen by the remote middleware.
type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock is the local wall clock.
var SystemClock Clock = ClockFunc(time.Now)
