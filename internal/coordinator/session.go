package coordinator

import (
	"sync"
	"time"

	"github.com/danmuck/actiongate/internal/action"
	"github.com/google/uuid"
)

// Status is a goal session's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusActive    Status = "active"
	StatusSucceeded Status = "succeeded"
	StatusRejected  Status = "rejected"
	StatusCanceled  Status = "canceled"
	StatusTimedOut  Status = "timed_out"
	StatusAborted   Status = "aborted"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusRejected, StatusCanceled, StatusTimedOut, StatusAborted:
		return true
	default:
		return false
	}
}

// Snapshot is a read-only copy of a session.
type Snapshot struct {
	GoalID         uuid.UUID `json:"goal_id"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at,omitzero"`
	FinishedAt     time.Time `json:"finished_at,omitzero"`
	FeedbackCount  int       `json:"feedback_count"`
	CancelOrigin   Origin    `json:"cancel_origin,omitempty"`
	Error          string    `json:"error,omitempty"`
	Done           bool      `json:"done"`
}

// session is the state of the one in-flight goal. done closes exactly once and
// every terminal write goes through finish.
type session struct {
	signal    *cancelSignal
	createdAt time.Time

	mu             sync.Mutex
	goalID         uuid.UUID
	handle         action.GoalHandle
	status         Status
	lastActivityAt time.Time
	finishedAt     time.Time
	feedbackCount  int
	err            error
	done           chan struct{}
	closed         bool
}

func newSession(now time.Time) *session {
	return &session{
		signal:    newCancelSignal(),
		createdAt: now,
		status:    StatusPending,
		done:      make(chan struct{}),
	}
}

func (s *session) setGoal(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goalID = id
}

func (s *session) GoalID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.goalID
}

// install stores the accepted handle. It fails if a handle was ever set or the session ended.
func (s *session) install(h action.GoalHandle, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.handle != nil || s.status != StatusPending {
		return false
	}
	s.handle = h
	s.status = StatusAccepted
	s.lastActivityAt = now
	return true
}

// touch records feedback at t. Older timestamps never move lastActivityAt back.
func (s *session) touch(t time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if t.After(s.lastActivityAt) {
		s.lastActivityAt = t
	}
	s.feedbackCount++
	if s.status == StatusAccepted {
		s.status = StatusActive
	}
	return true
}

func (s *session) idle(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivityAt)
}

// takeHandle hands the goal handle to exactly one canceller.
func (s *session) takeHandle() action.GoalHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	h := s.handle
	s.handle = nil
	return h
}

// finish writes the terminal status. Late writers get false and must discard their update.
func (s *session) finish(status Status, err error, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.status = status
	s.err = err
	s.finishedAt = now
	s.handle = nil
	close(s.done)
	return true
}

func (s *session) Done() <-chan struct{} {
	return s.done
}

func (s *session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		GoalID:         s.goalID,
		Status:         s.status,
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActivityAt,
		FinishedAt:     s.finishedAt,
		FeedbackCount:  s.feedbackCount,
		CancelOrigin:   s.signal.Origin(),
		Done:           s.closed,
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}
