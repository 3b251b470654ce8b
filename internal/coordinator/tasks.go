package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/actiongate/internal/action"
	"github.com/google/uuid"
)

// supervise runs the monitor, await and watchdog tasks for one accepted goal
// and clears the slot once all three have exited.
func (c *Coordinator) supervise(s *session, sub action.Submission) {
	defer c.wg.Done()
	var tasks sync.WaitGroup
	tasks.Add(3)
	go func() {
		defer tasks.Done()
		c.monitorFeedback(s, sub.Feedback)
	}()
	go func() {
		defer tasks.Done()
		c.awaitResult(s, sub.Result)
	}()
	go func() {
		defer tasks.Done()
		c.watch(s)
	}()
	tasks.Wait()
	c.release(s, true)
}

func (c *Coordinator) monitorFeedback(s *session, feedback <-chan action.Feedback) {
	for {
		select {
		case <-s.signal.Done():
			return
		case <-s.Done():
			return
		case fb, ok := <-feedback:
			if !ok {
				return
			}
			if s.touch(c.now()) {
				c.emit(Event{Kind: EventFeedback, GoalID: fb.GoalID, Status: StatusActive})
			}
		}
	}
}

// awaitResult writes the natural terminal status. A received outcome always goes
// through the done gate, even after the signal has fired, so a result that lands
// ahead of a cancel decision keeps its status.
func (c *Coordinator) awaitResult(s *session, results <-chan action.Outcome) {
	var out action.Outcome
	select {
	case <-s.Done():
		return
	case o, ok := <-results:
		if !ok {
			o = action.Outcome{Err: action.ErrConnectionLost}
		}
		out = o
	}
	goalID := s.GoalID()
	status, err := classifyOutcome(goalID, out)
	if s.finish(status, err, c.now()) {
		c.emit(Event{Kind: EventFinished, GoalID: goalID, Status: status, Err: err})
	}
}

func classifyOutcome(goalID uuid.UUID, out action.Outcome) (Status, error) {
	if out.Err != nil {
		return StatusAborted, &ProtocolError{Op: OpResult, GoalID: goalID, Err: out.Err}
	}
	switch {
	case out.Result.Succeeded():
		return StatusSucceeded, nil
	case out.Result.Status == action.GoalCanceled:
		return StatusCanceled, nil
	default:
		return StatusAborted, fmt.Errorf("coordinator: goal ended status=%s error_code=%d message=%q",
			out.Result.Status, out.Result.ErrorCode, out.Result.Message)
	}
}

// watch cancels the goal when feedback has been silent for StaleAfter.
func (c *Coordinator) watch(s *session) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.Done():
			return
		case <-s.signal.Done():
			return
		case <-ticker.C:
		}
		idle := s.idle(c.now())
		if idle < c.cfg.StaleAfter {
			continue
		}
		if !s.signal.Fire(OriginWatchdog) {
			return
		}
		goalID := s.GoalID()
		c.emit(Event{Kind: EventWatchdogFired, GoalID: goalID, Origin: OriginWatchdog, Idle: idle})
		if h := s.takeHandle(); h != nil {
			c.cancelInBackground(goalID, h, OriginWatchdog)
		}
		if s.finish(StatusTimedOut, ErrTimedOut, c.now()) {
			c.emit(Event{Kind: EventFinished, GoalID: goalID, Status: StatusTimedOut, Origin: OriginWatchdog, Err: ErrTimedOut})
		}
		return
	}
}

func (c *Coordinator) cancelInBackground(goalID uuid.UUID, h action.GoalHandle, origin Origin) {
	c.emit(Event{Kind: EventCancelRequested, GoalID: goalID, Origin: origin})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CancelTimeout)
		defer cancel()
		if err := h.Cancel(ctx); err != nil {
			c.emit(Event{
				Kind:   EventCancelFailed,
				GoalID: goalID,
				Origin: origin,
				Err:    &ProtocolError{Op: OpCancel, GoalID: goalID, Err: err},
			})
			return
		}
		c.emit(Event{Kind: EventCancelAcked, GoalID: goalID, Origin: origin})
	}()
}
