// Package fakeaction is a scriptable in-memory action.Client for tests.
package fakeaction

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/actiongate/internal/action"
	"github.com/google/uuid"
)

// Client records every submitted goal. The zero value is not usable; call New.
type Client struct {
	mu          sync.Mutex
	unavailable bool
	gate        chan struct{}
	reject      bool
	submitErr   error
	cancelErr   error
	goals       []*Goal

	submitted chan *Goal
	probes    atomic.Int64
}

var _ action.Client = (*Client)(nil)

func New() *Client {
	return &Client{submitted: make(chan *Goal, 64)}
}

// SetUnavailable makes WaitAvailable block until its context ends.
func (c *Client) SetUnavailable(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unavailable = v
}

// HoldAvailability blocks WaitAvailable until the returned release func runs.
func (c *Client) HoldAvailability() (release func()) {
	gate := make(chan struct{})
	c.mu.Lock()
	c.gate = gate
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() { close(gate) })
	}
}

func (c *Client) SetReject(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reject = v
}

func (c *Client) SetSubmitError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitErr = err
}

// SetCancelError makes every later handle Cancel return err.
func (c *Client) SetCancelError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelErr = err
}

// Submitted yields each accepted goal in submission order.
func (c *Client) Submitted() <-chan *Goal {
	return c.submitted
}

func (c *Client) Goals() []*Goal {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Goal, len(c.goals))
	copy(out, c.goals)
	return out
}

// TotalCancels sums protocol cancels across all goals.
func (c *Client) TotalCancels() int64 {
	var n int64
	for _, g := range c.Goals() {
		n += g.Cancels()
	}
	return n
}

func (c *Client) Probes() int64 {
	return c.probes.Load()
}

func (c *Client) WaitAvailable(ctx context.Context) error {
	c.probes.Add(1)
	c.mu.Lock()
	unavailable, gate := c.unavailable, c.gate
	c.mu.Unlock()
	if unavailable {
		<-ctx.Done()
		return ctx.Err()
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Client) SendGoal(ctx context.Context, goal action.Goal) (action.Submission, error) {
	if err := ctx.Err(); err != nil {
		return action.Submission{}, err
	}
	c.mu.Lock()
	reject, submitErr := c.reject, c.submitErr
	c.mu.Unlock()
	if submitErr != nil {
		return action.Submission{}, submitErr
	}
	if reject {
		return action.Submission{}, action.ErrGoalRejected
	}
	g := &Goal{
		Goal:     goal,
		client:   c,
		feedback: make(chan action.Feedback, 64),
		result:   make(chan action.Outcome, 1),
	}
	c.mu.Lock()
	c.goals = append(c.goals, g)
	c.mu.Unlock()
	c.submitted <- g
	return action.Submission{Handle: g, Result: g.result, Feedback: g.feedback}, nil
}

// Goal is one accepted goal; tests drive its feedback and result.
type Goal struct {
	Goal action.Goal

	client   *Client
	feedback chan action.Feedback
	result   chan action.Outcome
	cancels  atomic.Int64

	mu    sync.Mutex
	ended bool
}

var _ action.GoalHandle = (*Goal)(nil)

func (g *Goal) ID() uuid.UUID {
	return g.Goal.ID
}

func (g *Goal) Cancel(ctx context.Context) error {
	g.cancels.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	g.client.mu.Lock()
	err := g.client.cancelErr
	g.client.mu.Unlock()
	return err
}

func (g *Goal) Cancels() int64 {
	return g.cancels.Load()
}

// SendFeedback emits one executing feedback message.
func (g *Goal) SendFeedback() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ended {
		return
	}
	select {
	case g.feedback <- action.Feedback{GoalID: g.Goal.ID, Stamp: time.Now(), Status: action.GoalExecuting}:
	default:
	}
}

// Finish delivers the terminal result. Only the first Finish or Fail counts.
func (g *Goal) Finish(status action.GoalStatus, code uint32) {
	g.end(action.Outcome{Result: action.Result{GoalID: g.Goal.ID, Status: status, ErrorCode: code}})
}

func (g *Goal) Fail(err error) {
	g.end(action.Outcome{Err: err})
}

func (g *Goal) end(out action.Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ended {
		return
	}
	g.ended = true
	g.result <- out
	close(g.feedback)
}
