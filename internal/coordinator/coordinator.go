package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/actiongate/internal/action"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/danmuck/actiongate/internal/coordinator"

// Coordinator owns the single goal session slot. A second SendGoal while the
// slot is occupied fails with ErrGoalInFlight.
type Coordinator struct {
	client   action.Client
	cfg      Config
	clock    action.Clock
	now      func() time.Time
	observer Observer
	tracer   trace.Tracer

	mu      sync.Mutex
	current *session
	last    *session

	// wg joins supervision sets and background cancels.
	wg sync.WaitGroup
}

type Option func(*Coordinator)

func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithStampClock sets the clock used for goal header stamps.
func WithStampClock(clock action.Clock) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

func New(client action.Client, cfg Config, opts ...Option) (*Coordinator, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: nil action client", ErrInvalidConfig)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Coordinator{
		client:   client,
		cfg:      cfg,
		clock:    action.SystemClock,
		now:      time.Now,
		observer: NewLogObserver(log.Logger),
		tracer:   otel.Tracer(tracerName),
	}
	if clock, ok := client.(action.Clock); ok {
		c.clock = clock
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Coordinator) Config() Config {
	return c.cfg
}

// SendGoal dispatches one goal and returns once it is accepted. Goal progress
// is observed through Current, Last and the Observer.
func (c *Coordinator) SendGoal(ctx context.Context) (Snapshot, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.SendGoal")
	defer span.End()

	s, err := c.reserve()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Snapshot{}, err
	}
	c.emit(Event{Kind: EventDispatch})

	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	err = c.client.WaitAvailable(probeCtx)
	cancel()
	if err != nil {
		c.release(s, false)
		err = fmt.Errorf("%w: %v", ErrActuatorUnavailable, err)
		c.emit(Event{Kind: EventUnavailable, Err: err})
		span.RecordError(err)
		span.SetStatus(codes.Error, "actuator unavailable")
		return Snapshot{}, err
	}

	goal := action.NewTrajectoryGoal(c.clock.Now())
	s.setGoal(goal.ID)
	span.SetAttributes(attribute.String("goal.id", goal.ID.String()))

	sub, err := c.client.SendGoal(ctx, goal)
	if err != nil {
		status := StatusAborted
		kind := EventFinished
		if errors.Is(err, action.ErrGoalRejected) {
			status, kind, err = StatusRejected, EventRejected, ErrGoalRejected
		} else {
			err = &ProtocolError{Op: OpSubmit, GoalID: goal.ID, Err: err}
		}
		s.finish(status, err, c.now())
		c.release(s, true)
		c.emit(Event{Kind: kind, GoalID: goal.ID, Status: status, Err: err})
		span.RecordError(err)
		span.SetStatus(codes.Error, string(status))
		return s.snapshot(), err
	}

	if !s.install(sub.Handle, c.now()) {
		// Only reachable if the slot was torn down while dispatching.
		err := &ProtocolError{Op: OpSubmit, GoalID: goal.ID, Err: errors.New("session closed before acceptance")}
		c.release(s, true)
		c.cancelInBackground(goal.ID, sub.Handle, OriginNone)
		return s.snapshot(), err
	}
	c.emit(Event{Kind: EventAccepted, GoalID: goal.ID, Status: StatusAccepted})
	span.SetAttributes(attribute.String("goal.status", string(StatusAccepted)))

	c.wg.Add(1)
	go c.supervise(s, sub)
	return s.snapshot(), nil
}

// CancelGoal takes the in-flight goal out of the slot and asks the actuator to
// cancel it. The returned channel yields one value: nil on acknowledgment,
// ErrGoalAlreadyTerminal when the goal's result was recorded first, or a
// *ProtocolError.
func (c *Coordinator) CancelGoal(ctx context.Context) (<-chan error, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.CancelGoal")
	defer span.End()

	c.mu.Lock()
	s := c.current
	var h action.GoalHandle
	if s != nil {
		h = s.takeHandle()
	}
	if h == nil {
		c.mu.Unlock()
		span.SetStatus(codes.Error, ErrNoValidGoalExists.Error())
		return nil, ErrNoValidGoalExists
	}
	c.current = nil
	c.last = s
	c.mu.Unlock()

	goalID := s.GoalID()
	span.SetAttributes(attribute.String("goal.id", goalID.String()))
	// Losing the fire to the watchdog leaves the terminal status to it; the
	// handle is still ours, so the protocol cancel goes out from here.
	won := s.signal.Fire(OriginExternal)
	c.emit(Event{Kind: EventCancelRequested, GoalID: goalID, Origin: OriginExternal})

	result := make(chan error, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		result <- c.cancelExternal(ctx, s, h, won)
	}()
	return result, nil
}

func (c *Coordinator) cancelExternal(ctx context.Context, s *session, h action.GoalHandle, won bool) error {
	goalID := s.GoalID()
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CancelTimeout)
	defer cancel()
	err := h.Cancel(cancelCtx)
	if won && errors.Is(err, action.ErrGoalTerminated) {
		// The actuator finished the goal first. Its result is in flight.
		grace := time.NewTimer(c.cfg.CancelTimeout)
		select {
		case <-s.Done():
		case <-grace.C:
		}
		grace.Stop()
	}

	status := StatusCanceled
	var perr error
	if err != nil {
		status = StatusAborted
		perr = &ProtocolError{Op: OpCancel, GoalID: goalID, Err: err}
		c.emit(Event{Kind: EventCancelFailed, GoalID: goalID, Origin: OriginExternal, Err: perr})
	} else {
		c.emit(Event{Kind: EventCancelAcked, GoalID: goalID, Origin: OriginExternal})
	}
	if !won {
		return perr
	}
	if s.finish(status, perr, c.now()) {
		c.emit(Event{Kind: EventFinished, GoalID: goalID, Status: status, Origin: OriginExternal, Err: perr})
		return perr
	}
	final := s.snapshot().Status
	if err == nil && final == StatusCanceled {
		// The actuator's canceled result landed before the ack.
		return nil
	}
	return fmt.Errorf("%w: status=%s", ErrGoalAlreadyTerminal, final)
}

// Current returns the session occupying the slot, if any.
func (c *Coordinator) Current() (Snapshot, bool) {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return Snapshot{}, false
	}
	return s.snapshot(), true
}

// Last returns the most recently vacated session, if any.
func (c *Coordinator) Last() (Snapshot, bool) {
	c.mu.Lock()
	s := c.last
	c.mu.Unlock()
	if s == nil {
		return Snapshot{}, false
	}
	return s.snapshot(), true
}

// Wait blocks until every supervision set and background cancel has exited.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Shutdown cancels the in-flight goal, if any, and waits for goroutines to exit or ctx to end.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if ack, err := c.CancelGoal(ctx); err == nil {
		select {
		case <-ack:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) reserve() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return nil, ErrGoalInFlight
	}
	s := newSession(c.now())
	c.current = s
	return s, nil
}

// release clears the slot only if it still holds s. Last never moves back to
// an older session.
func (c *Coordinator) release(s *session, keep bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == s {
		c.current = nil
	}
	if keep && (c.last == nil || !c.last.createdAt.After(s.createdAt)) {
		c.last = s
	}
}

func (c *Coordinator) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = c.now()
	}
	c.observer.Observe(ev)
}
