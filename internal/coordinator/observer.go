package coordinator

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventKind names one goal lifecycle event.
type EventKind string

const (
	EventDispatch        EventKind = "dispatch"
	EventUnavailable     EventKind = "unavailable"
	EventRejected        EventKind = "rejected"
	EventAccepted        EventKind = "accepted"
	EventFeedback        EventKind = "feedback"
	EventWatchdogFired   EventKind = "watchdog_fired"
	EventCancelRequested EventKind = "cancel_requested"
	EventCancelAcked     EventKind = "cancel_acked"
	EventCancelFailed    EventKind = "cancel_failed"
	EventFinished        EventKind = "finished"
)

// Event is one structured goal lifecycle record.
type Event struct {
	Kind   EventKind
	GoalID uuid.UUID
	Status Status
	Origin Origin
	// Idle is the feedback gap seen by the watchdog when it fired.
	Idle time.Duration
	Err  error
	At   time.Time
}

// Observer receives lifecycle events synchronously from coordinator goroutines.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	Observe(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Observe(ev Event) {
	f(ev)
}

type multiObserver []Observer

func (m multiObserver) Observe(ev Event) {
	for _, o := range m {
		o.Observe(ev)
	}
}

// Observers fans every event out to each non-nil observer in order.
func Observers(list ...Observer) Observer {
	out := make(multiObserver, 0, len(list))
	for _, o := range list {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

// LogObserver writes events to a zerolog logger.
type LogObserver struct {
	Logger zerolog.Logger
}

func NewLogObserver(logger zerolog.Logger) LogObserver {
	return LogObserver{Logger: logger.With().Str("component", "coordinator").Logger()}
}

func (o LogObserver) Observe(ev Event) {
	var e *zerolog.Event
	switch ev.Kind {
	case EventFeedback:
		e = o.Logger.Debug()
	case EventUnavailable, EventRejected, EventWatchdogFired, EventCancelFailed:
		e = o.Logger.Warn()
	case EventFinished:
		if ev.Status == StatusSucceeded || ev.Status == StatusCanceled {
			e = o.Logger.Info()
		} else {
			e = o.Logger.Warn()
		}
	default:
		e = o.Logger.Info()
	}
	if ev.GoalID != uuid.Nil {
		e = e.Str("goal_id", ev.GoalID.String())
	}
	if ev.Status != "" {
		e = e.Str("status", string(ev.Status))
	}
	if ev.Origin != OriginNone {
		e = e.Str("origin", string(ev.Origin))
	}
	if ev.Idle > 0 {
		e = e.Dur("idle", ev.Idle)
	}
	if ev.Err != nil {
		e = e.Err(ev.Err)
	}
	e.Msg("coordinator." + string(ev.Kind))
}
