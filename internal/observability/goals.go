package observability

import (
	"sync"

	"github.com/danmuck/actiongate/internal/coordinator"
	"github.com/google/uuid"
)

// GoalMetrics turns coordinator events into prometheus series.
type GoalMetrics struct {
	mu     sync.Mutex
	active map[uuid.UUID]struct{}
}

var _ coordinator.Observer = (*GoalMetrics)(nil)

func NewGoalMetrics() *GoalMetrics {
	RegisterMetrics()
	return &GoalMetrics{active: make(map[uuid.UUID]struct{})}
}

func (m *GoalMetrics) Observe(ev coordinator.Event) {
	switch ev.Kind {
	case coordinator.EventUnavailable:
		goalDispatchFailures.WithLabelValues("unavailable").Inc()
	case coordinator.EventRejected:
		goalDispatchFailures.WithLabelValues("rejected").Inc()
		goalOutcomes.WithLabelValues(string(coordinator.StatusRejected)).Inc()
	case coordinator.EventAccepted:
		m.mu.Lock()
		if _, ok := m.active[ev.GoalID]; !ok {
			m.active[ev.GoalID] = struct{}{}
			goalsActive.Inc()
		}
		m.mu.Unlock()
	case coordinator.EventFeedback:
		goalFeedback.Inc()
	case coordinator.EventWatchdogFired:
		watchdogFires.Inc()
	case coordinator.EventCancelAcked:
		goalCancels.WithLabelValues(string(ev.Origin), "acked").Inc()
	case coordinator.EventCancelFailed:
		goalCancels.WithLabelValues(string(ev.Origin), "failed").Inc()
	case coordinator.EventFinished:
		goalOutcomes.WithLabelValues(string(ev.Status)).Inc()
		m.mu.Lock()
		if _, ok := m.active[ev.GoalID]; ok {
			delete(m.active, ev.GoalID)
			goalsActive.Dec()
		}
		m.mu.Unlock()
	}
}
