package coordinator

import (
	"sync"
	"testing"
	"time"

	"github.com/danmuck/actiongate/internal/testutil/fakeaction"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Observe(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(kind EventKind, goalID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind && (goalID == uuid.Nil || ev.GoalID == goalID) {
			n++
		}
	}
	return n
}

func (r *recorder) first(kind EventKind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return Event{}, false
}

// fastConfig scales the production policy down by ten, keeping the 100ms poll floor.
func fastConfig() Config {
	return Config{
		ConnectTimeout: 300 * time.Millisecond,
		PollInterval:   MinPollInterval,
		StaleAfter:     time.Second,
		CancelTimeout:  time.Second,
	}
}

func newTestCoordinator(t *testing.T, cfg Config) (*Coordinator, *fakeaction.Client, *recorder) {
	t.Helper()
	client := fakeaction.New()
	rec := &recorder{}
	c, err := New(client, cfg, WithObserver(rec))
	require.NoError(t, err)
	t.Cleanup(c.Wait)
	return c, client, rec
}

func nextGoal(t *testing.T, client *fakeaction.Client) *fakeaction.Goal {
	t.Helper()
	select {
	case g := <-client.Submitted():
		return g
	case <-time.After(2 * time.Second):
		t.Fatalf("no goal submitted")
		return nil
	}
}

// waitFinished blocks until the slot is empty and the last session is done.
func waitFinished(t *testing.T, c *Coordinator, within time.Duration) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		if _, busy := c.Current(); busy {
			return false
		}
		last, ok := c.Last()
		snap = last
		return ok && last.Done
	}, within, 10*time.Millisecond)
	return snap
}
