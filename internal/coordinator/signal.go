package coordinator

import "sync"

// Origin records who fired a session's cancel signal.
type Origin string

const (
	OriginNone     Origin = ""
	OriginWatchdog Origin = "watchdog"
	OriginExternal Origin = "external"
)

// cancelSignal is a one-shot broadcast. The first Fire wins and closes Done.
type cancelSignal struct {
	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	origin Origin
}

func newCancelSignal() *cancelSignal {
	return &cancelSignal{done: make(chan struct{})}
}

// Fire reports true only for the caller that actually fired the signal.
func (s *cancelSignal) Fire(origin Origin) bool {
	fired := false
	s.once.Do(func() {
		s.mu.Lock()
		s.origin = origin
		s.mu.Unlock()
		close(s.done)
		fired = true
	})
	return fired
}

func (s *cancelSignal) Done() <-chan struct{} {
	return s.done
}

func (s *cancelSignal) Fired() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *cancelSignal) Origin() Origin {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.origin
}
