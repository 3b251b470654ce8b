package remote

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/actiongate/internal/action"
	"github.com/danmuck/actiongate/internal/protocol/wire"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// link is one handshaken connection. A single read loop owns the reader and
// routes responses by message id and goal traffic by goal id.
type link struct {
	conn   net.Conn
	reader *bufio.Reader
	cfg    wire.Config

	writeMu sync.Mutex
	msgID   atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan wire.Message
	streams map[string]*goalStream

	closed    chan struct{}
	closeOnce sync.Once
	err       error
}

type goalStream struct {
	feedback chan action.Feedback
	result   chan action.Outcome
}

func newLink(conn net.Conn, reader *bufio.Reader, cfg wire.Config) *link {
	l := &link{
		conn:    conn,
		reader:  reader,
		cfg:     cfg,
		pending: make(map[uint64]chan wire.Message),
		streams: make(map[string]*goalStream),
		closed:  make(chan struct{}),
	}
	l.msgID.Store(1)
	return l
}

func (l *link) nextID() uint64 {
	return l.msgID.Add(1)
}

func (l *link) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// lostErr returns the cause recorded when the link closed.
func (l *link) lostErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err == nil {
		return action.ErrConnectionLost
	}
	return l.err
}

func (l *link) write(ctx context.Context, id uint64, msg wire.Message) error {
	if l.isClosed() {
		return l.lostErr()
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	deadline := time.Now().Add(l.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = l.conn.SetWriteDeadline(deadline)
	if err := wire.WriteMessage(l.conn, id, msg, false); err != nil {
		var ne net.Error
		if !errors.As(err, &ne) {
			return err
		}
		l.close(fmt.Errorf("%w: %v", action.ErrConnectionLost, err))
		return l.lostErr()
	}
	return nil
}

// request writes msg and waits for the response carrying the same message id.
func (l *link) request(ctx context.Context, msg wire.Message) (wire.Message, error) {
	id := l.nextID()
	ch := make(chan wire.Message, 1)
	l.mu.Lock()
	if l.err != nil {
		l.mu.Unlock()
		return nil, l.err
	}
	l.pending[id] = ch
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.pending, id)
		l.mu.Unlock()
	}()

	if err := l.write(ctx, id, msg); err != nil {
		return nil, err
	}
	timer := time.NewTimer(l.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		if remoteErr, ok := reply.(wire.Error); ok {
			return nil, remoteErr
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: message_type=%d", ErrRequestTimeout, msg.MessageType())
	case <-l.closed:
		return nil, l.lostErr()
	}
}

func (l *link) openStream(goalID string, buffer int) *goalStream {
	s := &goalStream{
		feedback: make(chan action.Feedback, buffer),
		result:   make(chan action.Outcome, 1),
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		s.result <- action.Outcome{Err: l.err}
		close(s.feedback)
		return s
	}
	l.streams[goalID] = s
	return s
}

func (l *link) dropStream(goalID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.streams, goalID)
}

func (l *link) readLoop() {
	for {
		fr, msg, err := wire.ReadMessage(l.reader)
		if err != nil {
			if fr.Header.MessageType != 0 {
				log.Warn().Err(err).Uint32("message_type", fr.Header.MessageType).Msg("remote.link decode")
				if fr.IsResponse() {
					l.deliver(fr.Header.MessageID, wire.Error{Message: err.Error()})
				}
				continue
			}
			l.close(fmt.Errorf("%w: %v", action.ErrConnectionLost, err))
			return
		}
		if fr.IsResponse() {
			l.deliver(fr.Header.MessageID, msg)
			continue
		}
		switch m := msg.(type) {
		case wire.Feedback:
			l.onFeedback(m)
		case wire.Result:
			l.onResult(m)
		case wire.Error:
			log.Warn().Uint32("code", m.Code).Str("message", m.Message).Msg("remote.link server error")
		default:
			log.Warn().Uint32("message_type", msg.MessageType()).Msg("remote.link unexpected message")
		}
	}
}

func (l *link) deliver(id uint64, msg wire.Message) {
	l.mu.Lock()
	ch, ok := l.pending[id]
	delete(l.pending, id)
	l.mu.Unlock()
	if !ok {
		log.Debug().Uint64("message_id", id).Msg("remote.link late response dropped")
		return
	}
	ch <- msg
}

func (l *link) onFeedback(m wire.Feedback) {
	id, err := uuid.Parse(m.GoalID)
	if err != nil {
		log.Warn().Str("goal_id", m.GoalID).Msg("remote.link feedback with invalid goal id")
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.streams[m.GoalID]
	if !ok {
		return
	}
	fb := action.Feedback{GoalID: id, Stamp: wire.TimeFromNS(m.StampNS), Status: action.GoalStatus(m.Status)}
	select {
	case s.feedback <- fb:
	default:
		log.Warn().Str("goal_id", m.GoalID).Msg("remote.link feedback buffer full; dropped")
	}
}

func (l *link) onResult(m wire.Result) {
	l.mu.Lock()
	s, ok := l.streams[m.GoalID]
	delete(l.streams, m.GoalID)
	l.mu.Unlock()
	if !ok {
		return
	}
	id, _ := uuid.Parse(m.GoalID)
	s.result <- action.Outcome{Result: action.Result{
		GoalID:    id,
		Status:    action.GoalStatus(m.Status),
		ErrorCode: m.ErrorCode,
		Message:   m.Message,
	}}
	close(s.feedback)
}

// close tears the link down once and fails every waiter with cause.
func (l *link) close(cause error) {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.err = cause
		streams := l.streams
		l.streams = make(map[string]*goalStream)
		l.mu.Unlock()

		close(l.closed)
		_ = l.conn.Close()
		for goalID, s := range streams {
			log.Warn().Str("goal_id", goalID).Err(cause).Msg("remote.link goal lost with connection")
			s.result <- action.Outcome{Err: cause}
			close(s.feedback)
		}
	})
}

type goalHandle struct {
	id   uuid.UUID
	link *link
}

func (h *goalHandle) ID() uuid.UUID {
	return h.id
}

func (h *goalHandle) Cancel(ctx context.Context) error {
	goalID := h.id.String()
	reply, err := h.link.request(ctx, wire.CancelRequest{GoalID: goalID})
	if err != nil {
		return err
	}
	resp, ok := reply.(wire.CancelResponse)
	if !ok || resp.GoalID != goalID {
		return fmt.Errorf("%w: %T for cancel.request", ErrUnexpectedReply, reply)
	}
	switch resp.ReturnCode {
	case action.CancelOK:
		return nil
	case action.CancelRejected:
		return action.ErrCancelRejected
	case action.CancelUnknown:
		return action.ErrUnknownGoal
	case action.CancelTerminated:
		return action.ErrGoalTerminated
	default:
		return fmt.Errorf("remote: cancel return_code=%d", resp.ReturnCode)
	}
}
