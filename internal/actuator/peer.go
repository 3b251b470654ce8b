package actuator

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/danmuck/actiongate/internal/action"
	"github.com/danmuck/actiongate/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

// peer is one client connection and the goals it started.
type peer struct {
	svc  *Service
	conn net.Conn
	ctx  context.Context

	writeMu sync.Mutex
	greeted bool

	mu       sync.Mutex
	running  map[string]*goalRun
	finished map[string]struct{}
	// retired holds finished goal IDs oldest first.
	retired  []string
	wg       sync.WaitGroup
}

// maxFinishedGoals bounds how many ended goals a connection remembers for
// CancelTerminated replies. Older IDs answer CancelUnknown.
const maxFinishedGoals = 256

type goalRun struct {
	id     string
	cancel chan struct{}
	once   sync.Once
}

func (g *goalRun) requestCancel() {
	g.once.Do(func() { close(g.cancel) })
}

func (p *peer) send(messageID uint64, msg wire.Message, response bool) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(p.svc.cfg.WriteTimeout))
	err := wire.WriteMessage(p.conn, messageID, msg, response)
	if err != nil {
		log.Debug().Err(err).Uint32("message_type", msg.MessageType()).Msg("actuator.peer send")
	}
	return err
}

func (p *peer) handleHello(id uint64, m wire.Hello) {
	p.greeted = true
	log.Info().Str("peer_id", m.PeerID).Str("remote", p.conn.RemoteAddr().String()).Msg("actuator.peer hello")
	_ = p.send(id, wire.HelloAck{
		PeerID:      p.svc.cfg.ServerID,
		ActionName:  p.svc.cfg.ActionName,
		TimestampNS: wire.TimeToNS(time.Now()),
	}, true)
}

func (p *peer) handleGoal(id uint64, m wire.GoalRequest) {
	cfg := p.svc.cfg
	if m.ActionName != cfg.ActionName {
		_ = p.send(id, wire.Error{Code: CodeUnknownAction, Message: "unknown action " + m.ActionName}, true)
		return
	}
	accepted := !cfg.RejectGoals && len(m.JointNames) > 0
	if accepted {
		p.mu.Lock()
		if _, dup := p.running[m.GoalID]; dup {
			accepted = false
		}
		p.mu.Unlock()
	}
	if !accepted {
		p.svc.goalsRejected.Add(1)
		log.Warn().Str("goal_id", m.GoalID).Int("joints", len(m.JointNames)).Msg("actuator.goal rejected")
		_ = p.send(id, wire.GoalResponse{GoalID: m.GoalID, Accepted: false, TimestampNS: wire.TimeToNS(time.Now())}, true)
		return
	}

	run := &goalRun{id: m.GoalID, cancel: make(chan struct{})}
	p.mu.Lock()
	p.running[m.GoalID] = run
	p.mu.Unlock()
	p.svc.goalsAccepted.Add(1)
	log.Info().
		Str("goal_id", m.GoalID).
		Strs("joints", m.JointNames).
		Uint32("points", m.PointCount).
		Msg("actuator.goal accepted")

	// The acceptance must reach the client before any feedback for the goal.
	if err := p.send(id, wire.GoalResponse{GoalID: m.GoalID, Accepted: true, TimestampNS: wire.TimeToNS(time.Now())}, true); err != nil {
		p.retire(m.GoalID)
		return
	}
	p.wg.Add(1)
	go p.execute(run)
}

func (p *peer) handleCancel(id uint64, m wire.CancelRequest) {
	p.svc.cancels.Add(1)
	p.mu.Lock()
	run, running := p.running[m.GoalID]
	_, finished := p.finished[m.GoalID]
	p.mu.Unlock()

	code := action.CancelOK
	switch {
	case running:
		run.requestCancel()
	case finished:
		code = action.CancelTerminated
	default:
		code = action.CancelUnknown
	}
	log.Info().Str("goal_id", m.GoalID).Uint32("return_code", code).Msg("actuator.cancel")
	_ = p.send(id, wire.CancelResponse{GoalID: m.GoalID, ReturnCode: code}, true)
}

// execute drives one goal until it completes, is canceled, or the connection ends.
func (p *peer) execute(run *goalRun) {
	defer p.wg.Done()
	defer p.retire(run.id)
	cfg := p.svc.cfg

	ticker := time.NewTicker(cfg.FeedbackInterval)
	defer ticker.Stop()
	var deadline <-chan time.Time
	if cfg.GoalDuration > 0 {
		timer := time.NewTimer(cfg.GoalDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	sent := 0
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-run.cancel:
			p.sendResult(run.id, action.GoalCanceled, 0, "canceled by client")
			return
		case <-deadline:
			var code uint32
			if cfg.FinalStatus != action.GoalSucceeded {
				code = 1
			}
			p.sendResult(run.id, cfg.FinalStatus, code, "")
			return
		case <-ticker.C:
			if cfg.StallAfter > 0 && sent >= cfg.StallAfter {
				continue
			}
			err := p.send(0, wire.Feedback{
				GoalID:  run.id,
				StampNS: wire.TimeToNS(time.Now()),
				Status:  string(action.GoalExecuting),
			}, false)
			if err != nil {
				return
			}
			sent++
			p.svc.feedback.Add(1)
			if sent == cfg.StallAfter {
				log.Warn().Str("goal_id", run.id).Int("sent", sent).Msg("actuator.goal feedback stalled")
			}
		}
	}
}

func (p *peer) sendResult(goalID string, status action.GoalStatus, code uint32, message string) {
	log.Info().Str("goal_id", goalID).Str("status", string(status)).Uint32("error_code", code).Msg("actuator.goal result")
	_ = p.send(0, wire.Result{GoalID: goalID, Status: string(status), ErrorCode: code, Message: message}, false)
}

func (p *peer) retire(goalID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, goalID)
	if _, ok := p.finished[goalID]; ok {
		return
	}
	p.finished[goalID] = struct{}{}
	p.retired = append(p.retired, goalID)
	if len(p.retired) > maxFinishedGoals {
		delete(p.finished, p.retired[0])
		p.retired = p.retired[1:]
	}
}
