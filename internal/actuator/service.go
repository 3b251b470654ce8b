package actuator

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/actiongate/internal/action"
	"github.com/danmuck/actiongate/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

// Error codes carried by wire.Error replies.
const (
	CodeBadRequest      uint32 = 1
	CodeUnexpectedType  uint32 = 2
	CodeUnknownAction   uint32 = 3
	CodeHandshakeNeeded uint32 = 4
)

// ServiceConfig configures the simulated action server.
type ServiceConfig struct {
	ListenAddr string
	ServerID   string
	ActionName string
	// FeedbackInterval is the period between feedback messages for one goal.
	FeedbackInterval time.Duration
	// GoalDuration is how long a goal executes before its result is sent. Zero runs until canceled.
	GoalDuration time.Duration
	// StallAfter stops feedback after N messages while the goal keeps running. Zero never stalls.
	StallAfter int
	// RejectGoals answers every goal request with accepted=false.
	RejectGoals bool
	// FinalStatus is reported when GoalDuration elapses.
	FinalStatus  action.GoalStatus
	WriteTimeout time.Duration
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:       ":9100",
		ServerID:         "actuator.local",
		ActionName:       action.DefaultActionName,
		FeedbackInterval: 100 * time.Millisecond,
		GoalDuration:     2 * time.Second,
		FinalStatus:      action.GoalSucceeded,
		WriteTimeout:     2 * time.Second,
	}
}

// PublishedMessage is one topic message received from a client.
type PublishedMessage struct {
	Topic      string
	Data       string
	ReceivedAt time.Time
}

// Stats counts what the server observed across all connections.
type Stats struct {
	Connections   int64
	GoalsAccepted int64
	GoalsRejected int64
	Cancels       int64
	Feedback      int64
}

// Service accepts gateway connections and runs goals on a simulated controller.
type Service struct {
	cfg ServiceConfig

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	pubMu     sync.Mutex
	published []PublishedMessage

	clientCount   atomic.Int64
	goalsAccepted atomic.Int64
	goalsRejected atomic.Int64
	cancels       atomic.Int64
	feedback      atomic.Int64
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	def := DefaultServiceConfig()
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if strings.TrimSpace(cfg.ServerID) == "" {
		cfg.ServerID = def.ServerID
	}
	if strings.TrimSpace(cfg.ActionName) == "" {
		cfg.ActionName = def.ActionName
	}
	if cfg.FeedbackInterval <= 0 {
		cfg.FeedbackInterval = def.FeedbackInterval
	}
	if cfg.FinalStatus == "" {
		cfg.FinalStatus = def.FinalStatus
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &Service{
		cfg:   cfg,
		conns: make(map[net.Conn]struct{}),
	}
}

func (s *Service) Config() ServiceConfig {
	return s.cfg
}

// Run listens on the configured address and blocks until SIGINT/SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	log.Warn().
		Str("addr", ln.Addr().String()).
		Str("action", s.cfg.ActionName).
		Msg("actuator.Service.Run listening")
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on an existing listener until ctx ends.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.trackConn(conn)
		go s.handleConn(ctx, conn)
	}
}

// Published returns a copy of every topic message received so far.
func (s *Service) Published() []PublishedMessage {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	out := make([]PublishedMessage, len(s.published))
	copy(out, s.published)
	return out
}

func (s *Service) Stats() Stats {
	return Stats{
		Connections:   s.clientCount.Load(),
		GoalsAccepted: s.goalsAccepted.Load(),
		GoalsRejected: s.goalsRejected.Load(),
		Cancels:       s.cancels.Load(),
		Feedback:      s.feedback.Load(),
	}
}

// CloseConnections drops every client link without stopping the listener.
func (s *Service) CloseConnections() {
	s.closeAllConns()
}

func (s *Service) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer s.untrackConn(conn)
	remote := conn.RemoteAddr().String()
	active := s.clientCount.Add(1)
	log.Info().Str("remote", remote).Int64("active_clients", active).Msg("actuator.session client connected")
	defer func() {
		remaining := s.clientCount.Add(-1)
		log.Info().Str("remote", remote).Int64("active_clients", remaining).Msg("actuator.session client disconnected")
	}()

	connCtx, cancel := context.WithCancel(ctx)
	p := &peer{
		svc:      s,
		conn:     conn,
		ctx:      connCtx,
		running:  make(map[string]*goalRun),
		finished: make(map[string]struct{}),
	}
	defer p.wg.Wait()
	defer cancel()

	reader := bufio.NewReader(conn)
	for {
		fr, msg, err := wire.ReadMessage(reader)
		if err != nil {
			if fr.Header.MessageID != 0 {
				log.Warn().Err(err).Str("remote", remote).Msg("actuator.handleConn decode")
				_ = p.send(fr.Header.MessageID, wire.Error{Code: CodeBadRequest, Message: err.Error()}, true)
				continue
			}
			return
		}
		id := fr.Header.MessageID
		switch m := msg.(type) {
		case wire.Hello:
			p.handleHello(id, m)
		case wire.GoalRequest:
			if !p.greeted {
				_ = p.send(id, wire.Error{Code: CodeHandshakeNeeded, Message: "hello required"}, true)
				continue
			}
			p.handleGoal(id, m)
		case wire.CancelRequest:
			p.handleCancel(id, m)
		case wire.Publish:
			s.recordPublish(m)
		default:
			log.Warn().
				Uint32("message_type", msg.MessageType()).
				Str("remote", remote).
				Msg("actuator.handleConn unexpected message_type")
			_ = p.send(id, wire.Error{Code: CodeUnexpectedType, Message: "unexpected message type"}, true)
		}
	}
}

func (s *Service) recordPublish(m wire.Publish) {
	s.pubMu.Lock()
	s.published = append(s.published, PublishedMessage{Topic: m.Topic, Data: m.Data, ReceivedAt: time.Now()})
	s.pubMu.Unlock()
	log.Info().Str("topic", m.Topic).Str("data", m.Data).Msg("actuator.publish received")
}

func (s *Service) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Service) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *Service) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}
