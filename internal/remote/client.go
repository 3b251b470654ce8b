package remote

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/actiongate/internal/action"
	"github.com/danmuck/actiongate/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

var (
	ErrAddressRequired = errors.New("remote: actuator address required")
	ErrActionMismatch  = errors.New("remote: action server does not serve requested action")
	ErrNotConnected    = errors.New("remote: not connected")
	ErrRequestTimeout  = errors.New("remote: request timeout")
	ErrUnexpectedReply = errors.New("remote: unexpected reply")
)

type Config struct {
	Address    string
	PeerID     string
	ActionName string
	Wire       wire.Config
}

func DefaultConfig() Config {
	return Config{
		PeerID:     "actiongate",
		ActionName: action.DefaultActionName,
		Wire:       wire.DefaultConfig(),
	}
}

// Client is the TCP action client for one actuator. It reconnects lazily:
// the first call after a lost link dials again.
type Client struct {
	cfg Config

	rngMu sync.Mutex
	rng   *rand.Rand

	mu   sync.Mutex
	link *link

	// clockOffset is server time minus local time measured at the last handshake.
	clockOffset atomic.Int64
}

var (
	_ action.Client = (*Client)(nil)
	_ action.Clock  = (*Client)(nil)
)

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	def := DefaultConfig()
	if strings.TrimSpace(cfg.PeerID) == "" {
		cfg.PeerID = def.PeerID
	}
	if strings.TrimSpace(cfg.ActionName) == "" {
		cfg.ActionName = def.ActionName
	}
	cfg.Wire = cfg.Wire.WithDefaults()
	return &Client{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (c *Client) Address() string {
	return c.cfg.Address
}

// WaitAvailable dials and handshakes until it succeeds or ctx ends.
func (c *Client) WaitAvailable(ctx context.Context) error {
	var attempt int
	for {
		attempt++
		_, err := c.ensureLink(ctx)
		if err == nil {
			return nil
		}
		log.Debug().Err(err).Int("attempt", attempt).Str("addr", c.cfg.Address).Msg("remote.Client wait available")
		if errors.Is(err, ErrActionMismatch) {
			return err
		}
		if err := c.sleepBackoff(ctx, attempt); err != nil {
			return err
		}
	}
}

// Connected reports whether a live link exists right now.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link != nil && !c.link.isClosed()
}

// Now returns local time shifted by the measured server clock offset.
func (c *Client) Now() time.Time {
	return time.Now().Add(time.Duration(c.clockOffset.Load()))
}

// SendGoal submits goal and blocks until the server accepts or rejects it.
func (c *Client) SendGoal(ctx context.Context, goal action.Goal) (action.Submission, error) {
	l, err := c.ensureLink(ctx)
	if err != nil {
		return action.Submission{}, err
	}
	goalID := goal.ID.String()
	stream := l.openStream(goalID, c.cfg.Wire.FeedbackBuffer)

	reply, err := l.request(ctx, wire.GoalRequest{
		GoalID:     goalID,
		ActionName: c.cfg.ActionName,
		StampNS:    wire.TimeToNS(goal.Trajectory.Header.Stamp),
		FrameID:    goal.Trajectory.Header.FrameID,
		JointNames: goal.Trajectory.JointNames,
		PointCount: uint32(len(goal.Trajectory.Points)),
	})
	if err != nil {
		l.dropStream(goalID)
		return action.Submission{}, err
	}
	resp, ok := reply.(wire.GoalResponse)
	if !ok || resp.GoalID != goalID {
		l.dropStream(goalID)
		return action.Submission{}, fmt.Errorf("%w: %T for goal.request", ErrUnexpectedReply, reply)
	}
	if !resp.Accepted {
		l.dropStream(goalID)
		return action.Submission{}, action.ErrGoalRejected
	}
	log.Debug().Str("goal_id", goalID).Msg("remote.Client goal accepted")
	return action.Submission{
		Handle:   &goalHandle{id: goal.ID, link: l},
		Result:   stream.result,
		Feedback: stream.feedback,
	}, nil
}

// Publish sends one topic message. Publishing is fire-and-forget on the wire.
func (c *Client) Publish(ctx context.Context, topic, data string) error {
	l, err := c.ensureLink(ctx)
	if err != nil {
		return err
	}
	return l.write(ctx, l.nextID(), wire.Publish{Topic: topic, Data: data})
}

func (c *Client) Close() error {
	c.mu.Lock()
	l := c.link
	c.link = nil
	c.mu.Unlock()
	if l == nil {
		return nil
	}
	l.close(ErrNotConnected)
	return nil
}

func (c *Client) ensureLink(ctx context.Context) (*link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link != nil && !c.link.isClosed() {
		return c.link, nil
	}
	c.link = nil
	l, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	c.link = l
	return l, nil
}

func (c *Client) connect(ctx context.Context) (*link, error) {
	dialer := net.Dialer{Timeout: c.cfg.Wire.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		return nil, err
	}
	reader := bufio.NewReader(conn)
	if err := c.handshake(ctx, conn, reader); err != nil {
		_ = conn.Close()
		return nil, err
	}
	l := newLink(conn, reader, c.cfg.Wire)
	go l.readLoop()
	log.Info().Str("addr", c.cfg.Address).Msg("remote.Client connected")
	return l, nil
}

func (c *Client) handshake(ctx context.Context, conn net.Conn, reader *bufio.Reader) error {
	deadline := time.Now().Add(c.cfg.Wire.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	defer conn.SetDeadline(time.Time{})

	sentAt := time.Now()
	if err := wire.WriteMessage(conn, 1, wire.Hello{PeerID: c.cfg.PeerID}, false); err != nil {
		return err
	}
	fr, msg, err := wire.ReadMessage(reader)
	if err != nil {
		return err
	}
	recvAt := time.Now()
	ack, ok := msg.(wire.HelloAck)
	if !ok || fr.Header.MessageID != 1 {
		return fmt.Errorf("%w: %T for hello", ErrUnexpectedReply, msg)
	}
	if ack.ActionName != c.cfg.ActionName {
		return fmt.Errorf("%w: server=%q want=%q", ErrActionMismatch, ack.ActionName, c.cfg.ActionName)
	}
	midpoint := sentAt.Add(recvAt.Sub(sentAt) / 2)
	if server := wire.TimeFromNS(ack.TimestampNS); !server.IsZero() {
		c.clockOffset.Store(int64(server.Sub(midpoint)))
	}
	log.Debug().
		Str("server_id", ack.PeerID).
		Dur("clock_offset", time.Duration(c.clockOffset.Load())).
		Msg("remote.Client handshake")
	return nil
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	c.rngMu.Lock()
	delay := wire.NextBackoffDelay(c.cfg.Wire.Backoff, attempt, c.rng)
	c.rngMu.Unlock()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
