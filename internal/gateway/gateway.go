package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/actiongate/internal/auth"
	"github.com/danmuck/actiongate/internal/coordinator"
	"github.com/danmuck/actiongate/internal/node"
	"github.com/danmuck/actiongate/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// Publisher sends one string message on a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, data string) error
}

// Goals is the goal lifecycle surface the HTTP routes drive.
type Goals interface {
	SendGoal(ctx context.Context) (coordinator.Snapshot, error)
	CancelGoal(ctx context.Context) (<-chan error, error)
	Current() (coordinator.Snapshot, bool)
	Last() (coordinator.Snapshot, bool)
}

// Readiness reports whether the actuator link is up.
type Readiness interface {
	Connected() bool
}

type Gateway struct {
	ID       string    `json:"id"`
	Addr     string    `json:"addr"`
	Appeared time.Time `json:"appeared"`

	publisher  Publisher
	goals      Goals
	readiness  Readiness
	// validator guards the POST routes when set.
	validator  auth.Validator
	// ackTimeout bounds how long /cancel_task waits for the actuator.
	ackTimeout time.Duration

	router *gin.Engine
}

var _ node.Node = (*Gateway)(nil)

type Option func(*Gateway)

func WithReadiness(r Readiness) Option {
	return func(g *Gateway) {
		g.readiness = r
	}
}

func WithAuth(v auth.Validator) Option {
	return func(g *Gateway) {
		g.validator = v
	}
}

func WithAckTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.ackTimeout = d
		}
	}
}

func New(id, addr string, corsOrigins []string, publisher Publisher, goals Goals, opts ...Option) *Gateway {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	g := &Gateway{
		ID:         id,
		Addr:       addr,
		Appeared:   time.Now(),
		publisher:  publisher,
		goals:      goals,
		ackTimeout: 5 * time.Second,
		router:     r,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) NodeID() string {
	return g.ID
}

func (g *Gateway) Kind() string {
	return "gateway"
}

func (g *Gateway) HTTPRouter() *gin.Engine {
	return g.router
}

func (g *Gateway) ready() bool {
	return g.readiness == nil || g.readiness.Connected()
}

func (g *Gateway) requireAuth(c *gin.Context) {
	if g.validator == nil {
		c.Next()
		return
	}
	if err := auth.CheckHeader(g.validator, c.GetHeader("Authorization")); err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.Next()
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	}
	return out
}
