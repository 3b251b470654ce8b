package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/actiongate/internal/action"
	"github.com/danmuck/actiongate/internal/auth"
	"github.com/danmuck/actiongate/internal/coordinator"
	"github.com/danmuck/actiongate/internal/observability"
	"github.com/danmuck/actiongate/internal/protocol/wire"
	"github.com/danmuck/actiongate/internal/remote"
	"github.com/rs/zerolog/log"
)

type ServiceConfig struct {
	ID              string
	ListenAddr      string
	CORSOrigins     []string
	ActuatorAddress string
	ActionName      string
	// AuthToken, when set, is required as a bearer token on POST routes.
	AuthToken       string
	// RequestTimeout bounds actuator requests and the /cancel_task acknowledgment wait.
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	Coordinator     coordinator.Config
	Wire            wire.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ID:              "gateway.local",
		ListenAddr:      ":8080",
		CORSOrigins:     []string{"http://localhost:3000"},
		ActuatorAddress: "127.0.0.1:9100",
		ActionName:      action.DefaultActionName,
		RequestTimeout:  5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Coordinator:     coordinator.DefaultConfig(),
		Wire:            wire.DefaultConfig(),
	}
}

type Service struct {
	cfg ServiceConfig
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	def := DefaultServiceConfig()
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = def.ID
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if strings.TrimSpace(cfg.ActuatorAddress) == "" {
		cfg.ActuatorAddress = def.ActuatorAddress
	}
	if strings.TrimSpace(cfg.ActionName) == "" {
		cfg.ActionName = def.ActionName
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	cfg.Coordinator = cfg.Coordinator.WithDefaults()
	cfg.Wire = cfg.Wire.WithDefaults()
	cfg.Wire.RequestTimeout = cfg.RequestTimeout
	return &Service{cfg: cfg}
}

func (s *Service) Config() ServiceConfig {
	return s.cfg
}

// Run serves HTTP on the configured address until SIGINT/SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve wires the actuator client, coordinator and routes, then serves on ln
// until ctx ends. The in-flight goal is canceled on the way out.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	client, err := remote.NewClient(remote.Config{
		Address:    s.cfg.ActuatorAddress,
		PeerID:     s.cfg.ID,
		ActionName: s.cfg.ActionName,
		Wire:       s.cfg.Wire,
	})
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer client.Close()

	coord, err := coordinator.New(client, s.cfg.Coordinator,
		coordinator.WithObserver(coordinator.Observers(
			coordinator.NewLogObserver(log.Logger),
			observability.NewGoalMetrics(),
		)),
	)
	if err != nil {
		_ = ln.Close()
		return err
	}

	opts := []Option{WithReadiness(client), WithAckTimeout(s.cfg.RequestTimeout)}
	if token := strings.TrimSpace(s.cfg.AuthToken); token != "" {
		opts = append(opts, WithAuth(auth.StaticToken{Token: token}))
	}
	gw := New(s.cfg.ID, ln.Addr().String(), s.cfg.CORSOrigins, client, coord, opts...)
	gw.RegisterRoutes()

	srv := &http.Server{
		Handler:           gw.HTTPRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Warn().
		Str("addr", ln.Addr().String()).
		Str("actuator", s.cfg.ActuatorAddress).
		Str("action", s.cfg.ActionName).
		Msg("gateway.Service.Serve listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("gateway.Service.Serve http shutdown")
	}
	if err := coord.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("gateway.Service.Serve coordinator shutdown")
		return err
	}
	return nil
}
