package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/danmuck/actiongate/internal/actuator"
	"github.com/danmuck/actiongate/internal/coordinator"
	"github.com/danmuck/actiongate/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestNewServiceWithConfigFillsDefaults(t *testing.T) {
	svc := NewServiceWithConfig(ServiceConfig{RequestTimeout: 2 * time.Second})
	cfg := svc.Config()
	def := DefaultServiceConfig()
	require.Equal(t, def.ID, cfg.ID)
	require.Equal(t, def.ListenAddr, cfg.ListenAddr)
	require.Equal(t, def.ActuatorAddress, cfg.ActuatorAddress)
	require.Equal(t, def.ActionName, cfg.ActionName)
	require.Equal(t, def.ShutdownTimeout, cfg.ShutdownTimeout)
	require.Equal(t, coordinator.DefaultConfig(), cfg.Coordinator)
	require.Equal(t, 2*time.Second, cfg.Wire.RequestTimeout)
}

func TestServeEndToEnd(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)

	actCfg := actuator.DefaultServiceConfig()
	actCfg.FeedbackInterval = 20 * time.Millisecond
	actCfg.GoalDuration = 0
	actLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	act := actuator.NewServiceWithConfig(actCfg)
	actCtx, stopAct := context.WithCancel(context.Background())
	actDone := make(chan struct{})
	go func() {
		defer close(actDone)
		_ = act.Serve(actCtx, actLn)
	}()
	t.Cleanup(func() {
		stopAct()
		<-actDone
	})

	cfg := DefaultServiceConfig()
	cfg.ActuatorAddress = actLn.Addr().String()
	cfg.RequestTimeout = 2 * time.Second
	cfg.Coordinator = coordinator.Config{
		ConnectTimeout: time.Second,
		PollInterval:   coordinator.MinPollInterval,
		StaleAfter:     time.Second,
		CancelTimeout:  time.Second,
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, stop := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- NewServiceWithConfig(cfg).Serve(ctx, ln)
	}()

	base := "http://" + ln.Addr().String()
	post := func(path, body string) *http.Response {
		resp, err := http.Post(base+path, "application/json", bytes.NewBufferString(body))
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}
	goalStatus := func() (bool, string, int) {
		resp, err := http.Get(base + "/goal")
		if err != nil {
			return false, "", 0
		}
		defer resp.Body.Close()
		var body struct {
			Current bool                 `json:"current"`
			Goal    coordinator.Snapshot `json:"goal"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return false, "", 0
		}
		return body.Current, string(body.Goal.Status), body.Goal.FeedbackCount
	}

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	resp := post("/execute_task", `{"taskname":"wave"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Goal-Id"))

	require.Eventually(t, func() bool {
		current, status, feedback := goalStatus()
		return current && status == string(coordinator.StatusActive) && feedback > 0
	}, 2*time.Second, 20*time.Millisecond)

	ready, err := http.Get(base + "/ready")
	require.NoError(t, err)
	_ = ready.Body.Close()
	require.Equal(t, http.StatusOK, ready.StatusCode)

	resp = post("/cancel_task", `{"taskname":"wave"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	current, status, _ := goalStatus()
	require.False(t, current)
	require.Equal(t, string(coordinator.StatusCanceled), status)
	require.EqualValues(t, 1, act.Stats().Cancels)

	resp = post("/user", `{"username":"ada"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Eventually(t, func() bool {
		for _, m := range act.Published() {
			if m.Topic == TopicUser && m.Data == "ada" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	stop()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("gateway did not stop")
	}
}

func TestServeUnavailableActuator(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)

	dead, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := dead.Addr().String()
	require.NoError(t, dead.Close())

	cfg := DefaultServiceConfig()
	cfg.ActuatorAddress = addr
	cfg.Coordinator.ConnectTimeout = 200 * time.Millisecond
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, stop := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- NewServiceWithConfig(cfg).Serve(ctx, ln)
	}()
	defer func() {
		stop()
		<-served
	}()

	base := "http://" + ln.Addr().String()
	var resp *http.Response
	require.Eventually(t, func() bool {
		r, err := http.Post(base+"/execute_task", "application/json", bytes.NewBufferString(`{"taskname":"wave"}`))
		if err != nil {
			return false
		}
		resp = r
		return true
	}, 2*time.Second, 20*time.Millisecond)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	ready, err := http.Get(base + "/ready")
	require.NoError(t, err)
	_ = ready.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, ready.StatusCode)
}
