package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/actiongate/internal/auth"
	"github.com/danmuck/actiongate/internal/coordinator"
	"github.com/danmuck/actiongate/internal/testutil/fakeaction"
	"github.com/danmuck/actiongate/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type fakePublisher struct {
	mu   sync.Mutex
	err  error
	sent []string
}

func (p *fakePublisher) Publish(ctx context.Context, topic, data string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, topic+":"+data)
	return nil
}

func (p *fakePublisher) messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

type stubGoals struct {
	sendErr   error
	cancelErr error
	ack       chan error
}

func (s *stubGoals) SendGoal(ctx context.Context) (coordinator.Snapshot, error) {
	if s.sendErr != nil {
		return coordinator.Snapshot{}, s.sendErr
	}
	return coordinator.Snapshot{GoalID: uuid.New(), Status: coordinator.StatusAccepted}, nil
}

func (s *stubGoals) CancelGoal(ctx context.Context) (<-chan error, error) {
	if s.cancelErr != nil {
		return nil, s.cancelErr
	}
	return s.ack, nil
}

func (s *stubGoals) Current() (coordinator.Snapshot, bool) { return coordinator.Snapshot{}, false }
func (s *stubGoals) Last() (coordinator.Snapshot, bool)    { return coordinator.Snapshot{}, false }

type notReady struct{}

func (notReady) Connected() bool { return false }

func newTestGateway(t *testing.T, pub Publisher, goals Goals, opts ...Option) *Gateway {
	t.Helper()
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	g := New("gateway-test", ":0", nil, pub, goals, opts...)
	g.RegisterRoutes()
	return g
}

func newCoordinator(t *testing.T) (*coordinator.Coordinator, *fakeaction.Client) {
	t.Helper()
	client := fakeaction.New()
	c, err := coordinator.New(client, coordinator.Config{
		ConnectTimeout: 300 * time.Millisecond,
		PollInterval:   coordinator.MinPollInterval,
		StaleAfter:     time.Second,
		CancelTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Shutdown(context.Background())
	})
	return c, client
}

func do(g *Gateway, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	g.HTTPRouter().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHelloRoutes(t *testing.T) {
	g := newTestGateway(t, &fakePublisher{}, &stubGoals{})

	w := do(g, http.MethodGet, "/", "")
	if w.Code != http.StatusOK || w.Body.String() != "Hello, World!" {
		t.Fatalf("unexpected root response: %d %q", w.Code, w.Body.String())
	}

	w = do(g, http.MethodGet, "/hello/ada", "")
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if msg := decode(t, w)["message"]; msg != "Hello ada" {
		t.Fatalf("unexpected message: %v", msg)
	}
}

func TestCreateUserAndTaskPublish(t *testing.T) {
	pub := &fakePublisher{}
	g := newTestGateway(t, pub, &stubGoals{})

	w := do(g, http.MethodPost, "/user", `{"username":"ada"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("unexpected user status: %d body=%s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["id"] != float64(UserID) || body["username"] != "ada" {
		t.Fatalf("unexpected user body: %+v", body)
	}

	w = do(g, http.MethodPost, "/task", `{"taskname":"pick"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("unexpected task status: %d body=%s", w.Code, w.Body.String())
	}
	body = decode(t, w)
	if body["id"] != float64(TaskID) || body["taskname"] != "pick" {
		t.Fatalf("unexpected task body: %+v", body)
	}

	got := pub.messages()
	if len(got) != 2 || got[0] != "user:ada" || got[1] != "task:pick" {
		t.Fatalf("unexpected published messages: %v", got)
	}
}

func TestPublishFailureIsBadRequest(t *testing.T) {
	pub := &fakePublisher{err: errors.New("link down")}
	g := newTestGateway(t, pub, &stubGoals{})

	w := do(g, http.MethodPost, "/user", `{"username":"ada"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if body := decode(t, w); body["topic"] != TopicUser {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	g := newTestGateway(t, &fakePublisher{}, &stubGoals{})
	for _, path := range []string{"/user", "/task", "/execute_task", "/cancel_task"} {
		if w := do(g, http.MethodPost, path, `{}`); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 for missing field, got %d", path, w.Code)
		}
		if w := do(g, http.MethodPost, path, `not json`); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 for bad json, got %d", path, w.Code)
		}
	}
}

func TestExecuteCancelLifecycle(t *testing.T) {
	c, client := newCoordinator(t)
	g := newTestGateway(t, &fakePublisher{}, c)

	if w := do(g, http.MethodGet, "/goal", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any goal, got %d", w.Code)
	}

	w := do(g, http.MethodPost, "/execute_task", `{"taskname":"move"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("unexpected execute status: %d body=%s", w.Code, w.Body.String())
	}
	goalID := w.Header().Get("X-Goal-Id")
	if _, err := uuid.Parse(goalID); err != nil {
		t.Fatalf("missing goal id header: %q", goalID)
	}
	if body := decode(t, w); body["taskname"] != "move" || body["id"] != float64(TaskID) {
		t.Fatalf("unexpected execute body: %+v", body)
	}
	<-client.Submitted()

	if w := do(g, http.MethodPost, "/execute_task", `{"taskname":"move"}`); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 while in flight, got %d", w.Code)
	}

	w = do(g, http.MethodGet, "/goal", "")
	body := decode(t, w)
	goal, _ := body["goal"].(map[string]any)
	if body["current"] != true || goal["goal_id"] != goalID {
		t.Fatalf("unexpected current goal: %+v", body)
	}

	if w := do(g, http.MethodPost, "/cancel_task", `{"taskname":"move"}`); w.Code != http.StatusAccepted {
		t.Fatalf("unexpected cancel status: %d body=%s", w.Code, w.Body.String())
	}
	if w := do(g, http.MethodPost, "/cancel_task", `{"taskname":"move"}`); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second cancel, got %d", w.Code)
	}

	body = decode(t, do(g, http.MethodGet, "/goal", ""))
	goal, _ = body["goal"].(map[string]any)
	if body["current"] != false || goal["status"] != string(coordinator.StatusCanceled) {
		t.Fatalf("unexpected last goal: %+v", body)
	}
}

func TestGoalErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"in flight", coordinator.ErrGoalInFlight, http.StatusConflict},
		{"already terminal", fmt.Errorf("%w: status=succeeded", coordinator.ErrGoalAlreadyTerminal), http.StatusConflict},
		{"unavailable", coordinator.ErrActuatorUnavailable, http.StatusServiceUnavailable},
		{"rejected", coordinator.ErrGoalRejected, http.StatusUnprocessableEntity},
		{"protocol", &coordinator.ProtocolError{Op: coordinator.OpSubmit, Err: errors.New("eof")}, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := newTestGateway(t, &fakePublisher{}, &stubGoals{sendErr: tc.err})
			w := do(g, http.MethodPost, "/execute_task", `{"taskname":"move"}`)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
			body := decode(t, w)
			if body["error"] == "" || body["task"] == nil {
				t.Fatalf("unexpected error body: %+v", body)
			}
		})
	}
}

func TestCancelTaskFailures(t *testing.T) {
	t.Run("no goal", func(t *testing.T) {
		g := newTestGateway(t, &fakePublisher{}, &stubGoals{cancelErr: coordinator.ErrNoValidGoalExists})
		if w := do(g, http.MethodPost, "/cancel_task", `{"taskname":"move"}`); w.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", w.Code)
		}
	})

	t.Run("ack failure", func(t *testing.T) {
		ack := make(chan error, 1)
		ack <- &coordinator.ProtocolError{Op: coordinator.OpCancel, Err: errors.New("refused")}
		g := newTestGateway(t, &fakePublisher{}, &stubGoals{ack: ack})
		if w := do(g, http.MethodPost, "/cancel_task", `{"taskname":"move"}`); w.Code != http.StatusBadGateway {
			t.Fatalf("expected 502, got %d", w.Code)
		}
	})

	t.Run("ack timeout", func(t *testing.T) {
		g := newTestGateway(t, &fakePublisher{}, &stubGoals{ack: make(chan error)}, WithAckTimeout(50*time.Millisecond))
		start := time.Now()
		if w := do(g, http.MethodPost, "/cancel_task", `{"taskname":"move"}`); w.Code != http.StatusGatewayTimeout {
			t.Fatalf("expected 504, got %d", w.Code)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Fatalf("ack wait not bounded: %v", elapsed)
		}
	})
}

func TestHealthReadyMetrics(t *testing.T) {
	g := newTestGateway(t, &fakePublisher{}, &stubGoals{})
	if w := do(g, http.MethodGet, "/health", ""); w.Code != http.StatusOK || decode(t, w)["gateway"] != "gateway-test" {
		t.Fatalf("unexpected health: %d %s", w.Code, w.Body.String())
	}
	if w := do(g, http.MethodGet, "/ready", ""); w.Code != http.StatusOK {
		t.Fatalf("expected ready without a readiness probe, got %d", w.Code)
	}
	w := do(g, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "actiongate_http_requests_total") {
		t.Fatalf("metrics missing request counter: %d", w.Code)
	}

	g = newTestGateway(t, &fakePublisher{}, &stubGoals{}, WithReadiness(notReady{}))
	w = do(g, http.MethodGet, "/ready", "")
	if w.Code != http.StatusServiceUnavailable || decode(t, w)["ready"] != false {
		t.Fatalf("expected not ready, got %d %s", w.Code, w.Body.String())
	}
}

func TestGatewayIsNode(t *testing.T) {
	g := newTestGateway(t, &fakePublisher{}, &stubGoals{})
	if g.NodeID() != "gateway-test" || g.Kind() != "gateway" || g.HTTPRouter() == nil {
		t.Fatalf("unexpected node identity: %s %s", g.NodeID(), g.Kind())
	}
}

func TestWriteRoutesRequireBearerWhenConfigured(t *testing.T) {
	pub := &fakePublisher{}
	g := newTestGateway(t, pub, &stubGoals{}, WithAuth(auth.StaticToken{Token: "s3cret"}))

	if w := do(g, http.MethodPost, "/user", `{"username":"ada"}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/user", strings.NewReader(`{"username":"ada"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer s3cret")
	w := httptest.NewRecorder()
	g.HTTPRouter().ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 with token, got %d", w.Code)
	}

	if w := do(g, http.MethodGet, "/hello/ada", ""); w.Code != http.StatusOK {
		t.Fatalf("read routes must stay open, got %d", w.Code)
	}
	if len(pub.messages()) != 1 {
		t.Fatalf("unauthorized request must not publish: %v", pub.messages())
	}
}
