package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/actiongate/internal/coordinator"
	"github.com/danmuck/actiongate/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var ErrCancelAckTimeout = errors.New("gateway: cancel acknowledgment timed out")

func (g *Gateway) RegisterRoutes() {
	r := g.router

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Hello, World!")
	})
	r.GET("/hello/:name", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Hello " + c.Param("name")})
	})

	writes := r.Group("/", g.requireAuth)
	writes.POST("/user", g.createUser)
	writes.POST("/task", g.createTask)
	writes.POST("/execute_task", g.executeTask)
	writes.POST("/cancel_task", g.cancelTask)
	r.GET("/goal", g.goal)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(g.Appeared).String(),
			"gateway": g.ID,
			"version": version,
		})
	})
	r.GET("/ready", func(c *gin.Context) {
		ready := g.ready()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  time.Since(g.Appeared).String(),
			"gateway": g.ID,
			"version": version,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (g *Gateway) createUser(c *gin.Context) {
	var in CreateUser
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !g.publish(c, TopicUser, in.Username) {
		return
	}
	c.JSON(http.StatusCreated, newUser(in))
}

func (g *Gateway) createTask(c *gin.Context) {
	var in CreateTask
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !g.publish(c, TopicTask, in.Taskname) {
		return
	}
	c.JSON(http.StatusCreated, newTask(in))
}

func (g *Gateway) publish(c *gin.Context, topic, data string) bool {
	err := g.publisher.Publish(c.Request.Context(), topic, data)
	observability.RecordPublish(topic, err == nil)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "topic": topic})
		return false
	}
	return true
}

func (g *Gateway) executeTask(c *gin.Context) {
	var in CreateTask
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	task := newTask(in)

	snap, err := g.goals.SendGoal(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		body := gin.H{"error": err.Error(), "task": task}
		if snap.GoalID != uuid.Nil {
			body["goal"] = snap
		}
		c.JSON(goalErrorStatus(err), body)
		return
	}
	c.Header("X-Goal-Id", snap.GoalID.String())
	c.JSON(http.StatusCreated, task)
}

func (g *Gateway) cancelTask(c *gin.Context) {
	var in CreateTask
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	task := newTask(in)

	ack, err := g.goals.CancelGoal(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(goalErrorStatus(err), gin.H{"error": err.Error(), "task": task})
		return
	}

	timer := time.NewTimer(g.ackTimeout)
	defer timer.Stop()
	select {
	case err = <-ack:
	case <-timer.C:
		err = ErrCancelAckTimeout
	case <-c.Request.Context().Done():
		err = ErrCancelAckTimeout
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(goalErrorStatus(err), gin.H{"error": err.Error(), "task": task})
		return
	}
	c.JSON(http.StatusAccepted, task)
}

func (g *Gateway) goal(c *gin.Context) {
	if snap, ok := g.goals.Current(); ok {
		c.JSON(http.StatusOK, gin.H{"current": true, "goal": snap})
		return
	}
	if snap, ok := g.goals.Last(); ok {
		c.JSON(http.StatusOK, gin.H{"current": false, "goal": snap})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": coordinator.ErrNoValidGoalExists.Error()})
}

func goalErrorStatus(err error) int {
	var perr *coordinator.ProtocolError
	switch {
	case errors.Is(err, coordinator.ErrGoalInFlight),
		errors.Is(err, coordinator.ErrGoalAlreadyTerminal):
		return http.StatusConflict
	case errors.Is(err, coordinator.ErrActuatorUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, coordinator.ErrGoalRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, coordinator.ErrNoValidGoalExists):
		return http.StatusNotFound
	case errors.Is(err, ErrCancelAckTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &perr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
