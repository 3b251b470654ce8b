package config

import (
	"time"

	"github.com/danmuck/actiongate/internal/action"
	"github.com/danmuck/actiongate/internal/actuator"
)

// ServiceConfig converts a validated ActuatorConfig into the runtime form.
func (c ActuatorConfig) ServiceConfig() actuator.ServiceConfig {
	cfg := actuator.DefaultServiceConfig()
	cfg.ServerID = c.ID
	cfg.ListenAddr = c.ListenAddr
	cfg.ActionName = c.ActionName
	if d, err := time.ParseDuration(c.FeedbackInterval); err == nil {
		cfg.FeedbackInterval = d
	}
	if d, err := time.ParseDuration(c.GoalDuration); err == nil {
		cfg.GoalDuration = d
	}
	cfg.StallAfter = c.StallAfter
	cfg.RejectGoals = c.RejectGoals
	cfg.FinalStatus = action.GoalStatus(c.FinalStatus)
	return cfg
}
