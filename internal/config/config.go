package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/actiongate/internal/action"
	"github.com/pelletier/go-toml/v2"
)

// ActuatorConfig is the on-disk form of the simulated action server config.
// Durations are Go duration strings.
type ActuatorConfig struct {
	ID               string `toml:"id"`
	ListenAddr       string `toml:"listen_addr"`
	ActionName       string `toml:"action_name"`
	FeedbackInterval string `toml:"feedback_interval"`
	GoalDuration     string `toml:"goal_duration"`
	StallAfter       int    `toml:"stall_after"`
	RejectGoals      bool   `toml:"reject_goals"`
	FinalStatus      string `toml:"final_status"`
}

func LoadActuatorConfig(path string) (ActuatorConfig, error) {
	var cfg ActuatorConfig
	if err := loadToml(path, &cfg); err != nil {
		return ActuatorConfig{}, err
	}
	if cfg.ID == "" {
		cfg.ID = "actuator.local"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":9100"
	}
	if cfg.ActionName == "" {
		cfg.ActionName = action.DefaultActionName
	}
	if cfg.FeedbackInterval == "" {
		cfg.FeedbackInterval = "100ms"
	}
	if cfg.GoalDuration == "" {
		cfg.GoalDuration = "2s"
	}
	if cfg.FinalStatus == "" {
		cfg.FinalStatus = string(action.GoalSucceeded)
	}
	if err := ValidateActuatorConfig(cfg); err != nil {
		return ActuatorConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateActuatorConfig(cfg ActuatorConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("actuator config missing id")
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("actuator config missing listen_addr")
	}
	if strings.TrimSpace(cfg.ActionName) == "" {
		return fmt.Errorf("actuator config missing action_name")
	}
	interval, err := time.ParseDuration(cfg.FeedbackInterval)
	if err != nil {
		return fmt.Errorf("feedback_interval invalid: %w", err)
	}
	if interval <= 0 {
		return fmt.Errorf("feedback_interval must be > 0")
	}
	goal, err := time.ParseDuration(cfg.GoalDuration)
	if err != nil {
		return fmt.Errorf("goal_duration invalid: %w", err)
	}
	if goal < 0 {
		return fmt.Errorf("goal_duration must be >= 0")
	}
	if cfg.StallAfter < 0 {
		return fmt.Errorf("stall_after must be >= 0")
	}
	switch action.GoalStatus(cfg.FinalStatus) {
	case action.GoalSucceeded, action.GoalAborted, action.GoalCanceled:
	default:
		return fmt.Errorf("final_status %q not one of succeeded|aborted|canceled", cfg.FinalStatus)
	}
	return nil
}
