package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "gateway":
		return gatewayTemplate, nil
	case "actuator":
		return actuatorTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const gatewayTemplate = `id = "gateway.local"
listen_addr = ":8080"
cors_origins = ["http://localhost:3000"]

actuator_address = "127.0.0.1:9100"
action_name = "follow_joint_trajectory"
# bearer token required on POST routes; empty leaves them open
auth_token = ""

connect_timeout = "3s"
watchdog_interval = "100ms"
stale_after = "10s"
request_timeout = "5s"
cancel_timeout = "5s"

backoff_initial = "100ms"
backoff_max = "1s"
`

const actuatorTemplate = `id = "actuator.local"
listen_addr = ":9100"
action_name = "follow_joint_trajectory"

feedback_interval = "100ms"
goal_duration = "2s"
# stop feedback after N messages; 0 never stalls
stall_after = 0
reject_goals = false
final_status = "succeeded"
`
