package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/actiongate/internal/actuator"
	"github.com/danmuck/actiongate/internal/config"
	"github.com/danmuck/actiongate/internal/observability"
)

func main() {
	path := flag.String("config", "", "path to actuator TOML config")
	flag.Parse()

	observability.InitLogger("actuatorctl")
	svc := actuator.NewService()
	if *path != "" {
		cfg, err := config.LoadActuatorConfig(*path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "actuatorctl: %v\n", err)
			os.Exit(1)
		}
		svc = actuator.NewServiceWithConfig(cfg.ServiceConfig())
	}
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "actuatorctl: %v\n", err)
		os.Exit(1)
	}
}
