package main

import (
	"flag"
	"log"

	"github.com/danmuck/actiongate/internal/config"
)

func defaultPath(kind string) string {
	switch kind {
	case "gateway":
		return "cmd/gatewayctl/config.toml"
	case "actuator":
		return "cmd/actuatorctl/config.toml"
	default:
		log.Fatalf("unknown kind: %s", kind)
		return ""
	}
}

func main() {
	kind := flag.String("kind", "gateway", "config kind: gateway|actuator")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing actuator config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		if *kind != "actuator" {
			log.Fatalf("validate supports kind=actuator; use `gatewayctl check --config` for the gateway")
		}
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		if _, err := config.LoadActuatorConfig(path); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
