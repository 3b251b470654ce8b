package main

import (
	"fmt"
	"os"

	"github.com/danmuck/actiongate/internal/gateway"
	"github.com/danmuck/actiongate/internal/observability"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gatewayctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "gatewayctl",
		Short:         "HTTP gateway that drives one trajectory goal at a time on an actuator",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			observability.InitLogger("gatewayctl")
			cfg, err := resolveConfig(configPath)
			if err != nil {
				return err
			}
			return gateway.NewServiceWithConfig(cfg).Run()
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to gateway TOML config")

	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load and validate the config, then print the effective settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Coordinator.Validate(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id=%s listen=%s actuator=%s action=%s\n", cfg.ID, cfg.ListenAddr, cfg.ActuatorAddress, cfg.ActionName)
			fmt.Fprintf(out, "connect_timeout=%s watchdog_interval=%s stale_after=%s request_timeout=%s\n",
				cfg.Coordinator.ConnectTimeout, cfg.Coordinator.PollInterval, cfg.Coordinator.StaleAfter, cfg.RequestTimeout)
			return nil
		},
	})
	return root
}

func resolveConfig(path string) (gateway.ServiceConfig, error) {
	if path == "" {
		return gateway.DefaultServiceConfig(), nil
	}
	return loadServiceConfig(path)
}
