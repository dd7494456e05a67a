package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docker/model-ops-coordinator/cmd/coordinatorctl/client"
)

func newStatusCmd(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the coordinator's system status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := newClient().Status()
			if err != nil {
				return err
			}
			cmd.Printf("uptime: %.0fs\nmodels loaded: %d\nactive inference: %d\n",
				status.UptimeSeconds, status.ModelsLoaded, status.ActiveInference)
			return nil
		},
	}
}

func newHealthCmd(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Print the coordinator's health report",
		RunE: func(cmd *cobra.Command, args []string) error {
			health, err := newClient().Health()
			if err != nil {
				return err
			}
			cmd.Println("status:", health.Status)
			for _, check := range health.Checks {
				state := "ok"
				if !check.OK {
					state = "FAIL: " + check.Detail
				}
				cmd.Printf("  %s: %s\n", check.Name, state)
			}
			if health.Status != "ok" {
				return fmt.Errorf("coordinator reports degraded health")
			}
			return nil
		},
	}
}
