// Command coordinatorctl is a thin operator CLI for the Model Operations
// Coordinator: it talks to the REST transport surface (internal/transport/rest)
// over HTTP and prints the results, the way the teacher's "model" CLI talks
// to the desktop daemon over its own HTTP endpoint rather than touching
// component internals. spec.md §1 excludes CLI wrappers from the core; this
// tool carries no coordinator logic of its own.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docker/model-ops-coordinator/cmd/coordinatorctl/client"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var baseURL, token string

	root := &cobra.Command{
		Use:   "coordinatorctl",
		Short: "Operate a running model-ops-coordinator daemon",
	}
	root.PersistentFlags().StringVar(&baseURL, "addr", "http://127.0.0.1:8080", "coordinator REST base URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("MOC_TOKEN"), "bearer token, defaults to $MOC_TOKEN")

	newClient := func() *client.Client { return client.New(baseURL, token) }

	root.AddCommand(
		newStatusCmd(newClient),
		newHealthCmd(newClient),
		newListModelsCmd(newClient),
		newLoadModelCmd(newClient),
		newUnloadModelCmd(newClient),
		newInferCmd(newClient),
	)
	return root
}
