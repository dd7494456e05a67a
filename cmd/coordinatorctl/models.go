package main

import (
	"github.com/spf13/cobra"

	"github.com/docker/model-ops-coordinator/cmd/coordinatorctl/client"
)

func newListModelsCmd(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List loaded models",
		RunE: func(cmd *cobra.Command, args []string) error {
			models, err := newClient().ListModels()
			if err != nil {
				return err
			}
			if len(models) == 0 {
				cmd.Println("no models loaded")
				return nil
			}
			for _, m := range models {
				cmd.Printf("%s\t%s\t%dMB\t%d shard(s)\n", m.Name, m.State, m.VRAMMB, m.Shards)
			}
			return nil
		},
	}
}

func newLoadModelCmd(newClient func() *client.Client) *cobra.Command {
	var source, quantization, priority string
	var shards, idleTimeoutSec int
	var estimatedVRAMMB int64

	c := &cobra.Command{
		Use:   "load NAME",
		Short: "Load a model by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if shards <= 0 {
				shards = 1
			}
			err := newClient().LoadModel(args[0], client.LoadModelRequest{
				Source:          source,
				Shards:          shards,
				EstimatedVRAMMB: estimatedVRAMMB,
				Quantization:    quantization,
				IdleTimeoutSec:  idleTimeoutSec,
				Priority:        priority,
			})
			if err != nil {
				return err
			}
			cmd.Println("ok")
			return nil
		},
	}
	c.Flags().StringVar(&source, "source", "", "opaque path/URI to model weights")
	c.Flags().IntVar(&shards, "shards", 1, "number of shards")
	c.Flags().Int64Var(&estimatedVRAMMB, "estimated-vram-mb", 0, "declared VRAM estimate in MB")
	c.Flags().StringVar(&quantization, "quantization", "", "fp32|fp16|int8|int4")
	c.Flags().IntVar(&idleTimeoutSec, "idle-timeout-sec", 0, "idle eviction timeout in seconds")
	c.Flags().StringVar(&priority, "priority", "medium", "low|medium|high|critical")
	return c
}

func newUnloadModelCmd(newClient func() *client.Client) *cobra.Command {
	var force bool
	c := &cobra.Command{
		Use:   "unload NAME",
		Short: "Unload a model by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().UnloadModel(args[0], force); err != nil {
				return err
			}
			cmd.Println("ok")
			return nil
		},
	}
	c.Flags().BoolVar(&force, "force", false, "unload even with in-flight inference references")
	return c
}
