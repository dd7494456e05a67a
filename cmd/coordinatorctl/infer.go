package main

import (
	"github.com/spf13/cobra"

	"github.com/docker/model-ops-coordinator/cmd/coordinatorctl/client"
)

func newInferCmd(newClient func() *client.Client) *cobra.Command {
	var maxTokens int
	var temperature float64
	var conversationID string

	c := &cobra.Command{
		Use:   "infer NAME PROMPT",
		Short: "Run a single inference request against a loaded model",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().Infer(client.InferRequest{
				Model:          args[0],
				Prompt:         args[1],
				MaxTokens:      maxTokens,
				Temperature:    temperature,
				ConversationID: conversationID,
			})
			if err != nil {
				return err
			}
			cmd.Println(result.Text)
			cmd.Printf("(%d tokens, %dms, %s)\n", result.TokensGenerated, result.ElapsedMS, result.Status)
			return nil
		},
	}
	c.Flags().IntVar(&maxTokens, "max-tokens", 256, "maximum tokens to generate")
	c.Flags().Float64Var(&temperature, "temperature", 0.7, "sampling temperature")
	c.Flags().StringVar(&conversationID, "conversation-id", "", "optional conversation id")
	return c
}
