package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"expertmesh/coreengine/envelope"
)

// envelopeCmd inspects conversation envelopes on stdin. Handy when
// debugging what a client actually sent to an endpoint.
func envelopeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "envelope",
		Short: "Encode or decode conversation envelopes on stdin",
	}
	cmd.AddCommand(envelopeEncodeCmd())
	cmd.AddCommand(envelopeDecodeCmd())
	return cmd
}

func envelopeEncodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode",
		Short: "Read {question, history} JSON from stdin, write envelope text",
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}

			var in struct {
				Question string          `json:"question"`
				History  []envelope.Turn `json:"history,omitempty"`
			}
			if err := json.Unmarshal(input, &in); err != nil {
				return fmt.Errorf("invalid JSON: %w", err)
			}

			payload, err := envelope.Encode(in.Question, in.History)
			if err != nil {
				return err
			}
			fmt.Println(payload)
			return nil
		},
	}
}

func envelopeDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode",
		Short: "Read envelope text from stdin, write {question, history} JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}

			question, history := envelope.Decode(string(input))
			out := map[string]any{
				"question": question,
				"history":  history,
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}
