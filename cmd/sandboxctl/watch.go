package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/sandboxd/internal/progress"
)

func newWatchCmd() *cobra.Command {
	var correlationID string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream progress updates for a correlation id",
		RunE: func(cmd *cobra.Command, args []string) error {
			nc, err := nats.Connect(natsURL)
			if err != nil {
				return fmt.Errorf("connecting to NATS: %w", err)
			}
			defer nc.Close()

			sub, err := nc.Subscribe(progress.Subject(correlationID), func(msg *nats.Msg) {
				var update progress.Update
				if err := json.Unmarshal(msg.Data, &update); err != nil {
					fmt.Fprintf(os.Stderr, "skipping malformed update: %v\n", err)
					return
				}
				if update.Stage != "" {
					fmt.Printf("[%s] %s\n", update.Stage, update.Message)
				} else {
					fmt.Println(update.Message)
				}
			})
			if err != nil {
				return fmt.Errorf("subscribing: %w", err)
			}
			defer func() { _ = sub.Unsubscribe() }()

			fmt.Fprintf(os.Stderr, "watching %s (ctrl-c to stop)\n", progress.Subject(correlationID))

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVarP(&correlationID, "correlation-id", "c", "", "correlation id to watch (required)")
	_ = cmd.MarkFlagRequired("correlation-id")

	return cmd
}
