// Package main provides sandboxctl, the CLI for submitting tasks to the
// execution engine and watching their progress.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	temporalHost string
	natsURL      string
	taskQueue    string
)

func main() {
	root := &cobra.Command{
		Use:           "sandboxctl",
		Short:         "Submit and observe sandboxed task runs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&temporalHost, "temporal-host", "localhost:7233", "Temporal frontend host:port")
	root.PersistentFlags().StringVar(&natsURL, "nats-url", "nats://localhost:4222", "NATS server URL")
	root.PersistentFlags().StringVar(&taskQueue, "task-queue", "task-execution-queue", "Temporal task queue")

	root.AddCommand(newSubmitCmd())
	root.AddCommand(newWatchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
