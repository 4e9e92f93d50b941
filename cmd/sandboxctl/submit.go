package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/fyrsmithlabs/sandboxd/internal/taskrun"
	"github.com/fyrsmithlabs/sandboxd/internal/workflows"
)

func newSubmitCmd() *cobra.Command {
	var (
		description   string
		correlationID string
		tenantID      string
		constraints   []string
		noWait        bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a task description for sandboxed execution",
		RunE: func(cmd *cobra.Command, args []string) error {
			submission := taskrun.Submission{
				TaskDescription: description,
				CorrelationID:   correlationID,
				TenantID:        tenantID,
				Constraints:     parseConstraints(constraints),
			}
			if err := taskrun.ValidateSubmission(submission); err != nil {
				return err
			}

			tenant := submission.TenantID
			if tenant == "" {
				tenant = submission.CorrelationID
			}

			c, err := client.Dial(client.Options{HostPort: temporalHost})
			if err != nil {
				return fmt.Errorf("connecting to Temporal: %w", err)
			}
			defer c.Close()

			runID := fmt.Sprintf("taskrun-%s-%s", tenant, uuid.NewString())
			run, err := c.ExecuteWorkflow(cmd.Context(), client.StartWorkflowOptions{
				ID:        runID,
				TaskQueue: taskQueue,
			}, workflows.TaskRunWorkflow, workflows.TaskRunInput{
				TaskRunID:  runID,
				Submission: submission,
			})
			if err != nil {
				return fmt.Errorf("starting task run: %w", err)
			}

			fmt.Fprintf(os.Stderr, "task run started: %s\n", runID)
			if noWait {
				return nil
			}

			var result taskrun.Result
			if err := run.Get(cmd.Context(), &result); err != nil {
				return fmt.Errorf("awaiting task run: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("task run failed: %s (%s)", result.Error, result.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "natural-language task description (required)")
	cmd.Flags().StringVarP(&correlationID, "correlation-id", "c", "", "observer correlation id (required)")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id for provisioning limits (defaults to correlation id)")
	cmd.Flags().StringArrayVar(&constraints, "constraint", nil, "execution constraint as key=value (repeatable)")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "start the run without waiting for its result")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("correlation-id")

	return cmd
}

func parseConstraints(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			out[pair] = ""
			continue
		}
		out[key] = value
	}
	return out
}
