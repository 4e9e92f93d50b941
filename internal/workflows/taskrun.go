// Package workflows defines the durable task-run workflow: a state
// router driving analyze, environment, script-generation, and execution
// stages as checkpointed Temporal activities.
package workflows

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/sandboxd/internal/sandbox"
	"github.com/fyrsmithlabs/sandboxd/internal/taskrun"
)

const (
	// maxRouterPasses caps router re-entries per run. The straight-line
	// path needs four; anything near the ceiling is a routing bug, and
	// hitting it forces a terminal error instead of cycling forever.
	maxRouterPasses = 16

	// maxScriptAttempts bounds retries of a retryable script.
	maxScriptAttempts = 3
)

// runState is the mutable state one workflow run threads through the
// router. Artifacts are append-only: a re-run stage replaces the whole
// pointer, never mutates what a checkpoint already saw.
type runState struct {
	run      taskrun.TaskRun
	analysis *taskrun.TaskAnalysis
	env      *taskrun.EnvironmentSpec
	bundle   *taskrun.ScriptBundle
	exec     *taskrun.ExecutionResult
}

func (s *runState) fail(reason, message string) {
	s.run.Status = taskrun.StatusError
	s.run.Reason = reason
	s.run.ErrorMessage = message
}

func (s *runState) buildResult() *taskrun.Result {
	res := &taskrun.Result{
		TaskRunID:    s.run.ID,
		Analysis:     s.analysis,
		ScriptBundle: s.bundle,
	}
	if s.run.Status == taskrun.StatusComplete && s.exec != nil {
		res.Success = true
		res.ExecutionResult = s.exec
		return res
	}
	res.Error = s.run.ErrorMessage
	if res.Error == "" {
		res.Error = "task run failed"
	}
	res.Reason = s.run.Reason
	return res
}

// TaskRunWorkflow executes one submitted task end to end. The router
// inspects the run status after every stage and dispatches the next
// handler; handlers absorb their own failures into a terminal error
// state, so the workflow itself completes normally with a Result either
// way. Each stage's artifact is checkpointed before the next stage
// starts, and a restarted run resumes without repeating side effects.
func TaskRunWorkflow(ctx workflow.Context, input TaskRunInput) (*taskrun.Result, error) {
	logger := workflow.GetLogger(ctx)

	runID := input.TaskRunID
	if runID == "" {
		runID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}
	tenantID := input.Submission.TenantID
	if tenantID == "" {
		tenantID = input.Submission.CorrelationID
	}

	state := &runState{
		run: taskrun.TaskRun{
			ID:              runID,
			TaskDescription: input.Submission.TaskDescription,
			CorrelationID:   input.Submission.CorrelationID,
			TenantID:        tenantID,
			Constraints:     input.Submission.Constraints,
			Status:          taskrun.StatusAnalyzing,
			CreatedAt:       workflow.Now(ctx),
		},
	}

	logger.Info("task run starting",
		"task_run_id", state.run.ID,
		"correlation_id", state.run.CorrelationID,
		"tenant_id", state.run.TenantID)

	for passes := 0; !state.run.Status.Terminal(); passes++ {
		if passes >= maxRouterPasses {
			state.fail(ReasonRouterLoopExceeded,
				fmt.Sprintf("router exceeded %d passes without reaching a terminal state", maxRouterPasses))
			break
		}

		switch state.run.Status {
		case taskrun.StatusAnalyzing:
			analyzeStage(ctx, state)
		case taskrun.StatusEnvironmentSetup:
			environmentStage(ctx, state)
		case taskrun.StatusGeneratingScripts:
			scriptsStage(ctx, state)
		case taskrun.StatusExecuting:
			executeStage(ctx, state)
		case taskrun.StatusComplete, taskrun.StatusError:
			// Terminal states never re-enter the dispatch; the loop
			// condition already excluded them.
		}
	}

	result := state.buildResult()
	logger.Info("task run finished",
		"task_run_id", state.run.ID,
		"status", string(state.run.Status),
		"reason", state.run.Reason)
	return result, nil
}

// reasoningOptions applies the retry policy shared by the three
// reasoning-backed stages: schema failures and transport faults alike
// retry up to three attempts before the stage goes terminal.
func reasoningOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    3,
		},
	})
}

func analyzeStage(ctx workflow.Context, s *runState) {
	var a *Activities
	var analysis taskrun.TaskAnalysis
	err := workflow.ExecuteActivity(reasoningOptions(ctx), a.AnalyzeTask, AnalyzeInput{
		TaskDescription: s.run.TaskDescription,
		Constraints:     s.run.Constraints,
		CorrelationID:   s.run.CorrelationID,
	}).Get(ctx, &analysis)
	if err != nil {
		s.fail(reasonForError(err, ReasonSchemaValidationFailed),
			fmt.Sprintf("task analysis failed: %v", err))
		return
	}

	s.analysis = &analysis
	s.run.Status = s.run.Status.Next()
}

func environmentStage(ctx workflow.Context, s *runState) {
	if s.analysis == nil {
		s.fail(ReasonRouterLoopExceeded, "environment stage reached without an analysis artifact")
		return
	}

	var a *Activities
	var spec taskrun.EnvironmentSpec
	err := workflow.ExecuteActivity(reasoningOptions(ctx), a.GenerateEnvironment, EnvironmentInput{
		Analysis:      *s.analysis,
		CorrelationID: s.run.CorrelationID,
	}).Get(ctx, &spec)
	if err != nil {
		s.fail(reasonForError(err, ReasonSchemaValidationFailed),
			fmt.Sprintf("environment configuration failed: %v", err))
		return
	}

	s.env = &spec
	s.run.Status = s.run.Status.Next()
}

func scriptsStage(ctx workflow.Context, s *runState) {
	if s.analysis == nil || s.env == nil {
		s.fail(ReasonRouterLoopExceeded, "script stage reached without prior artifacts")
		return
	}

	var a *Activities
	var bundle taskrun.ScriptBundle
	err := workflow.ExecuteActivity(reasoningOptions(ctx), a.GenerateScripts, ScriptsInput{
		Analysis:      *s.analysis,
		Environment:   *s.env,
		CorrelationID: s.run.CorrelationID,
	}).Get(ctx, &bundle)
	if err != nil {
		s.fail(reasonForError(err, ReasonSchemaValidationFailed),
			fmt.Sprintf("script generation failed: %v", err))
		return
	}

	s.bundle = &bundle
	s.run.Status = s.run.Status.Next()
}

// executeStage acquires the run's sandbox, applies the environment, runs
// the bundle, and releases the sandbox on every exit path before
// returning — success, abort, and fault alike.
func executeStage(ctx workflow.Context, s *runState) {
	if s.analysis == nil || s.env == nil || s.bundle == nil {
		s.fail(ReasonRouterLoopExceeded, "execute stage reached without prior artifacts")
		return
	}

	var a *Activities

	acquireCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    3,
		},
	})

	var handle sandbox.Handle
	err := workflow.ExecuteActivity(acquireCtx, a.AcquireSandbox, AcquireInput{
		TenantID:      s.run.TenantID,
		Runtime:       "python3",
		CorrelationID: s.run.CorrelationID,
	}).Get(ctx, &handle)
	if err != nil {
		s.fail(reasonForError(err, ReasonSandboxUnavailable),
			fmt.Sprintf("sandbox provisioning failed: %v", err))
		return
	}

	// The release is unconditional: a disconnected context keeps it
	// running even when the stage unwinds on a fault, and the manager
	// makes a second release a no-op.
	defer func() {
		dctx, cancel := workflow.NewDisconnectedContext(ctx)
		defer cancel()
		dctx = workflow.WithActivityOptions(dctx, workflow.ActivityOptions{
			StartToCloseTimeout: time.Minute,
			RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
		})
		if relErr := workflow.ExecuteActivity(dctx, a.ReleaseSandbox, ReleaseInput{
			Handle:        handle,
			CorrelationID: s.run.CorrelationID,
		}).Get(dctx, nil); relErr != nil {
			workflow.GetLogger(ctx).Warn("sandbox release failed",
				"sandbox_id", handle.ID, "error", relErr)
		}
	}()

	execCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    3,
		},
	})

	var applyRes sandbox.ExecResult
	err = workflow.ExecuteActivity(execCtx, a.ApplyEnvironment, ApplyEnvironmentInput{
		Handle:        handle,
		Spec:          *s.env,
		CorrelationID: s.run.CorrelationID,
	}).Get(ctx, &applyRes)
	if err != nil {
		s.fail(reasonForError(err, ReasonSandboxUnavailable),
			fmt.Sprintf("environment setup failed: %v", err))
		return
	}
	if !applyRes.Success {
		s.fail(ReasonEnvironmentSetupFailed,
			fmt.Sprintf("environment setup command failed: %s", execError(applyRes)))
		return
	}

	// Execution follows ascending Order; the result list is reported in
	// the bundle's own script order. Names are unique per validation.
	resultsByName := make(map[string]taskrun.ScriptResult, len(s.bundle.Scripts))
	lastOutput := ""
	for _, script := range s.bundle.OrderedScripts() {
		attempts := 1
		if script.Retryable {
			attempts = maxScriptAttempts
		}

		var sr taskrun.ScriptResult
		for attempt := 0; attempt < attempts; attempt++ {
			err = workflow.ExecuteActivity(execCtx, a.RunScript, RunScriptInput{
				Handle:        handle,
				Script:        script,
				Env:           s.env.EnvironmentVariables,
				CorrelationID: s.run.CorrelationID,
			}).Get(ctx, &sr)
			if err != nil {
				s.fail(reasonForError(err, ReasonExecutionFailed),
					fmt.Sprintf("script %s could not be executed: %v", script.Name, err))
				return
			}
			sr.RetryCount = attempt
			if sr.Success {
				break
			}
		}

		resultsByName[script.Name] = sr
		lastOutput = sr.Output
		if !sr.Success && !script.Retryable {
			// A failed non-retryable script aborts the run: later
			// scripts and the main script never execute.
			s.fail(ReasonScriptFailed,
				fmt.Sprintf("script %s failed: %s", script.Name, sr.Error))
			return
		}
	}

	results := make([]taskrun.ScriptResult, 0, len(resultsByName))
	for _, script := range s.bundle.Scripts {
		if sr, ok := resultsByName[script.Name]; ok {
			results = append(results, sr)
		}
	}

	finalOutput := lastOutput
	if strings.TrimSpace(s.bundle.MainScript) != "" {
		var mainRes sandbox.ExecResult
		err = workflow.ExecuteActivity(execCtx, a.RunMainScript, RunMainScriptInput{
			Handle:        handle,
			Code:          s.bundle.MainScript,
			Env:           s.env.EnvironmentVariables,
			CorrelationID: s.run.CorrelationID,
		}).Get(ctx, &mainRes)
		if err != nil {
			s.fail(reasonForError(err, ReasonExecutionFailed),
				fmt.Sprintf("main script could not be executed: %v", err))
			return
		}
		if !mainRes.Success {
			s.fail(ReasonScriptFailed,
				fmt.Sprintf("main script failed: %s", execError(mainRes)))
			return
		}
		finalOutput = mainRes.Stdout
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	s.exec = &taskrun.ExecutionResult{
		ScriptResults: results,
		FinalOutput:   finalOutput,
		Summary:       fmt.Sprintf("%d/%d scripts succeeded", succeeded, len(results)),
	}
	s.run.Status = s.run.Status.Next()
}
