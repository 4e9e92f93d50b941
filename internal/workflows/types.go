package workflows

import (
	"github.com/fyrsmithlabs/sandboxd/internal/sandbox"
	"github.com/fyrsmithlabs/sandboxd/internal/taskrun"
)

// TaskQueue is the Temporal task queue task-run workflows execute on.
const TaskQueue = "task-execution-queue"

// TaskRunInput starts one TaskRunWorkflow.
type TaskRunInput struct {
	// TaskRunID identifies the run. When empty the workflow ID is used.
	TaskRunID string

	// Submission is the validated caller input. ValidateSubmission must
	// have accepted it before the workflow starts.
	Submission taskrun.Submission
}

// Activity input/output types. Everything here crosses the checkpoint
// store, so fields stay plain and serializable.

// AnalyzeInput asks the reasoning service to decompose a task.
type AnalyzeInput struct {
	TaskDescription string
	Constraints     map[string]string
	CorrelationID   string
}

// EnvironmentInput derives an environment spec from an analysis.
type EnvironmentInput struct {
	Analysis      taskrun.TaskAnalysis
	CorrelationID string
}

// ScriptsInput derives a script bundle from the analysis and spec.
type ScriptsInput struct {
	Analysis      taskrun.TaskAnalysis
	Environment   taskrun.EnvironmentSpec
	CorrelationID string
}

// AcquireInput provisions the run's sandbox.
type AcquireInput struct {
	TenantID      string
	Runtime       string
	CorrelationID string
}

// ApplyEnvironmentInput prepares an acquired sandbox.
type ApplyEnvironmentInput struct {
	Handle        sandbox.Handle
	Spec          taskrun.EnvironmentSpec
	CorrelationID string
}

// RunScriptInput executes one bundle script in the sandbox.
type RunScriptInput struct {
	Handle        sandbox.Handle
	Script        taskrun.Script
	Env           map[string]string
	CorrelationID string
}

// RunMainScriptInput executes the bundle's main script.
type RunMainScriptInput struct {
	Handle        sandbox.Handle
	Code          string
	Env           map[string]string
	CorrelationID string
}

// ReleaseInput tears the run's sandbox down.
type ReleaseInput struct {
	Handle        sandbox.Handle
	CorrelationID string
}
