// Package taskrun defines the data contracts shared by the task-execution
// engine: the run state machine, the artifacts each stage produces, and the
// final result returned to the caller.
package taskrun

import (
	"time"
)

// Status is the state of a TaskRun. Transitions are monotonic:
// analyzing → environment-setup → generating-scripts → executing →
// {complete | error}. A stage never starts before its predecessor's
// artifact exists.
type Status string

const (
	// StatusAnalyzing is the initial state: the task description is being
	// decomposed into a TaskAnalysis.
	StatusAnalyzing Status = "analyzing"
	// StatusEnvironmentSetup derives an EnvironmentSpec from the analysis.
	StatusEnvironmentSetup Status = "environment-setup"
	// StatusGeneratingScripts derives a ScriptBundle from the analysis
	// and environment spec.
	StatusGeneratingScripts Status = "generating-scripts"
	// StatusExecuting runs the bundle inside the sandbox.
	StatusExecuting Status = "executing"
	// StatusComplete is the successful terminal state.
	StatusComplete Status = "complete"
	// StatusError is the failing terminal state.
	StatusError Status = "error"
)

// Terminal reports whether no further stage runs from this status.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Next returns the successor in the straight-line stage order. Terminal
// statuses return themselves.
func (s Status) Next() Status {
	switch s {
	case StatusAnalyzing:
		return StatusEnvironmentSetup
	case StatusEnvironmentSetup:
		return StatusGeneratingScripts
	case StatusGeneratingScripts:
		return StatusExecuting
	case StatusExecuting:
		return StatusComplete
	}
	return s
}

// Valid reports whether s is a member of the closed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusAnalyzing, StatusEnvironmentSetup, StatusGeneratingScripts,
		StatusExecuting, StatusComplete, StatusError:
		return true
	}
	return false
}

// TaskRun is one end-to-end execution of a submitted task description.
// It is exclusively owned by a single workflow run.
type TaskRun struct {
	// ID uniquely identifies this run.
	ID string `json:"id"`

	// TaskDescription is the natural-language task to execute.
	TaskDescription string `json:"task_description"`

	// CorrelationID routes progress updates to the submitting observer.
	CorrelationID string `json:"correlation_id"`

	// TenantID scopes sandbox provisioning concurrency.
	TenantID string `json:"tenant_id"`

	// Constraints carries optional caller-supplied execution constraints.
	Constraints map[string]string `json:"constraints,omitempty"`

	// Status is the current state machine position.
	Status Status `json:"status"`

	// Reason is the machine-readable failure code when Status is error.
	Reason string `json:"reason,omitempty"`

	// ErrorMessage is the human-readable failure description when Status
	// is error.
	ErrorMessage string `json:"error_message,omitempty"`

	// CreatedAt is when the run was submitted.
	CreatedAt time.Time `json:"created_at"`
}

// TaskType categorizes what kind of work a task is.
type TaskType string

const (
	TaskTypeComputation    TaskType = "computation"
	TaskTypeDataProcessing TaskType = "data-processing"
	TaskTypeWebScraping    TaskType = "web-scraping"
	TaskTypeFileOperation  TaskType = "file-operation"
	TaskTypeAPIIntegration TaskType = "api-integration"
	TaskTypeGeneral        TaskType = "general"
)

// Valid reports whether t is a member of the closed task-type set.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeComputation, TaskTypeDataProcessing, TaskTypeWebScraping,
		TaskTypeFileOperation, TaskTypeAPIIntegration, TaskTypeGeneral:
		return true
	}
	return false
}

// Complexity estimates how involved a task is.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Valid reports whether c is a member of the closed complexity set.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex:
		return true
	}
	return false
}

// Dependency is a tool or package the task needs.
type Dependency struct {
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Version  string `json:"version,omitempty"`
	Required bool   `json:"required"`
}

// PlanStep is one ordered step of the execution plan.
type PlanStep struct {
	StepNumber  int    `json:"step_number"`
	Description string `json:"description"`
	Script      string `json:"script,omitempty"`
	DependsOn   []int  `json:"depends_on,omitempty"`
}

// TaskAnalysis is the immutable decomposition of a task description,
// produced once by the analyze stage. Re-running the stage supersedes a
// prior analysis; it is never mutated in place.
type TaskAnalysis struct {
	TaskType          TaskType     `json:"task_type"`
	Complexity        Complexity   `json:"complexity"`
	Dependencies      []Dependency `json:"dependencies,omitempty"`
	ExecutionPlan     []PlanStep   `json:"execution_plan"`
	EstimatedDuration string       `json:"estimated_duration,omitempty"`
	RiskFactors       []string     `json:"risk_factors,omitempty"`
}

// EnvironmentSpec describes how to prepare the sandbox before scripts run.
type EnvironmentSpec struct {
	// PackageManifest maps package name to version constraint.
	PackageManifest map[string]string `json:"package_manifest,omitempty"`

	// SetupScript runs once after the manifest is written.
	SetupScript string `json:"setup_script,omitempty"`

	// EnvironmentVariables are exported for every command in the run.
	EnvironmentVariables map[string]string `json:"environment_variables,omitempty"`

	// SystemRequirements lists system-level tools the sandbox must provide.
	SystemRequirements []string `json:"system_requirements,omitempty"`
}

// Script is one executable unit of a ScriptBundle.
type Script struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Code        string   `json:"code"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Order       int      `json:"order"`

	// Retryable scripts record their failure and let the run continue.
	// Non-retryable scripts abort the run on failure.
	Retryable bool `json:"retryable"`
}

// ScriptBundle is the ordered set of scripts produced by the
// generate-scripts stage.
type ScriptBundle struct {
	Scripts []Script `json:"scripts"`

	// MainScript runs after every script succeeded or was skipped past;
	// its stdout becomes the run's final output.
	MainScript string `json:"main_script"`
}

// ScriptResult records one script's execution outcome. Failure is data
// here, not an error: a non-zero exit produces Success=false.
type ScriptResult struct {
	ScriptName string `json:"script_name"`
	Success    bool   `json:"success"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	RetryCount int    `json:"retry_count"`
}

// ExecutionResult is the terminal payload of a successful run. It is
// either fully present or absent — never half-populated.
type ExecutionResult struct {
	ScriptResults []ScriptResult `json:"script_results"`
	FinalOutput   string         `json:"final_output"`
	Summary       string         `json:"summary,omitempty"`
	NextSteps     []string       `json:"next_steps,omitempty"`
}

// Submission is the caller-facing input creating a TaskRun.
type Submission struct {
	TaskDescription string            `json:"task_description"`
	CorrelationID   string            `json:"correlation_id"`
	TenantID        string            `json:"tenant_id,omitempty"`
	Constraints     map[string]string `json:"constraints,omitempty"`
}

// Result is the final outcome returned for a TaskRun. Exactly one of
// ExecutionResult and Error is set.
type Result struct {
	Success         bool             `json:"success"`
	TaskRunID       string           `json:"task_run_id"`
	ExecutionResult *ExecutionResult `json:"execution_result,omitempty"`
	Analysis        *TaskAnalysis    `json:"analysis,omitempty"`
	ScriptBundle    *ScriptBundle    `json:"script_bundle,omitempty"`
	Error           string           `json:"error,omitempty"`
	Reason          string           `json:"reason,omitempty"`
}
