package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sandboxd/internal/progress"
	"github.com/fyrsmithlabs/sandboxd/internal/reasoning"
	"github.com/fyrsmithlabs/sandboxd/internal/sandbox"
	"github.com/fyrsmithlabs/sandboxd/internal/taskrun"
)

const scriptDir = "/workspace/scripts"

const analyzeInstructions = `You decompose natural-language tasks into a structured analysis.
Respond with a single JSON object with exactly these fields:
"task_type" (one of: computation, data-processing, web-scraping, file-operation, api-integration, general),
"complexity" (one of: simple, moderate, complex),
"dependencies" (array of {"kind","name","version","required"}),
"execution_plan" (non-empty array of {"step_number","description","script","depends_on"}),
"estimated_duration" (string), "risk_factors" (array of strings).`

const environmentInstructions = `You prepare a Python sandbox environment for a previously analyzed task.
Respond with a single JSON object with exactly these fields:
"package_manifest" (object mapping pip package name to version, may be empty),
"setup_script" (bash script string, may be empty),
"environment_variables" (object of string to string),
"system_requirements" (array of strings).`

const scriptsInstructions = `You write Python scripts implementing an analyzed task inside a sandbox.
Respond with a single JSON object with exactly these fields:
"scripts" (array of {"name","description","code","depends_on","order","retryable"}; names end in .py),
"main_script" (Python source whose stdout is the task's final output).`

// Activities carries the dependencies task-run activities need. One
// instance is registered per worker.
type Activities struct {
	manager   *sandbox.Manager
	reasoning reasoning.Client
	progress  *progress.Publisher
	logger    *zap.Logger
}

// NewActivities wires activity dependencies.
func NewActivities(manager *sandbox.Manager, client reasoning.Client, publisher *progress.Publisher, logger *zap.Logger) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = progress.NewPublisher(nil, logger)
	}
	return &Activities{
		manager:   manager,
		reasoning: client,
		progress:  publisher,
		logger:    logger,
	}
}

func (a *Activities) publish(ctx context.Context, correlationID, stage, message string) {
	a.progress.Publish(ctx, correlationID, progress.Update{
		Message: message,
		Role:    "assistant",
		Stage:   stage,
	})
}

// reason calls the reasoning service and decodes the response through
// the strict boundary. Validation failures come back as retryable
// ValidationFailure application errors; transport faults pass through
// for the activity retry policy to handle.
func (a *Activities) reason(ctx context.Context, req reasoning.Request, out reasoning.Validator) error {
	raw, err := a.reasoning.Complete(ctx, req)
	if err != nil {
		return fmt.Errorf("reasoning call: %w", err)
	}
	if err := reasoning.Decode(req.SchemaName, raw, out); err != nil {
		return temporal.NewApplicationError(err.Error(), ErrTypeValidation)
	}
	return nil
}

// AnalyzeTask decomposes the task description into a TaskAnalysis.
func (a *Activities) AnalyzeTask(ctx context.Context, input AnalyzeInput) (*taskrun.TaskAnalysis, error) {
	a.publish(ctx, input.CorrelationID, string(taskrun.StatusAnalyzing), "Analyzing task...")

	content := input.TaskDescription
	if len(input.Constraints) > 0 {
		var sb strings.Builder
		sb.WriteString(content)
		sb.WriteString("\n\nConstraints:\n")
		for k, v := range input.Constraints {
			fmt.Fprintf(&sb, "- %s: %s\n", k, v)
		}
		content = sb.String()
	}

	var analysis taskrun.TaskAnalysis
	if err := a.reason(ctx, reasoning.Request{
		Instructions: analyzeInstructions,
		Content:      content,
		SchemaName:   "task_analysis",
	}, &analysis); err != nil {
		return nil, err
	}

	a.publish(ctx, input.CorrelationID, string(taskrun.StatusAnalyzing),
		fmt.Sprintf("Task analyzed: %s (%s)", analysis.TaskType, analysis.Complexity))
	recordStage(ctx, "analyze")
	return &analysis, nil
}

// GenerateEnvironment derives the sandbox environment spec. No sandbox
// interaction happens here.
func (a *Activities) GenerateEnvironment(ctx context.Context, input EnvironmentInput) (*taskrun.EnvironmentSpec, error) {
	a.publish(ctx, input.CorrelationID, string(taskrun.StatusEnvironmentSetup), "Configuring environment...")

	var spec taskrun.EnvironmentSpec
	if err := a.reason(ctx, reasoning.Request{
		Instructions: environmentInstructions,
		Content:      mustJSON(input.Analysis),
		SchemaName:   "environment_spec",
	}, &spec); err != nil {
		return nil, err
	}

	a.publish(ctx, input.CorrelationID, string(taskrun.StatusEnvironmentSetup),
		fmt.Sprintf("Environment configured: %d packages", len(spec.PackageManifest)))
	recordStage(ctx, "environment")
	return &spec, nil
}

// GenerateScripts derives the executable script bundle.
func (a *Activities) GenerateScripts(ctx context.Context, input ScriptsInput) (*taskrun.ScriptBundle, error) {
	a.publish(ctx, input.CorrelationID, string(taskrun.StatusGeneratingScripts), "Generating scripts...")

	content := fmt.Sprintf("Analysis:\n%s\n\nEnvironment:\n%s",
		mustJSON(input.Analysis), mustJSON(input.Environment))

	var bundle taskrun.ScriptBundle
	if err := a.reason(ctx, reasoning.Request{
		Instructions: scriptsInstructions,
		Content:      content,
		SchemaName:   "script_bundle",
	}, &bundle); err != nil {
		return nil, err
	}

	a.publish(ctx, input.CorrelationID, string(taskrun.StatusGeneratingScripts),
		fmt.Sprintf("Generated %d scripts", len(bundle.Scripts)))
	recordStage(ctx, "scripts")
	return &bundle, nil
}

// AcquireSandbox provisions the run's single sandbox. The returned
// handle is checkpointed by the workflow, so across restarts the
// acquisition happens at most once per run.
func (a *Activities) AcquireSandbox(ctx context.Context, input AcquireInput) (sandbox.Handle, error) {
	a.publish(ctx, input.CorrelationID, string(taskrun.StatusExecuting), "Provisioning sandbox...")

	h, err := a.manager.Acquire(ctx, input.TenantID, input.Runtime)
	if err != nil {
		return sandbox.Handle{}, temporal.NewApplicationError(err.Error(), ErrTypeResourceUnavailable)
	}
	return h, nil
}

// ApplyEnvironment prepares the sandbox from the environment spec. A failed setup
// command is data in the result, not an activity error.
func (a *Activities) ApplyEnvironment(ctx context.Context, input ApplyEnvironmentInput) (sandbox.ExecResult, error) {
	a.publish(ctx, input.CorrelationID, string(taskrun.StatusExecuting), "Applying environment...")

	res, err := a.manager.ApplyEnvironment(ctx, input.Handle, input.Spec)
	if err != nil {
		return sandbox.ExecResult{}, temporal.NewApplicationError(err.Error(), ErrTypeResourceUnavailable)
	}
	return res, nil
}

// RunScript writes one bundle script into the sandbox and executes it.
// Non-zero exits produce Success=false results; only transport faults
// error.
func (a *Activities) RunScript(ctx context.Context, input RunScriptInput) (taskrun.ScriptResult, error) {
	a.publish(ctx, input.CorrelationID, string(taskrun.StatusExecuting),
		fmt.Sprintf("Running script %s...", input.Script.Name))

	res, err := a.execCode(ctx, input.Handle, input.Script.Name, input.Script.Code, input.Env)
	if err != nil {
		return taskrun.ScriptResult{}, temporal.NewApplicationError(err.Error(), ErrTypeResourceUnavailable)
	}

	sr := taskrun.ScriptResult{
		ScriptName: input.Script.Name,
		Success:    res.Success,
		Output:     res.Stdout,
		DurationMs: res.DurationMs,
	}
	if !res.Success {
		sr.Error = execError(res)
		recordScriptFailure(ctx, input.Script.Name)
	}
	return sr, nil
}

// RunMainScript executes the bundle's main script; its stdout becomes
// the run's final output.
func (a *Activities) RunMainScript(ctx context.Context, input RunMainScriptInput) (sandbox.ExecResult, error) {
	a.publish(ctx, input.CorrelationID, string(taskrun.StatusExecuting), "Running main script...")

	res, err := a.execCode(ctx, input.Handle, "main.py", input.Code, input.Env)
	if err != nil {
		return sandbox.ExecResult{}, temporal.NewApplicationError(err.Error(), ErrTypeResourceUnavailable)
	}
	return res, nil
}

// ReleaseSandbox tears the run's sandbox down. It never fails: teardown
// problems are logged by the manager and the provider timeout reaps
// leaks.
func (a *Activities) ReleaseSandbox(ctx context.Context, input ReleaseInput) error {
	a.manager.Release(ctx, input.Handle)
	a.publish(ctx, input.CorrelationID, string(taskrun.StatusExecuting), "Sandbox released")
	return nil
}

// execCode writes code to a file and runs it, picking the interpreter
// from the file name.
func (a *Activities) execCode(ctx context.Context, h sandbox.Handle, name, code string, env map[string]string) (sandbox.ExecResult, error) {
	scriptPath := path.Join(scriptDir, name)
	start := time.Now()

	wr, err := a.manager.WriteFiles(ctx, h, []sandbox.File{{Path: scriptPath, Content: code}})
	if err != nil {
		return sandbox.ExecResult{}, err
	}
	if len(wr.Failed) > 0 {
		return sandbox.ExecResult{
			Success:    false,
			Error:      fmt.Sprintf("writing %s: %s", scriptPath, wr.Failed[0].Error),
			DurationMs: time.Since(start).Milliseconds(),
		}, nil
	}

	command, args := "bash", []string{scriptPath}
	if strings.HasSuffix(name, ".py") {
		command = "python3"
	}
	return a.manager.RunCommand(ctx, h, sandbox.ExecRequest{
		Command: command,
		Args:    args,
		Cwd:     scriptDir,
		Env:     env,
	})
}

// mustJSON renders a value for inclusion in a reasoning prompt. The
// artifact types all marshal cleanly; a failure here is a programming
// error and renders as an empty object.
func mustJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// execError extracts the most useful failure description from a result.
func execError(res sandbox.ExecResult) string {
	if res.Error != "" {
		return res.Error
	}
	if strings.TrimSpace(res.Stderr) != "" {
		return strings.TrimSpace(res.Stderr)
	}
	return fmt.Sprintf("exit code %d", res.ExitCode)
}
