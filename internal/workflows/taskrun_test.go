package workflows

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/fyrsmithlabs/sandboxd/internal/sandbox"
	"github.com/fyrsmithlabs/sandboxd/internal/taskrun"
)

func newTestEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(TaskRunWorkflow)
	return env
}

func simpleAnalysis() *taskrun.TaskAnalysis {
	return &taskrun.TaskAnalysis{
		TaskType:   taskrun.TaskTypeComputation,
		Complexity: taskrun.ComplexitySimple,
		ExecutionPlan: []taskrun.PlanStep{
			{StepNumber: 1, Description: "print the numbers"},
		},
	}
}

func testInput() TaskRunInput {
	return TaskRunInput{
		TaskRunID: "run-1",
		Submission: taskrun.Submission{
			TaskDescription: "print the numbers 1 to 5",
			CorrelationID:   "corr-1",
			TenantID:        "tenant-a",
		},
	}
}

func TestTaskRunWorkflowHappyPath(t *testing.T) {
	env := newTestEnv(t)
	var a *Activities

	env.OnActivity(a.AnalyzeTask, mock.Anything, mock.Anything).Return(simpleAnalysis(), nil)
	env.OnActivity(a.GenerateEnvironment, mock.Anything, mock.Anything).
		Return(&taskrun.EnvironmentSpec{}, nil)
	env.OnActivity(a.GenerateScripts, mock.Anything, mock.Anything).Return(&taskrun.ScriptBundle{
		Scripts: []taskrun.Script{
			{Name: "print.py", Code: "for i in range(1, 6): print(i)", Order: 1, Retryable: true},
		},
		MainScript: "for i in range(1, 6): print(i)",
	}, nil)
	env.OnActivity(a.AcquireSandbox, mock.Anything, mock.Anything).
		Return(sandbox.Handle{ID: "sbx-1"}, nil)
	env.OnActivity(a.ApplyEnvironment, mock.Anything, mock.Anything).
		Return(sandbox.ExecResult{Success: true}, nil)
	env.OnActivity(a.RunScript, mock.Anything, mock.Anything).
		Return(taskrun.ScriptResult{ScriptName: "print.py", Success: true, Output: "1\n2\n3\n4\n5\n"}, nil)
	env.OnActivity(a.RunMainScript, mock.Anything, mock.Anything).
		Return(sandbox.ExecResult{Success: true, Stdout: "1\n2\n3\n4\n5\n"}, nil)
	env.OnActivity(a.ReleaseSandbox, mock.Anything, mock.Anything).Return(nil).Times(1)

	env.ExecuteWorkflow(TaskRunWorkflow, testInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result taskrun.Result
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.True(t, result.Success)
	assert.Equal(t, "run-1", result.TaskRunID)
	require.NotNil(t, result.ExecutionResult)
	assert.Contains(t, result.ExecutionResult.FinalOutput, "1\n2\n3\n4\n5")
	require.Len(t, result.ExecutionResult.ScriptResults, 1)
	assert.True(t, result.ExecutionResult.ScriptResults[0].Success)
	assert.Empty(t, result.Error)
	require.NotNil(t, result.Analysis)
	assert.Equal(t, taskrun.TaskTypeComputation, result.Analysis.TaskType)

	env.AssertExpectations(t)
}

func TestTaskRunWorkflowNonRetryableScriptAborts(t *testing.T) {
	env := newTestEnv(t)
	var a *Activities

	env.OnActivity(a.AnalyzeTask, mock.Anything, mock.Anything).Return(simpleAnalysis(), nil)
	env.OnActivity(a.GenerateEnvironment, mock.Anything, mock.Anything).
		Return(&taskrun.EnvironmentSpec{}, nil)
	env.OnActivity(a.GenerateScripts, mock.Anything, mock.Anything).Return(&taskrun.ScriptBundle{
		Scripts: []taskrun.Script{
			{Name: "first.py", Code: "x", Order: 1, Retryable: false},
			{Name: "second.py", Code: "y", Order: 2, Retryable: true},
		},
		MainScript: "print('never')",
	}, nil)
	env.OnActivity(a.AcquireSandbox, mock.Anything, mock.Anything).
		Return(sandbox.Handle{ID: "sbx-1"}, nil)
	env.OnActivity(a.ApplyEnvironment, mock.Anything, mock.Anything).
		Return(sandbox.ExecResult{Success: true}, nil)
	// The non-retryable first script exits 1; second.py and the main
	// script must never run.
	env.OnActivity(a.RunScript, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, input RunScriptInput) (taskrun.ScriptResult, error) {
			require.Equal(t, "first.py", input.Script.Name, "later scripts must not execute")
			return taskrun.ScriptResult{
				ScriptName: input.Script.Name,
				Success:    false,
				Error:      "exit code 1",
			}, nil
		}).Times(1)
	env.OnActivity(a.ReleaseSandbox, mock.Anything, mock.Anything).Return(nil).Times(1)

	env.ExecuteWorkflow(TaskRunWorkflow, testInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result taskrun.Result
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.False(t, result.Success)
	assert.Nil(t, result.ExecutionResult, "failed runs never carry a partial execution result")
	assert.Equal(t, ReasonScriptFailed, result.Reason)
	assert.Contains(t, result.Error, "first.py")

	env.AssertExpectations(t)
}

func TestTaskRunWorkflowSchemaValidationExhaustsRetries(t *testing.T) {
	env := newTestEnv(t)
	var a *Activities

	attempts := 0
	env.OnActivity(a.AnalyzeTask, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, input AnalyzeInput) (*taskrun.TaskAnalysis, error) {
			attempts++
			return nil, temporal.NewApplicationError("execution_plan must not be empty", ErrTypeValidation)
		})

	env.ExecuteWorkflow(TaskRunWorkflow, testInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result taskrun.Result
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.False(t, result.Success)
	assert.Equal(t, ReasonSchemaValidationFailed, result.Reason)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, 3, attempts, "validation failures retry up to the policy bound")
}

func TestTaskRunWorkflowRetryableScriptsAllRun(t *testing.T) {
	env := newTestEnv(t)
	var a *Activities

	env.OnActivity(a.AnalyzeTask, mock.Anything, mock.Anything).Return(simpleAnalysis(), nil)
	env.OnActivity(a.GenerateEnvironment, mock.Anything, mock.Anything).
		Return(&taskrun.EnvironmentSpec{}, nil)
	env.OnActivity(a.GenerateScripts, mock.Anything, mock.Anything).Return(&taskrun.ScriptBundle{
		Scripts: []taskrun.Script{
			{Name: "a.py", Code: "a", Order: 1, Retryable: true},
			{Name: "b.py", Code: "b", Order: 2, Retryable: true},
			{Name: "c.py", Code: "c", Order: 3, Retryable: true},
		},
		MainScript: "print('done')",
	}, nil)
	env.OnActivity(a.AcquireSandbox, mock.Anything, mock.Anything).
		Return(sandbox.Handle{ID: "sbx-1"}, nil)
	env.OnActivity(a.ApplyEnvironment, mock.Anything, mock.Anything).
		Return(sandbox.ExecResult{Success: true}, nil)

	var mu sync.Mutex
	bAttempts := 0
	env.OnActivity(a.RunScript, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, input RunScriptInput) (taskrun.ScriptResult, error) {
			mu.Lock()
			defer mu.Unlock()
			// b.py always fails; a retryable failure must not stop c.py.
			if input.Script.Name == "b.py" {
				bAttempts++
				return taskrun.ScriptResult{ScriptName: "b.py", Success: false, Error: "exit code 1"}, nil
			}
			return taskrun.ScriptResult{ScriptName: input.Script.Name, Success: true, Output: input.Script.Code}, nil
		})
	env.OnActivity(a.RunMainScript, mock.Anything, mock.Anything).
		Return(sandbox.ExecResult{Success: true, Stdout: "done\n"}, nil)
	env.OnActivity(a.ReleaseSandbox, mock.Anything, mock.Anything).Return(nil).Times(1)

	env.ExecuteWorkflow(TaskRunWorkflow, testInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result taskrun.Result
	require.NoError(t, env.GetWorkflowResult(&result))
	require.True(t, result.Success)

	results := result.ExecutionResult.ScriptResults
	require.Len(t, results, 3, "one entry per input script")
	assert.Equal(t, "a.py", results[0].ScriptName)
	assert.Equal(t, "b.py", results[1].ScriptName)
	assert.Equal(t, "c.py", results[2].ScriptName)
	assert.False(t, results[1].Success)
	assert.Equal(t, maxScriptAttempts-1, results[1].RetryCount)
	assert.Equal(t, maxScriptAttempts, bAttempts)
	assert.Equal(t, "done\n", result.ExecutionResult.FinalOutput)

	env.AssertExpectations(t)
}

func TestTaskRunWorkflowResultsKeepSubmissionOrder(t *testing.T) {
	env := newTestEnv(t)
	var a *Activities

	env.OnActivity(a.AnalyzeTask, mock.Anything, mock.Anything).Return(simpleAnalysis(), nil)
	env.OnActivity(a.GenerateEnvironment, mock.Anything, mock.Anything).
		Return(&taskrun.EnvironmentSpec{}, nil)
	// The bundle lists its scripts out of Order: execution must follow
	// ascending Order while the result list keeps the bundle's order.
	env.OnActivity(a.GenerateScripts, mock.Anything, mock.Anything).Return(&taskrun.ScriptBundle{
		Scripts: []taskrun.Script{
			{Name: "report.py", Code: "r", Order: 3},
			{Name: "fetch.py", Code: "f", Order: 1},
			{Name: "transform.py", Code: "t", Order: 2},
		},
	}, nil)
	env.OnActivity(a.AcquireSandbox, mock.Anything, mock.Anything).
		Return(sandbox.Handle{ID: "sbx-1"}, nil)
	env.OnActivity(a.ApplyEnvironment, mock.Anything, mock.Anything).
		Return(sandbox.ExecResult{Success: true}, nil)

	var mu sync.Mutex
	var executed []string
	env.OnActivity(a.RunScript, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, input RunScriptInput) (taskrun.ScriptResult, error) {
			mu.Lock()
			defer mu.Unlock()
			executed = append(executed, input.Script.Name)
			return taskrun.ScriptResult{
				ScriptName: input.Script.Name,
				Success:    true,
				Output:     input.Script.Name + " output",
			}, nil
		})
	env.OnActivity(a.ReleaseSandbox, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(TaskRunWorkflow, testInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	assert.Equal(t, []string{"fetch.py", "transform.py", "report.py"}, executed)

	var result taskrun.Result
	require.NoError(t, env.GetWorkflowResult(&result))
	require.True(t, result.Success)

	results := result.ExecutionResult.ScriptResults
	require.Len(t, results, 3)
	assert.Equal(t, "report.py", results[0].ScriptName)
	assert.Equal(t, "fetch.py", results[1].ScriptName)
	assert.Equal(t, "transform.py", results[2].ScriptName)

	// Without a main script the final output is the last executed
	// script's output, not the last listed one's.
	assert.Equal(t, "report.py output", result.ExecutionResult.FinalOutput)
}

func TestTaskRunWorkflowRetryableScriptRecovers(t *testing.T) {
	env := newTestEnv(t)
	var a *Activities

	env.OnActivity(a.AnalyzeTask, mock.Anything, mock.Anything).Return(simpleAnalysis(), nil)
	env.OnActivity(a.GenerateEnvironment, mock.Anything, mock.Anything).
		Return(&taskrun.EnvironmentSpec{}, nil)
	env.OnActivity(a.GenerateScripts, mock.Anything, mock.Anything).Return(&taskrun.ScriptBundle{
		Scripts: []taskrun.Script{
			{Name: "flaky.py", Code: "x", Order: 1, Retryable: true},
		},
		MainScript: "print('ok')",
	}, nil)
	env.OnActivity(a.AcquireSandbox, mock.Anything, mock.Anything).
		Return(sandbox.Handle{ID: "sbx-1"}, nil)
	env.OnActivity(a.ApplyEnvironment, mock.Anything, mock.Anything).
		Return(sandbox.ExecResult{Success: true}, nil)

	attempts := 0
	env.OnActivity(a.RunScript, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, input RunScriptInput) (taskrun.ScriptResult, error) {
			attempts++
			if attempts < 3 {
				return taskrun.ScriptResult{ScriptName: "flaky.py", Success: false, Error: "exit code 1"}, nil
			}
			return taskrun.ScriptResult{ScriptName: "flaky.py", Success: true, Output: "ok"}, nil
		})
	env.OnActivity(a.RunMainScript, mock.Anything, mock.Anything).
		Return(sandbox.ExecResult{Success: true, Stdout: "ok\n"}, nil)
	env.OnActivity(a.ReleaseSandbox, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(TaskRunWorkflow, testInput())

	var result taskrun.Result
	require.NoError(t, env.GetWorkflowResult(&result))
	require.True(t, result.Success)
	require.Len(t, result.ExecutionResult.ScriptResults, 1)
	assert.True(t, result.ExecutionResult.ScriptResults[0].Success)
	assert.Equal(t, 2, result.ExecutionResult.ScriptResults[0].RetryCount)
}

func TestTaskRunWorkflowReleasesOnEnvironmentFailure(t *testing.T) {
	env := newTestEnv(t)
	var a *Activities

	env.OnActivity(a.AnalyzeTask, mock.Anything, mock.Anything).Return(simpleAnalysis(), nil)
	env.OnActivity(a.GenerateEnvironment, mock.Anything, mock.Anything).
		Return(&taskrun.EnvironmentSpec{SetupScript: "exit 1"}, nil)
	env.OnActivity(a.GenerateScripts, mock.Anything, mock.Anything).Return(&taskrun.ScriptBundle{
		MainScript: "print('never')",
	}, nil)
	env.OnActivity(a.AcquireSandbox, mock.Anything, mock.Anything).
		Return(sandbox.Handle{ID: "sbx-1"}, nil)
	env.OnActivity(a.ApplyEnvironment, mock.Anything, mock.Anything).
		Return(sandbox.ExecResult{Success: false, ExitCode: 1, Stderr: "setup exploded"}, nil)
	env.OnActivity(a.ReleaseSandbox, mock.Anything, mock.Anything).Return(nil).Times(1)

	env.ExecuteWorkflow(TaskRunWorkflow, testInput())

	var result taskrun.Result
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.False(t, result.Success)
	assert.Equal(t, ReasonEnvironmentSetupFailed, result.Reason)
	assert.Contains(t, result.Error, "setup exploded")

	env.AssertExpectations(t)
}

func TestTaskRunWorkflowSandboxUnavailable(t *testing.T) {
	env := newTestEnv(t)
	var a *Activities

	env.OnActivity(a.AnalyzeTask, mock.Anything, mock.Anything).Return(simpleAnalysis(), nil)
	env.OnActivity(a.GenerateEnvironment, mock.Anything, mock.Anything).
		Return(&taskrun.EnvironmentSpec{}, nil)
	env.OnActivity(a.GenerateScripts, mock.Anything, mock.Anything).Return(&taskrun.ScriptBundle{
		MainScript: "print('never')",
	}, nil)
	env.OnActivity(a.AcquireSandbox, mock.Anything, mock.Anything).
		Return(sandbox.Handle{}, temporal.NewApplicationError("no capacity", ErrTypeResourceUnavailable))

	env.ExecuteWorkflow(TaskRunWorkflow, testInput())

	var result taskrun.Result
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.False(t, result.Success)
	assert.Equal(t, ReasonSandboxUnavailable, result.Reason)
	// Nothing was acquired, so nothing is released.
	env.AssertNotCalled(t, "ReleaseSandbox", mock.Anything, mock.Anything)
}

func TestTaskRunWorkflowZeroScriptsWithMainScript(t *testing.T) {
	env := newTestEnv(t)
	var a *Activities

	env.OnActivity(a.AnalyzeTask, mock.Anything, mock.Anything).Return(simpleAnalysis(), nil)
	env.OnActivity(a.GenerateEnvironment, mock.Anything, mock.Anything).
		Return(&taskrun.EnvironmentSpec{}, nil)
	env.OnActivity(a.GenerateScripts, mock.Anything, mock.Anything).Return(&taskrun.ScriptBundle{
		MainScript: "print('solo')",
	}, nil)
	env.OnActivity(a.AcquireSandbox, mock.Anything, mock.Anything).
		Return(sandbox.Handle{ID: "sbx-1"}, nil)
	env.OnActivity(a.ApplyEnvironment, mock.Anything, mock.Anything).
		Return(sandbox.ExecResult{Success: true}, nil)
	env.OnActivity(a.RunMainScript, mock.Anything, mock.Anything).
		Return(sandbox.ExecResult{Success: true, Stdout: "solo\n"}, nil)
	env.OnActivity(a.ReleaseSandbox, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(TaskRunWorkflow, testInput())

	var result taskrun.Result
	require.NoError(t, env.GetWorkflowResult(&result))
	require.True(t, result.Success)
	assert.Empty(t, result.ExecutionResult.ScriptResults)
	assert.Equal(t, "solo\n", result.ExecutionResult.FinalOutput)
}

func TestBuildResultExclusivity(t *testing.T) {
	t.Run("success carries execution result only", func(t *testing.T) {
		s := &runState{
			run:  taskrun.TaskRun{ID: "r", Status: taskrun.StatusComplete},
			exec: &taskrun.ExecutionResult{FinalOutput: "out"},
		}
		res := s.buildResult()
		assert.True(t, res.Success)
		assert.NotNil(t, res.ExecutionResult)
		assert.Empty(t, res.Error)
	})

	t.Run("failure carries error only", func(t *testing.T) {
		s := &runState{run: taskrun.TaskRun{ID: "r"}}
		s.fail(ReasonScriptFailed, "script x failed")
		res := s.buildResult()
		assert.False(t, res.Success)
		assert.Nil(t, res.ExecutionResult)
		assert.Equal(t, "script x failed", res.Error)
		assert.Equal(t, ReasonScriptFailed, res.Reason)
	})

	t.Run("failure without message still yields an error string", func(t *testing.T) {
		s := &runState{run: taskrun.TaskRun{ID: "r", Status: taskrun.StatusError}}
		res := s.buildResult()
		assert.NotEmpty(t, res.Error)
	})
}

func TestReasonForError(t *testing.T) {
	assert.Equal(t, ReasonSchemaValidationFailed,
		reasonForError(temporal.NewApplicationError("x", ErrTypeValidation), ReasonExecutionFailed))
	assert.Equal(t, ReasonSandboxUnavailable,
		reasonForError(temporal.NewApplicationError("x", ErrTypeResourceUnavailable), ReasonExecutionFailed))
	assert.Equal(t, ReasonExecutionFailed,
		reasonForError(assert.AnError, ReasonExecutionFailed))
}
