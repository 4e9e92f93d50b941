package taskrun

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidSubmission is wrapped by every submission validation failure.
var ErrInvalidSubmission = errors.New("invalid submission")

// ValidateSubmission rejects malformed submissions before a TaskRun is
// created.
func ValidateSubmission(s Submission) error {
	if strings.TrimSpace(s.TaskDescription) == "" {
		return fmt.Errorf("%w: task_description must not be empty", ErrInvalidSubmission)
	}
	if strings.TrimSpace(s.CorrelationID) == "" {
		return fmt.Errorf("%w: correlation_id is required", ErrInvalidSubmission)
	}
	return nil
}

// Validate checks a TaskAnalysis against the analysis schema: enumerated
// task type and complexity, and a non-empty execution plan. An empty plan
// is a validation failure, not an empty success.
func (a *TaskAnalysis) Validate() error {
	if !a.TaskType.Valid() {
		return fmt.Errorf("task_type %q is not a known task type", a.TaskType)
	}
	if !a.Complexity.Valid() {
		return fmt.Errorf("complexity %q is not a known complexity", a.Complexity)
	}
	if len(a.ExecutionPlan) == 0 {
		return errors.New("execution_plan must not be empty")
	}
	for i, step := range a.ExecutionPlan {
		if strings.TrimSpace(step.Description) == "" {
			return fmt.Errorf("execution_plan[%d]: description must not be empty", i)
		}
	}
	return nil
}

// Validate checks an EnvironmentSpec. An entirely empty spec is valid:
// not every task needs packages or setup.
func (e *EnvironmentSpec) Validate() error {
	for name := range e.PackageManifest {
		if strings.TrimSpace(name) == "" {
			return errors.New("package_manifest contains an empty package name")
		}
	}
	return nil
}

// Validate checks a ScriptBundle. Zero scripts with a non-empty main
// script is valid; a bundle with neither is not.
func (b *ScriptBundle) Validate() error {
	if len(b.Scripts) == 0 && strings.TrimSpace(b.MainScript) == "" {
		return errors.New("bundle has no scripts and no main script")
	}
	seen := make(map[string]struct{}, len(b.Scripts))
	for i, s := range b.Scripts {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("scripts[%d]: name must not be empty", i)
		}
		if strings.TrimSpace(s.Code) == "" {
			return fmt.Errorf("scripts[%d] (%s): code must not be empty", i, s.Name)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("duplicate script name %q", s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}

// OrderedScripts returns the bundle's scripts sorted by ascending Order.
// The input slice is not modified.
func (b *ScriptBundle) OrderedScripts() []Script {
	out := make([]Script, len(b.Scripts))
	copy(out, b.Scripts)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
