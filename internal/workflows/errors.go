package workflows

import (
	"errors"

	"go.temporal.io/sdk/temporal"
)

// Application error types attached to activity failures. The workflow
// maps them onto terminal reason codes; they never escape the router.
const (
	// ErrTypeValidation marks reasoning output that failed the decode
	// boundary. Retried up to the activity policy bound.
	ErrTypeValidation = "ValidationFailure"

	// ErrTypeResourceUnavailable marks sandbox provisioning or transport
	// failures. Retried with backoff up to the activity policy bound.
	ErrTypeResourceUnavailable = "ResourceUnavailable"
)

// Machine-readable reason codes carried on failed runs.
const (
	ReasonSchemaValidationFailed = "schema_validation_failed"
	ReasonSandboxUnavailable     = "sandbox_unavailable"
	ReasonEnvironmentSetupFailed = "environment_setup_failed"
	ReasonScriptFailed           = "script_failed"
	ReasonExecutionFailed        = "execution_failed"
	ReasonRouterLoopExceeded     = "router_loop_exceeded"
)

// reasonForError maps an exhausted activity failure onto a reason code,
// falling back to the stage's own code when the error carries no known
// application type.
func reasonForError(err error, fallback string) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		switch appErr.Type() {
		case ErrTypeValidation:
			return ReasonSchemaValidationFailed
		case ErrTypeResourceUnavailable:
			return ReasonSandboxUnavailable
		}
	}
	return fallback
}
