package flow

import "fmt"

// Code identifies the category of a FlowError, used by callers that need
// to branch on failure kind without string-matching Error().
type Code string

const (
	CodeInvalidArg      Code = "INVALID_ARG"
	CodeMissingKey      Code = "MISSING_KEY"
	CodeTypeKind        Code = "TYPE_KIND"
	CodePrepFailed      Code = "PREP_FAILED"
	CodeExecFailed      Code = "EXEC_FAILED"
	CodePostFailed      Code = "POST_FAILED"
	CodeMaxStepsExceeded Code = "MAX_STEPS_EXCEEDED"
	CodeIOError         Code = "IO_ERROR"
	CodeMalformed       Code = "MALFORMED"
)

// FlowError is the error type returned by Store, Node and Flow operations.
// The flow/db WorkflowDB implementations return plain wrapped errors, which
// Flow reports as IOError when a run's database write fails. NodeName
// is empty for errors that are not attributable to a single node (e.g.
// MaxStepsExceeded, Store-level errors raised outside a node's prep/exec/post
// call). Cause holds the underlying error, if any, and is reachable through
// Unwrap so callers can errors.Is/errors.As against sentinel causes.
type FlowError struct {
	Message  string
	Code     Code
	NodeName string
	Cause    error
}

func (e *FlowError) Error() string {
	if e.NodeName != "" {
		return fmt.Sprintf("%s: %s (node=%s)", e.Code, e.Message, e.NodeName)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

func newError(code Code, nodeName, format string, args ...any) *FlowError {
	return &FlowError{Message: fmt.Sprintf(format, args...), Code: code, NodeName: nodeName}
}

func wrapError(code Code, nodeName string, cause error, format string, args ...any) *FlowError {
	return &FlowError{Message: fmt.Sprintf(format, args...), Code: code, NodeName: nodeName, Cause: cause}
}

func errInvalidArg(nodeName, format string, args ...any) *FlowError {
	return newError(CodeInvalidArg, nodeName, format, args...)
}

func errMissingKey(key string) *FlowError {
	return newError(CodeMissingKey, "", "key %q not found in store", key)
}

func errTypeKind(key string, want, got TypeTag) *FlowError {
	return newError(CodeTypeKind, "", "key %q: expected %s, got %s", key, want, got)
}

func errPrepFailed(nodeName string, cause error) *FlowError {
	return wrapError(CodePrepFailed, nodeName, cause, "prep failed: %v", cause)
}

func errExecFailed(nodeName string, cause error) *FlowError {
	return wrapError(CodeExecFailed, nodeName, cause, "exec failed after retries exhausted: %v", cause)
}

func errPostFailed(nodeName string, cause error) *FlowError {
	return wrapError(CodePostFailed, nodeName, cause, "post failed: %v", cause)
}

func errMaxStepsExceeded(limit int) *FlowError {
	return newError(CodeMaxStepsExceeded, "", "exceeded max_steps=%d", limit)
}

func errIOError(cause error, format string, args ...any) *FlowError {
	return wrapError(CodeIOError, "", cause, format, args...)
}

func errMalformed(cause error, format string, args ...any) *FlowError {
	return wrapError(CodeMalformed, "", cause, format, args...)
}
