package anchoring

import "fmt"

// ErrorKind classifies a failed ledger submission.
type ErrorKind string

const (
	// KindNetwork covers transport failures before a response was read.
	KindNetwork ErrorKind = "network"
	// KindRateLimit covers provider throttling (HTTP 429).
	KindRateLimit ErrorKind = "rate_limit"
	// KindProvider covers any other non-success provider response.
	KindProvider ErrorKind = "provider"
)

// SubmitError is a classified anchoring submission failure. The gateway
// never swallows a failure: every non-success outcome surfaces as one of
// these, and the orchestrator decides containment.
type SubmitError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Cause      error
}

func (e *SubmitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("anchor submit (%s): %s: %s", e.Kind, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("anchor submit (%s): %s", e.Kind, e.Message)
}

func (e *SubmitError) Unwrap() error {
	return e.Cause
}
