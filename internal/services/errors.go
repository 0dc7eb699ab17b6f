package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDevice        = errors.New("device error")
	ErrEncoding      = errors.New("encoding error")
	ErrAuthExpired   = errors.New("authentication expired")
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("validation error")
	ErrIncomplete    = errors.New("not all items complete")
	ErrConfiguration = errors.New("configuration error")
	ErrTransient     = errors.New("transient failure")
)

// Recovery names the policy the caller applies after a failure.
type Recovery string

const (
	// RecoveryNone means no failure occurred.
	RecoveryNone Recovery = "none"
	// RecoveryUserAction means the failure persists until the user intervenes
	// (grant permission, plug in a device). Never retried automatically.
	RecoveryUserAction Recovery = "user_action"
	// RecoveryReauthenticate abandons the flow and sends the user to log in.
	RecoveryReauthenticate Recovery = "reauthenticate"
	// RecoveryRedirect abandons the flow and returns to a safe location.
	RecoveryRedirect Recovery = "redirect"
	// RecoveryRetake discards the artifact and forces a fresh capture.
	RecoveryRetake Recovery = "retake"
	// RecoveryDeferred reports a precondition that is not met yet.
	RecoveryDeferred Recovery = "deferred"
	// RecoveryRetry keeps the artifact so the same submission can be retried.
	RecoveryRetry Recovery = "retry"
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error to the recovery policy the view should apply.
func Classify(err error) Recovery {
	switch {
	case err == nil:
		return RecoveryNone
	case errors.Is(err, ErrDevice), errors.Is(err, ErrEncoding), errors.Is(err, ErrConfiguration):
		return RecoveryUserAction
	case errors.Is(err, ErrAuthExpired):
		return RecoveryReauthenticate
	case errors.Is(err, ErrNotFound):
		return RecoveryRedirect
	case errors.Is(err, ErrValidation):
		return RecoveryRetake
	case errors.Is(err, ErrIncomplete):
		return RecoveryDeferred
	default:
		return RecoveryRetry
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
