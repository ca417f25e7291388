package errors

import (
	goerrors "errors"
	"fmt"
)

// Kind identifies a user-facing failure category in the portal auth/API flow.
type Kind string

const (
	// ConfigUnavailable means the runtime configuration document could not be
	// loaded; fatal for the process lifetime.
	ConfigUnavailable Kind = "ConfigUnavailable"
	// InvalidInput means local validation rejected the submission before any
	// provider call was made.
	InvalidInput Kind = "InvalidInput"
	// AuthenticationFailed means the identity provider rejected the credentials.
	AuthenticationFailed Kind = "AuthenticationFailed"
	// ChallengeFailed means the new-password submission was rejected; the
	// challenge state is preserved so the user may retry.
	ChallengeFailed Kind = "ChallengeFailed"
	// MissingPendingUser means a challenge operation was invoked with no
	// challenge in progress.
	MissingPendingUser Kind = "MissingPendingUser"
	// NotAuthenticated means a protected call was attempted with no
	// authenticated session.
	NotAuthenticated Kind = "NotAuthenticated"
	// SessionExpired means the session failed its freshness re-check and the
	// user must authenticate again.
	SessionExpired Kind = "SessionExpired"
	// ApiError means the protected call failed in transport or returned a body
	// that could not be parsed.
	ApiError Kind = "ApiError"
)

// Single-line user-facing copy for each kind. The sign-in failure and session
// expiry strings are fixed product copy; do not rephrase them.
const (
	MsgConfigUnavailable    = "Configuration could not be loaded. Please try again later."
	MsgInvalidInput         = "Please enter a username and password."
	MsgAuthenticationFailed = "Login failed. Please check your credentials and try again."
	MsgChallengeFailed      = "Password update failed. Please try again."
	MsgMissingPendingUser   = "No sign-in in progress. Please start over."
	MsgNotAuthenticated     = "Please log in to continue."
	MsgSessionExpired       = "Session expired. Please log in again."
	MsgApiError             = "Request failed. Please try again."
)

// FlowError carries a failure kind plus the exact single-line message shown to
// the user. Provider and transport causes are wrapped, never surfaced verbatim.
type FlowError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *FlowError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *FlowError) Unwrap() error { return e.Cause }

// New returns a FlowError with the standard message for kind.
func New(kind Kind) *FlowError {
	return &FlowError{Kind: kind, Message: defaultMessage(kind)}
}

// Wrap returns a FlowError with the standard message for kind and a cause.
func Wrap(kind Kind, cause error) *FlowError {
	return &FlowError{Kind: kind, Message: defaultMessage(kind), Cause: cause}
}

// KindOf reports the flow kind of err, unwrapping as needed.
func KindOf(err error) (Kind, bool) {
	var fe *FlowError
	if goerrors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// Is reports whether err is a FlowError of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// MessageOf returns the user-facing message for err, or a generic fallback when
// err carries no flow kind.
func MessageOf(err error) string {
	var fe *FlowError
	if goerrors.As(err, &fe) {
		return fe.Message
	}
	return MsgApiError
}

func defaultMessage(kind Kind) string {
	switch kind {
	case ConfigUnavailable:
		return MsgConfigUnavailable
	case InvalidInput:
		return MsgInvalidInput
	case AuthenticationFailed:
		return MsgAuthenticationFailed
	case ChallengeFailed:
		return MsgChallengeFailed
	case MissingPendingUser:
		return MsgMissingPendingUser
	case NotAuthenticated:
		return MsgNotAuthenticated
	case SessionExpired:
		return MsgSessionExpired
	case ApiError:
		return MsgApiError
	}
	return MsgApiError
}
