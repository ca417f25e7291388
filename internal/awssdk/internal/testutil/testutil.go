package testutil

import (
	"context"
	"fmt"
	"strings"

	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"

	"github.com/mikecbrant/connectiv-portal/internal/utils/logging"
)

// FakeCognitoClient is a minimal fake for the Cognito IdP calls used in tests.
// It records the last input of each operation and returns the configured
// output/error pair.
type FakeCognitoClient struct {
	InitiateIn  *cip.InitiateAuthInput
	InitiateOut *cip.InitiateAuthOutput
	InitiateErr error

	RespondIn  *cip.RespondToAuthChallengeInput
	RespondOut *cip.RespondToAuthChallengeOutput
	RespondErr error
}

// InitiateAuth records the input and returns the configured result.
func (f *FakeCognitoClient) InitiateAuth(_ context.Context, in *cip.InitiateAuthInput, _ ...func(*cip.Options)) (*cip.InitiateAuthOutput, error) {
	f.InitiateIn = in
	if f.InitiateErr != nil {
		return nil, f.InitiateErr
	}
	if f.InitiateOut != nil {
		return f.InitiateOut, nil
	}
	return &cip.InitiateAuthOutput{}, nil
}

// RespondToAuthChallenge records the input and returns the configured result.
func (f *FakeCognitoClient) RespondToAuthChallenge(_ context.Context, in *cip.RespondToAuthChallengeInput, _ ...func(*cip.Options)) (*cip.RespondToAuthChallengeOutput, error) {
	f.RespondIn = in
	if f.RespondErr != nil {
		return nil, f.RespondErr
	}
	if f.RespondOut != nil {
		return f.RespondOut, nil
	}
	return &cip.RespondToAuthChallengeOutput{}, nil
}

// BufferLogger is a buffer-backed logger that records calls for assertions.
type BufferLogger struct {
	Calls   []string
	Entries []string
}

// Debug records a debug-level log entry.
func (l *BufferLogger) Debug(msg string, ctx logging.Fields) { l.record("debug", msg, ctx) }

// Info records an info-level log entry.
func (l *BufferLogger) Info(msg string, ctx logging.Fields) { l.record("info", msg, ctx) }

// Warn records a warn-level log entry.
func (l *BufferLogger) Warn(msg string, ctx logging.Fields) { l.record("warn", msg, ctx) }

// Error records an error-level log entry.
func (l *BufferLogger) Error(msg string, ctx logging.Fields) { l.record("error", msg, ctx) }

func (l *BufferLogger) record(level, msg string, ctx logging.Fields) {
	l.Calls = append(l.Calls, level)
	// simple human-readable capture for assertions; not a JSON serializer
	l.Entries = append(l.Entries, fmt.Sprintf("%s: %s ctx=%v", level, msg, ctx))
}

var _ logging.Logger = (*BufferLogger)(nil)

// Contains reports whether s contains sub; exported for reuse across tests.
func Contains(s, sub string) bool { return strings.Contains(s, sub) }
