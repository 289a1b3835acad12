package auth

import "context"

// defaultMaxAttempts bounds interactive MFA code entry.
const defaultMaxAttempts = 3

// CodeProvider supplies one verification code per call. Interactive logins
// back it with a terminal prompt; tests back it with a queue.
type CodeProvider interface {
	Code(ctx context.Context) (string, error)
}

// CodeProviderFunc adapts a function to the CodeProvider interface.
type CodeProviderFunc func(ctx context.Context) (string, error)

// Code implements CodeProvider.
func (f CodeProviderFunc) Code(ctx context.Context) (string, error) {
	return f(ctx)
}

// RetryOptions tunes VerifyMFAWithRetry.
type RetryOptions struct {
	// MaxAttempts caps code submissions; zero means the default of 3.
	MaxAttempts int
	// OnInvalidCode runs after each rejected code that still leaves
	// attempts, typically to tell the user how many tries remain.
	OnInvalidCode func(attempt, remaining int)
}
