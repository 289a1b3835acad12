// Package autherr defines the typed errors shared by the authentication,
// session, and storage-resolution subsystems.
//
// Every failure that callers are expected to branch on is an *Error carrying
// a Code. Call sites inspect the code of an error found anywhere in the chain
// via CodeOf or HasCode instead of matching on message text. Auxiliary
// structured data (the MFA challenge) rides on the error as a payload.
package autherr

import (
	"errors"
	"fmt"
)

// Code identifies a failure class within the auth and storage subsystems.
type Code string

const (
	// NoRefreshToken: a refresh was attempted with nothing to refresh.
	NoRefreshToken Code = "NO_REFRESH_TOKEN"
	// RefreshFailed: the identity provider rejected the refresh.
	RefreshFailed Code = "REFRESH_FAILED"
	// NoToken: a code exchange produced no access token.
	NoToken Code = "NO_TOKEN"
	// InvalidResponse: the user lookup failed after otherwise-successful auth.
	InvalidResponse Code = "INVALID_RESPONSE"
	// MFARequired: a second factor is needed; the error carries the challenge.
	MFARequired Code = "MFA_REQUIRED"
	// MFAVerificationFailed: wrong or expired verification code.
	MFAVerificationFailed Code = "MFA_VERIFICATION_FAILED"
	// CodeAuthFailed: generic one-time-code exchange failure.
	CodeAuthFailed Code = "CODE_AUTH_FAILED"
	// MissingConfiguration: storage resolution lacks required fields.
	MissingConfiguration Code = "MISSING_CONFIGURATION"
	// NotImplemented: a local-only mutation was attempted against api storage.
	NotImplemented Code = "NOT_IMPLEMENTED"
)

// MFAChallenge identifies a pending step-up challenge. Produced by a login
// attempt that requires a second factor, consumed by exactly one
// verification call.
type MFAChallenge struct {
	FactorID   string `json:"factorId"`
	FactorType string `json:"factorType"`
}

// Error is the single error type for the auth and storage subsystems.
type Error struct {
	Code      Code
	Message   string
	Challenge *MFAChallenge
	Cause     error
}

// Compile-time check that *Error implements error.
var _ error = (*Error)(nil)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that records cause as the underlying error.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// NewChallenge creates an MFARequired error carrying the challenge data.
func NewChallenge(challenge MFAChallenge) *Error {
	return &Error{
		Code:      MFARequired,
		Message:   "multi-factor authentication required",
		Challenge: &challenge,
	}
}

// CodeOf returns the code of the first *Error in err's chain, or "" when the
// chain contains none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err's chain contains an *Error with the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// ChallengeOf returns the MFA challenge attached to err's chain, or nil.
func ChallengeOf(err error) *MFAChallenge {
	var e *Error
	if errors.As(err, &e) {
		return e.Challenge
	}
	return nil
}
