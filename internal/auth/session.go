// Package auth owns the CLI's authentication lifecycle: session bootstrap
// and legacy credential cleanup, login flows (browser, one-time code, MFA
// step-up), logout, and the guardrails derived from authentication state.
// Commands talk to this package only; the identity provider client stays
// internal to it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/taskmaster-dev/taskmaster/internal/autherr"
	"github.com/taskmaster-dev/taskmaster/internal/contextstore"
	"github.com/taskmaster-dev/taskmaster/internal/identity"
)

const (
	legacyCredentialsDir  = ".taskmaster"
	legacyCredentialsFile = "auth.json"
)

// assuranceLevelMFA is the level a session reaches only after a completed
// second-factor verification.
const assuranceLevelMFA = "aal2"

// SessionManager mediates all session access. Bootstrap runs exactly once
// per manager, no matter how many goroutines trigger it; it also cleans up
// credential files left behind by older installations. Read paths never
// fail: broken state reads as "not signed in".
type SessionManager struct {
	provider *identity.Provider
	contexts *contextstore.Store

	// legacyPath overrides the legacy credential file location in tests.
	legacyPath string

	initOnce sync.Once
	initErr  error
}

// SessionManagerOption configures a SessionManager.
type SessionManagerOption func(*SessionManager)

// WithLegacyCredentialsPath overrides where bootstrap and logout look for
// credentials from older installations.
func WithLegacyCredentialsPath(path string) SessionManagerOption {
	return func(m *SessionManager) { m.legacyPath = path }
}

// NewSessionManager creates a SessionManager. Bootstrap is deferred until
// the first session access.
func NewSessionManager(provider *identity.Provider, contexts *contextstore.Store, opts ...SessionManagerOption) *SessionManager {
	m := &SessionManager{provider: provider, contexts: contexts}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize runs bootstrap once and memoizes the result. Concurrent callers
// block until the single bootstrap finishes and share its outcome.
func (m *SessionManager) Initialize(ctx context.Context) error {
	m.initOnce.Do(func() { m.initErr = m.bootstrap(ctx) })
	return m.initErr
}

func (m *SessionManager) bootstrap(ctx context.Context) error {
	client, err := m.provider.Client()
	if err != nil {
		return fmt.Errorf("initializing identity client: %w", err)
	}

	m.cleanupLegacyCredentials(ctx, client)
	return nil
}

// cleanupLegacyCredentials handles a credential file written by older
// installations. With a valid session in place the file is stale and gets
// removed; without one it is left where it is and the user is told to sign
// in again. The file's contents are never adopted. Every failure is
// non-fatal.
func (m *SessionManager) cleanupLegacyCredentials(ctx context.Context, client *identity.Client) {
	path := m.legacyCredentialsPath(ctx)
	if path == "" {
		return
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			slog.WarnContext(ctx, "legacy credential file unreadable", "path", path, "error", err)
		}
		return
	}

	sess, err := client.CurrentSession(ctx)
	if err != nil || sess == nil {
		slog.WarnContext(ctx, `found credentials from an older installation; run "taskmaster auth login" to sign in again`, "path", path)
		return
	}

	if err := os.Remove(path); err != nil {
		slog.WarnContext(ctx, "could not remove credential file from an older installation", "path", path, "error", err)
		return
	}
	slog.InfoContext(ctx, "removed credential file from an older installation", "path", path)
}

// legacyCredentialsPath returns where older installations kept their
// credential file, or "" when it cannot be determined.
func (m *SessionManager) legacyCredentialsPath(ctx context.Context) string {
	if m.legacyPath != "" {
		return m.legacyPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		slog.DebugContext(ctx, "no home directory, skipping legacy credential handling", "error", err)
		return ""
	}
	return filepath.Join(home, legacyCredentialsDir, legacyCredentialsFile)
}

// client bootstraps if needed and returns the shared identity client.
func (m *SessionManager) client(ctx context.Context) (*identity.Client, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}
	return m.provider.Client()
}

// GetSession returns the current valid session, refreshing it when expired.
// Any failure reads as not signed in.
func (m *SessionManager) GetSession(ctx context.Context) *identity.Session {
	client, err := m.client(ctx)
	if err != nil {
		slog.DebugContext(ctx, "session unavailable", "error", err)
		return nil
	}

	sess, err := client.CurrentSession(ctx)
	if err != nil {
		slog.DebugContext(ctx, "session read failed", "error", err)
		return nil
	}
	return sess
}

// HasValidSession reports whether a usable session exists. It never fails.
func (m *SessionManager) HasValidSession(ctx context.Context) bool {
	return m.GetSession(ctx) != nil
}

// AccessToken returns a current access token, refreshing if needed. It
// satisfies the token source contract of the platform API client.
func (m *SessionManager) AccessToken(ctx context.Context) (string, error) {
	sess := m.GetSession(ctx)
	if sess == nil {
		return "", autherr.New(autherr.NoToken, "not authenticated")
	}
	return sess.AccessToken, nil
}

// GetAuthCredentials projects the live session and the stored user context
// into a flat Credentials value. Unauthenticated means (nil, nil), not an
// error.
func (m *SessionManager) GetAuthCredentials(ctx context.Context) (*Credentials, error) {
	client, err := m.client(ctx)
	if err != nil {
		return nil, err
	}

	sess, err := client.CurrentSession(ctx)
	if err != nil {
		slog.DebugContext(ctx, "session read failed", "error", err)
		return nil, nil
	}
	if sess == nil {
		return nil, nil
	}

	uc, err := m.contexts.Get(ctx)
	if err != nil {
		slog.WarnContext(ctx, "could not read user context for credential projection", "error", err)
	}
	return credentialsFromSession(sess, uc), nil
}

// RefreshSession forces a token refresh, re-saves the possibly rotated user
// identity into the context store, and returns the refreshed credentials.
func (m *SessionManager) RefreshSession(ctx context.Context) (*Credentials, error) {
	client, err := m.client(ctx)
	if err != nil {
		return nil, err
	}

	sess, err := client.RefreshSession(ctx)
	if err != nil {
		if errors.Is(err, identity.ErrNoRefreshToken) {
			return nil, autherr.New(autherr.NoRefreshToken, "no refresh token available")
		}
		return nil, autherr.Wrap(autherr.RefreshFailed, "session refresh failed", err)
	}

	if userID, email := sess.UserID(), sess.UserEmail(); userID != "" || email != "" {
		update := contextstore.UserContext{UserID: userID, Email: email}
		if err := m.contexts.Save(ctx, update); err != nil {
			slog.WarnContext(ctx, "refreshed session but could not update user context", "error", err)
		}
	}

	uc, err := m.contexts.Get(ctx)
	if err != nil {
		slog.WarnContext(ctx, "could not read user context for credential projection", "error", err)
	}
	return credentialsFromSession(sess, uc), nil
}

// AuthenticateWithCode exchanges a one-time login code for a session. When
// the account has a verified second factor, the exchange stops at an
// MFARequired error carrying the challenge; callers complete login through
// VerifyMFA.
func (m *SessionManager) AuthenticateWithCode(ctx context.Context, code string) (*identity.Session, error) {
	client, err := m.client(ctx)
	if err != nil {
		return nil, err
	}

	sess, err := client.VerifyLoginCode(ctx, code)
	if err != nil {
		if errors.Is(err, identity.ErrNoAccessToken) {
			return nil, autherr.Wrap(autherr.NoToken, "code exchange produced no access token", err)
		}
		return nil, autherr.Wrap(autherr.CodeAuthFailed, "one-time code authentication failed", err)
	}

	if challenge := m.pendingMFAChallenge(ctx, client, sess); challenge != nil {
		return nil, challenge
	}
	return sess, nil
}

// pendingMFAChallenge returns an MFARequired error when the session is stuck
// below the account's assurance level.
func (m *SessionManager) pendingMFAChallenge(ctx context.Context, client *identity.Client, sess *identity.Session) error {
	level := sess.AssuranceLevel()
	if level == "" || level == assuranceLevelMFA {
		return nil
	}

	factors, err := client.ListFactors(ctx)
	if err != nil {
		// The provider still enforces MFA server-side; without the factor
		// list we cannot offer the step-up prompt.
		slog.WarnContext(ctx, "could not list MFA factors", "error", err)
		return nil
	}
	for _, factor := range factors {
		if factor.Verified() {
			return autherr.NewChallenge(autherr.MFAChallenge{
				FactorID:   factor.ID,
				FactorType: factor.FactorType,
			})
		}
	}
	return nil
}

// VerifyMFA completes a pending step-up challenge. A rejected code comes
// back as MFAVerificationFailed so callers can re-prompt; transport and
// provider failures pass through untagged.
func (m *SessionManager) VerifyMFA(ctx context.Context, factorID, code string) (*identity.Session, error) {
	client, err := m.client(ctx)
	if err != nil {
		return nil, err
	}

	sess, err := client.VerifyMFA(ctx, factorID, code)
	if err != nil {
		if isInvalidMFACode(err) {
			return nil, autherr.Wrap(autherr.MFAVerificationFailed, "MFA code rejected", err)
		}
		return nil, fmt.Errorf("verifying MFA factor: %w", err)
	}
	return sess, nil
}

// isInvalidMFACode classifies provider rejections of the submitted code, as
// opposed to transport errors or provider outages.
func isInvalidMFACode(err error) bool {
	var apiErr *identity.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// Logout revokes the session remotely when possible and unconditionally
// clears local session, context, and legacy credential state. It never
// fails: a dead provider must not keep the user signed in.
func (m *SessionManager) Logout(ctx context.Context) {
	if client, err := m.client(ctx); err == nil {
		if err := client.SignOut(ctx); err != nil {
			slog.WarnContext(ctx, "remote sign-out failed, local session cleared anyway", "error", err)
		}
	} else {
		slog.DebugContext(ctx, "identity client unavailable during logout", "error", err)
	}

	if err := m.contexts.Clear(ctx); err != nil {
		slog.WarnContext(ctx, "failed to clear user context", "error", err)
	}

	if path := m.legacyCredentialsPath(ctx); path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.WarnContext(ctx, "could not remove legacy credential file", "path", path, "error", err)
		}
	}
}

// UserContext returns the stored working context, or nil when none exists.
func (m *SessionManager) UserContext(ctx context.Context) (*contextstore.UserContext, error) {
	return m.contexts.Get(ctx)
}

// Contexts returns the underlying context store.
func (m *SessionManager) Contexts() *contextstore.Store {
	return m.contexts
}
