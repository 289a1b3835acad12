package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taskmaster-dev/taskmaster/internal/autherr"
	"github.com/taskmaster-dev/taskmaster/internal/contextstore"
	"github.com/taskmaster-dev/taskmaster/internal/identity"
	"github.com/taskmaster-dev/taskmaster/internal/taskapi"
)

// Manager is the authentication surface for the rest of the CLI. It layers
// the login flows over SessionManager: on top of the raw operations it
// persists the signed-in identity to the working context once a login fully
// completes, it owns the interactive MFA retry loop, and it exposes the
// organization/brief selection that decides where tasks live.
type Manager struct {
	*SessionManager

	api *taskapi.Client
}

// NewManager wraps a SessionManager into the full authentication surface.
// The platform client backs organization and brief listing.
func NewManager(sessions *SessionManager, api *taskapi.Client) *Manager {
	return &Manager{SessionManager: sessions, api: api}
}

// ListOrganizations returns the organizations the signed-in user belongs to.
func (a *Manager) ListOrganizations(ctx context.Context) ([]taskapi.Organization, error) {
	return a.api.ListOrganizations(ctx)
}

// ListBriefs returns the briefs of the given organization.
func (a *Manager) ListBriefs(ctx context.Context, orgID string) ([]taskapi.Brief, error) {
	return a.api.ListBriefs(ctx, orgID)
}

// SelectOrganization records the working organization. Selecting one drops
// any previously selected brief; briefs belong to a single organization.
func (a *Manager) SelectOrganization(ctx context.Context, org taskapi.Organization) error {
	update := contextstore.UserContext{
		SelectedContext: &contextstore.SelectedContext{
			OrgID:   org.ID,
			OrgSlug: org.Slug,
		},
	}
	return a.contexts.Save(ctx, update)
}

// SelectBrief records the working brief within the already selected
// organization.
func (a *Manager) SelectBrief(ctx context.Context, brief taskapi.Brief) error {
	uc, err := a.contexts.Get(ctx)
	if err != nil {
		return fmt.Errorf("reading user context: %w", err)
	}
	if uc == nil || uc.SelectedContext == nil || uc.SelectedContext.OrgID == "" {
		return fmt.Errorf("no organization selected, run \"taskmaster context org\" first")
	}

	selected := *uc.SelectedContext
	selected.BriefID = brief.ID
	selected.BriefName = brief.Name
	update := contextstore.UserContext{SelectedContext: &selected}
	return a.contexts.Save(ctx, update)
}

// UpdateContext merges the given fields into the stored user context.
func (a *Manager) UpdateContext(ctx context.Context, update contextstore.UserContext) error {
	return a.contexts.Save(ctx, update)
}

// ClearSelection drops the organization/brief selection, keeping the
// signed-in identity.
func (a *Manager) ClearSelection(ctx context.Context) error {
	return a.contexts.ClearSelection(ctx)
}

// ClearContext removes the stored user context entirely.
func (a *Manager) ClearContext(ctx context.Context) error {
	return a.contexts.Clear(ctx)
}

// AuthenticateWithCode exchanges a one-time login code for a session and, on
// full success, records the signed-in identity in the working context. When
// a second factor is required, the MFARequired error passes through and
// nothing is recorded; the login completes in VerifyMFA.
func (a *Manager) AuthenticateWithCode(ctx context.Context, code string) (*identity.Session, error) {
	sess, err := a.SessionManager.AuthenticateWithCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if err := a.persistIdentity(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// VerifyMFA completes a pending step-up challenge and records the signed-in
// identity in the working context.
func (a *Manager) VerifyMFA(ctx context.Context, factorID, code string) (*identity.Session, error) {
	sess, err := a.SessionManager.VerifyMFA(ctx, factorID, code)
	if err != nil {
		return nil, err
	}

	if err := a.persistIdentity(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// VerifyMFAWithRetry drives interactive MFA entry: it asks the code provider
// for a code, submits it, and re-prompts on rejection until the attempts run
// out. Provider outages and code-provider failures abort immediately; only
// rejected codes are retried.
func (a *Manager) VerifyMFAWithRetry(ctx context.Context, factorID string, codes CodeProvider, opts RetryOptions) (*identity.Session, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		code, err := codes.Code(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading verification code: %w", err)
		}

		sess, err := a.VerifyMFA(ctx, factorID, code)
		if err == nil {
			return sess, nil
		}
		if !autherr.HasCode(err, autherr.MFAVerificationFailed) {
			return nil, err
		}

		lastErr = err
		if attempt < maxAttempts && opts.OnInvalidCode != nil {
			opts.OnInvalidCode(attempt, maxAttempts-attempt)
		}
	}
	return nil, lastErr
}

// persistIdentity records who is signed in. The identity comes from the
// session's token claims when present, otherwise from the provider's user
// endpoint.
func (a *Manager) persistIdentity(ctx context.Context, sess *identity.Session) error {
	userID, email := sess.UserID(), sess.UserEmail()
	if userID == "" {
		client, err := a.client(ctx)
		if err != nil {
			return err
		}
		user, err := client.GetUser(ctx)
		if err != nil {
			return autherr.Wrap(autherr.InvalidResponse, "user lookup failed after authentication", err)
		}
		if user.ID == "" {
			return autherr.New(autherr.InvalidResponse, "provider returned an empty user record")
		}
		userID, email = user.ID, user.Email
	}

	update := contextstore.UserContext{UserID: userID, Email: email}
	if err := a.Contexts().Save(ctx, update); err != nil {
		// The login itself succeeded; a read-only context file must not
		// undo it.
		slog.WarnContext(ctx, "authenticated but could not persist user context", "error", err)
	}
	return nil
}
