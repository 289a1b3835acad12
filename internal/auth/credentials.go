package auth

import (
	"github.com/taskmaster-dev/taskmaster/internal/contextstore"
	"github.com/taskmaster-dev/taskmaster/internal/identity"
)

// defaultTokenType fills in for providers that issue tokens without naming
// their type.
const defaultTokenType = "bearer"

// Credentials is the flattened view of the current session and stored user
// context, handed to callers that only need tokens and identity, not
// session mechanics. The session stays the source of truth.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	UserID       string
	Email        string
	// ExpiresAt is epoch seconds; zero when the session has no known expiry.
	ExpiresAt int64
	// SavedAt is epoch seconds of the last credential store write.
	SavedAt int64
	// SelectedContext is the working organization/brief selection, nil when
	// none is stored.
	SelectedContext *contextstore.SelectedContext
}

// credentialsFromSession projects a session and the stored user context into
// Credentials. uc may be nil.
func credentialsFromSession(sess *identity.Session, uc *contextstore.UserContext) *Credentials {
	creds := &Credentials{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		TokenType:    sess.TokenType,
		UserID:       sess.UserID(),
		Email:        sess.UserEmail(),
		ExpiresAt:    sess.ExpiresAt,
		SavedAt:      sess.SavedAt,
	}
	if creds.TokenType == "" {
		creds.TokenType = defaultTokenType
	}
	if uc != nil {
		creds.SelectedContext = uc.SelectedContext
	}
	return creds
}
