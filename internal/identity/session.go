package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// validitySkew is subtracted from the expiry when judging session validity,
// so a token about to expire mid-operation already counts as expired.
const validitySkew = 30 * time.Second

// User is the provider's account record.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Session is the provider-issued authentication state. ExpiresAt is epoch
// seconds; providers that send a relative expires_in instead are normalized
// by the client on receipt. SavedAt is stamped locally when the record is
// written to the credential store, never sent by the provider.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	SavedAt      int64  `json:"saved_at,omitempty"`
	User         *User  `json:"user,omitempty"`
}

// normalize folds a relative expires_in into the absolute ExpiresAt.
func (s *Session) normalize(now time.Time) {
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = now.Unix() + s.ExpiresIn
	}
	s.ExpiresIn = 0
}

// Valid reports whether the session carries a usable access token.
func (s *Session) Valid(now time.Time) bool {
	if s == nil || s.AccessToken == "" {
		return false
	}
	return !s.Expired(now)
}

// Expired reports whether the access token's lifetime has passed. A session
// with no discoverable expiry is treated as not expired; the provider will
// reject the token if it is wrong.
func (s *Session) Expired(now time.Time) bool {
	expiry := s.expiry()
	if expiry.IsZero() {
		return false
	}
	return now.After(expiry.Add(-validitySkew))
}

// expiry prefers the wire-level expires_at and falls back to the access
// token's exp claim.
func (s *Session) expiry() time.Time {
	if s.ExpiresAt > 0 {
		return time.Unix(s.ExpiresAt, 0)
	}
	claims := s.claims()
	if exp, ok := claims["exp"].(float64); ok && exp > 0 {
		return time.Unix(int64(exp), 0)
	}
	return time.Time{}
}

// UserID returns the account id, preferring the user record over the access
// token's sub claim.
func (s *Session) UserID() string {
	if s == nil {
		return ""
	}
	if s.User != nil && s.User.ID != "" {
		return s.User.ID
	}
	sub, _ := s.claims()["sub"].(string)
	return sub
}

// UserEmail returns the account email, preferring the user record over the
// access token's email claim.
func (s *Session) UserEmail() string {
	if s == nil {
		return ""
	}
	if s.User != nil && s.User.Email != "" {
		return s.User.Email
	}
	email, _ := s.claims()["email"].(string)
	return email
}

// AssuranceLevel returns the authenticator assurance level ("aal1", "aal2")
// carried in the access token, or "" when the token has none.
func (s *Session) AssuranceLevel() string {
	aal, _ := s.claims()["aal"].(string)
	return aal
}

// claims decodes the access token's claims without signature verification.
// The token came from the provider over TLS; claims are read for
// display/expiry hints, never for authorization decisions.
func (s *Session) claims() jwt.MapClaims {
	if s == nil || s.AccessToken == "" {
		return nil
	}
	token, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, jwt.MapClaims{})
	if err != nil {
		return nil
	}
	claims, _ := token.Claims.(jwt.MapClaims)
	return claims
}
