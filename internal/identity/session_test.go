package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// signedToken builds a structurally valid JWT carrying the given claims.
func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return token
}

func TestSessionNormalize(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name      string
		expiresAt int64
		expiresIn int64
		want      int64
	}{
		{
			name:      "absolute expiry kept",
			expiresAt: 1_700_003_600,
			expiresIn: 0,
			want:      1_700_003_600,
		},
		{
			name:      "relative expiry folded",
			expiresAt: 0,
			expiresIn: 3600,
			want:      1_700_003_600,
		},
		{
			name:      "absolute wins over relative",
			expiresAt: 1_700_001_000,
			expiresIn: 3600,
			want:      1_700_001_000,
		},
		{
			name:      "no expiry information",
			expiresAt: 0,
			expiresIn: 0,
			want:      0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := Session{ExpiresAt: tt.expiresAt, ExpiresIn: tt.expiresIn}
			sess.normalize(now)

			if sess.ExpiresAt != tt.want {
				t.Errorf("ExpiresAt = %d, want %d", sess.ExpiresAt, tt.want)
			}
			if sess.ExpiresIn != 0 {
				t.Errorf("ExpiresIn = %d, want 0 after normalize", sess.ExpiresIn)
			}
		})
	}
}

func TestSessionValid(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name string
		sess *Session
		want bool
	}{
		{
			name: "nil session",
			sess: nil,
			want: false,
		},
		{
			name: "no access token",
			sess: &Session{ExpiresAt: now.Unix() + 3600},
			want: false,
		},
		{
			name: "future expiry",
			sess: &Session{AccessToken: "tok", ExpiresAt: now.Unix() + 3600},
			want: true,
		},
		{
			name: "no expiry information",
			sess: &Session{AccessToken: "tok"},
			want: true,
		},
		{
			name: "already expired",
			sess: &Session{AccessToken: "tok", ExpiresAt: now.Unix() - 10},
			want: false,
		},
		{
			name: "inside validity skew",
			sess: &Session{AccessToken: "tok", ExpiresAt: now.Add(validitySkew / 2).Unix()},
			want: false,
		},
		{
			name: "just outside validity skew",
			sess: &Session{AccessToken: "tok", ExpiresAt: now.Add(validitySkew + time.Minute).Unix()},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sess.Valid(now); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSessionExpiryFromTokenClaims(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	expired := signedToken(t, jwt.MapClaims{"exp": float64(now.Unix() - 60)})
	live := signedToken(t, jwt.MapClaims{"exp": float64(now.Unix() + 3600)})

	tests := []struct {
		name        string
		sess        *Session
		wantExpired bool
	}{
		{
			name:        "exp claim in the past",
			sess:        &Session{AccessToken: expired},
			wantExpired: true,
		},
		{
			name:        "exp claim in the future",
			sess:        &Session{AccessToken: live},
			wantExpired: false,
		},
		{
			name:        "wire expiry overrides exp claim",
			sess:        &Session{AccessToken: expired, ExpiresAt: now.Unix() + 3600},
			wantExpired: false,
		},
		{
			name:        "opaque token without claims",
			sess:        &Session{AccessToken: "not-a-jwt"},
			wantExpired: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sess.Expired(now); got != tt.wantExpired {
				t.Errorf("Expired() = %v, want %v", got, tt.wantExpired)
			}
		})
	}
}

func TestSessionUserFields(t *testing.T) {
	claimToken := signedToken(t, jwt.MapClaims{
		"sub":   "user-from-claims",
		"email": "claims@example.com",
	})

	tests := []struct {
		name      string
		sess      *Session
		wantID    string
		wantEmail string
	}{
		{
			name: "user record preferred",
			sess: &Session{
				AccessToken: claimToken,
				User:        &User{ID: "user-1", Email: "record@example.com"},
			},
			wantID:    "user-1",
			wantEmail: "record@example.com",
		},
		{
			name:      "claims fallback",
			sess:      &Session{AccessToken: claimToken},
			wantID:    "user-from-claims",
			wantEmail: "claims@example.com",
		},
		{
			name:      "opaque token yields nothing",
			sess:      &Session{AccessToken: "not-a-jwt"},
			wantID:    "",
			wantEmail: "",
		},
		{
			name:      "nil session",
			sess:      nil,
			wantID:    "",
			wantEmail: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sess.UserID(); got != tt.wantID {
				t.Errorf("UserID() = %q, want %q", got, tt.wantID)
			}
			if got := tt.sess.UserEmail(); got != tt.wantEmail {
				t.Errorf("UserEmail() = %q, want %q", got, tt.wantEmail)
			}
		})
	}
}

func TestSessionAssuranceLevel(t *testing.T) {
	tests := []struct {
		name string
		sess *Session
		want string
	}{
		{
			name: "aal1",
			sess: &Session{AccessToken: signedToken(t, jwt.MapClaims{"aal": "aal1"})},
			want: "aal1",
		},
		{
			name: "aal2",
			sess: &Session{AccessToken: signedToken(t, jwt.MapClaims{"aal": "aal2"})},
			want: "aal2",
		},
		{
			name: "no aal claim",
			sess: &Session{AccessToken: signedToken(t, jwt.MapClaims{"sub": "user-1"})},
			want: "",
		},
		{
			name: "opaque token",
			sess: &Session{AccessToken: "not-a-jwt"},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sess.AssuranceLevel(); got != tt.want {
				t.Errorf("AssuranceLevel() = %q, want %q", got, tt.want)
			}
		})
	}
}
