package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/taskmaster-dev/taskmaster/internal/credstore"
)

const (
	// oauthClientID is the public client identifier for the CLI's PKCE flow
	// (public client, no secret).
	oauthClientID = "taskmaster-cli"

	// refreshMargin is how long before expiry the auto-refresh timer fires.
	refreshMargin = time.Minute

	httpTimeout = 30 * time.Second
)

// ErrNoRefreshToken reports a refresh attempt with nothing to refresh.
var ErrNoRefreshToken = errors.New("no refresh token available")

// ErrNoAccessToken reports a provider response or token exchange that
// produced no access token where one was required.
var ErrNoAccessToken = errors.New("response contained no access token")

// Config holds the provider connection settings.
type Config struct {
	// Endpoint is the identity provider base URL.
	Endpoint string
	// PublicKey is the provider's public API key, sent with every request.
	PublicKey string
}

// APIError is a non-2xx response from the identity provider.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("identity provider returned %d: %s", e.StatusCode, e.Message)
}

// Factor is an enrolled multi-factor authenticator.
type Factor struct {
	ID         string `json:"id"`
	FactorType string `json:"factor_type"`
	Status     string `json:"status"`
}

// Verified reports whether the factor completed enrollment and can satisfy a
// step-up challenge.
func (f Factor) Verified() bool {
	return f.Status == "verified"
}

// Client is the session-capable identity provider client. It holds the
// current session, persists every session change through the credential
// store, runs the single auto-refresh timer, and single-flights refreshes so
// an explicit refresh racing the timer produces one provider call.
//
// Exactly one Client exists per process; Provider guarantees that.
type Client struct {
	cfg   Config
	http  *http.Client
	store credstore.Store

	mu      sync.RWMutex
	session *Session

	refreshGroup singleflight.Group

	timerMu      sync.Mutex
	refreshTimer *time.Timer

	// lastSaved holds the last written session content and its SavedAt
	// stamp, so unchanged records are not rewritten.
	lastSaved atomic.Pointer[savedRecord]
	writeMu   sync.Mutex
}

// savedRecord pairs the stamp-free content form of a persisted session with
// the SavedAt stamp it was written under.
type savedRecord struct {
	content string
	stamp   int64
}

// NewClient creates a Client and restores any persisted session from the
// store. A missing or unreadable record means starting unauthenticated; only
// configuration problems fail construction.
func NewClient(cfg Config, store credstore.Store) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("missing identity provider endpoint")
	}
	if cfg.PublicKey == "" {
		return nil, fmt.Errorf("missing identity provider public key")
	}
	if store == nil {
		return nil, fmt.Errorf("missing session store")
	}

	c := &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: httpTimeout,
			Transport: &apiTransport{
				base:      http.DefaultTransport,
				publicKey: cfg.PublicKey,
			},
		},
		store: store,
	}
	c.restoreSession()

	return c, nil
}

// restoreSession loads the persisted session record, if any. Read failures
// are logged and treated as "not signed in": a broken record must not take
// the whole CLI down.
func (c *Client) restoreSession() {
	ctx := context.Background()

	record, err := c.store.Read(ctx)
	if err != nil {
		if !errors.Is(err, credstore.ErrNotFound) {
			slog.WarnContext(ctx, "failed to read stored session, starting unauthenticated", "error", err)
		}
		return
	}

	var sess Session
	if err := json.Unmarshal([]byte(record), &sess); err != nil {
		slog.WarnContext(ctx, "stored session record is corrupt, starting unauthenticated", "error", err)
		return
	}
	sess.normalize(time.Now())

	c.mu.Lock()
	c.session = &sess
	c.mu.Unlock()

	// Remember the restored content to avoid an immediate write-back.
	if content, err := sessionContent(&sess); err == nil {
		c.lastSaved.Store(&savedRecord{content: content, stamp: sess.SavedAt})
	}

	c.scheduleRefresh(&sess)
}

// HasSession reports whether any session is loaded, valid or not.
func (c *Client) HasSession() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.session != nil && c.session.AccessToken != ""
}

// CurrentSession returns the live session, refreshing it first when the
// access token has expired and a refresh token is available. Returns
// (nil, nil) when not signed in.
func (c *Client) CurrentSession(ctx context.Context) (*Session, error) {
	c.mu.RLock()
	current := c.session
	c.mu.RUnlock()

	if current == nil || current.AccessToken == "" {
		return nil, nil
	}
	if current.Expired(time.Now()) {
		if current.RefreshToken == "" {
			return nil, nil
		}
		return c.RefreshSession(ctx)
	}

	sess := *current
	return &sess, nil
}

// RefreshSession exchanges the current refresh token for a new session.
// Concurrent callers (including the auto-refresh timer) collapse onto a
// single provider call and share its result.
func (c *Client) RefreshSession(ctx context.Context) (*Session, error) {
	v, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		// Read the refresh token inside the flight so a just-completed
		// rotation is never replayed with the stale token.
		c.mu.RLock()
		current := c.session
		c.mu.RUnlock()

		if current == nil || current.RefreshToken == "" {
			return nil, ErrNoRefreshToken
		}

		var sess Session
		body := map[string]string{"refresh_token": current.RefreshToken}
		if err := c.doJSON(ctx, http.MethodPost, c.authURL("/token?grant_type=refresh_token"), body, &sess, ""); err != nil {
			return nil, fmt.Errorf("refreshing session: %w", err)
		}
		sess.normalize(time.Now())
		if sess.AccessToken == "" {
			return nil, fmt.Errorf("refresh response: %w", ErrNoAccessToken)
		}

		return c.setSession(ctx, &sess), nil
	})
	if err != nil {
		return nil, err
	}

	sess := *(v.(*Session))
	return &sess, nil
}

// VerifyLoginCode exchanges a one-time login code for a session.
func (c *Client) VerifyLoginCode(ctx context.Context, code string) (*Session, error) {
	var sess Session
	body := map[string]string{"type": "one_time_code", "token": code}
	if err := c.doJSON(ctx, http.MethodPost, c.authURL("/verify"), body, &sess, ""); err != nil {
		return nil, fmt.Errorf("verifying login code: %w", err)
	}
	sess.normalize(time.Now())
	if sess.AccessToken == "" {
		return nil, fmt.Errorf("verify response: %w", ErrNoAccessToken)
	}

	return c.setSession(ctx, &sess), nil
}

// GetUser fetches the account record for the current session.
func (c *Client) GetUser(ctx context.Context) (*User, error) {
	bearer := c.accessToken()
	if bearer == "" {
		return nil, fmt.Errorf("no active session")
	}

	var user User
	if err := c.doJSON(ctx, http.MethodGet, c.authURL("/user"), nil, &user, bearer); err != nil {
		return nil, fmt.Errorf("fetching user: %w", err)
	}
	return &user, nil
}

// ListFactors returns the enrolled multi-factor authenticators.
func (c *Client) ListFactors(ctx context.Context) ([]Factor, error) {
	bearer := c.accessToken()
	if bearer == "" {
		return nil, fmt.Errorf("no active session")
	}

	var factors []Factor
	if err := c.doJSON(ctx, http.MethodGet, c.authURL("/factors"), nil, &factors, bearer); err != nil {
		return nil, fmt.Errorf("listing factors: %w", err)
	}
	return factors, nil
}

// VerifyMFA completes a step-up challenge for the given factor, upgrading
// the session to the higher assurance level.
func (c *Client) VerifyMFA(ctx context.Context, factorID, code string) (*Session, error) {
	bearer := c.accessToken()
	if bearer == "" {
		return nil, fmt.Errorf("no active session")
	}

	var challenge struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.authURL("/factors/"+factorID+"/challenge"), struct{}{}, &challenge, bearer); err != nil {
		return nil, fmt.Errorf("creating MFA challenge: %w", err)
	}

	var sess Session
	body := map[string]string{"challenge_id": challenge.ID, "code": code}
	if err := c.doJSON(ctx, http.MethodPost, c.authURL("/factors/"+factorID+"/verify"), body, &sess, bearer); err != nil {
		return nil, err
	}
	sess.normalize(time.Now())
	if sess.AccessToken == "" {
		return nil, fmt.Errorf("MFA verify response: %w", ErrNoAccessToken)
	}

	return c.setSession(ctx, &sess), nil
}

// SignOut revokes the session with the provider and clears local state. The
// local clear happens even when the remote call fails; the remote error is
// returned so callers can log it.
func (c *Client) SignOut(ctx context.Context) error {
	bearer := c.accessToken()

	var remoteErr error
	if bearer != "" {
		remoteErr = c.doJSON(ctx, http.MethodPost, c.authURL("/logout"), nil, nil, bearer)
	}

	if err := c.ClearSession(ctx); err != nil {
		slog.WarnContext(ctx, "failed to clear stored session", "error", err)
	}

	return remoteErr
}

// ClearSession drops the in-memory session, stops the auto-refresh timer,
// and removes the persisted record.
func (c *Client) ClearSession(ctx context.Context) error {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()

	c.stopRefreshTimer()
	c.lastSaved.Store(nil)

	return c.store.Clear(ctx)
}

// Close stops the auto-refresh timer. The session itself is left intact.
func (c *Client) Close() {
	c.stopRefreshTimer()
}

// OAuthConfig returns the oauth2 configuration for the browser-based PKCE
// login flow.
func (c *Client) OAuthConfig(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: oauthClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.authURL("/authorize"),
			TokenURL:  c.authURL("/token?grant_type=pkce"),
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURL,
		Scopes:      []string{"openid", "email"},
	}
}

// OAuthContext returns a context that routes oauth2's token exchange through
// the provider's JSON transport. oauth2 injects custom HTTP clients via
// context per its documented API.
func (c *Client) OAuthContext(ctx context.Context) context.Context {
	httpClient := &http.Client{
		Timeout: httpTimeout,
		Transport: &tokenGrantTransport{
			base:      http.DefaultTransport,
			publicKey: c.cfg.PublicKey,
		},
	}
	return context.WithValue(ctx, oauth2.HTTPClient, httpClient)
}

// AdoptToken installs a session obtained through the oauth2 exchange.
func (c *Client) AdoptToken(ctx context.Context, token *oauth2.Token) (*Session, error) {
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token exchange: %w", ErrNoAccessToken)
	}

	sess := Session{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
	}
	if !token.Expiry.IsZero() {
		sess.ExpiresAt = token.Expiry.Unix()
	}

	return c.setSession(ctx, &sess), nil
}

// setSession installs the new session, persists it, and reschedules the
// auto-refresh timer. The returned copy carries the SavedAt stamp the
// record was persisted under.
func (c *Client) setSession(ctx context.Context, sess *Session) *Session {
	copied := *sess

	c.mu.Lock()
	c.session = &copied
	c.mu.Unlock()

	c.persist(ctx)
	c.scheduleRefresh(&copied)

	c.mu.RLock()
	defer c.mu.RUnlock()
	result := copied
	return &result
}

// persist writes the current session through the store, stamping SavedAt on
// each actual write. The comparison against the last written record excludes
// the stamp, so a session whose content is unchanged is not rewritten and
// keeps the stamp it was stored under.
func (c *Client) persist(ctx context.Context) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.RLock()
	if c.session == nil {
		c.mu.RUnlock()
		return
	}
	snapshot := *c.session
	c.mu.RUnlock()

	content, err := sessionContent(&snapshot)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode session record", "error", err)
		return
	}
	if last := c.lastSaved.Load(); last != nil && last.content == content {
		c.setStamp(last.stamp)
		return
	}

	snapshot.SavedAt = time.Now().Unix()
	record, err := json.Marshal(&snapshot)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode session record", "error", err)
		return
	}
	if err := c.store.Write(ctx, string(record)); err != nil {
		// The in-memory session is still valid, but the next invocation
		// will start unauthenticated.
		slog.ErrorContext(ctx, "failed to persist session record", "error", err)
		return
	}
	c.lastSaved.Store(&savedRecord{content: content, stamp: snapshot.SavedAt})
	c.setStamp(snapshot.SavedAt)
}

// setStamp records on the live session when its record was last written.
func (c *Client) setStamp(stamp int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		c.session.SavedAt = stamp
	}
}

// sessionContent is the marshaled session with the SavedAt stamp zeroed: the
// form used to decide whether a write is needed.
func sessionContent(sess *Session) (string, error) {
	stripped := *sess
	stripped.SavedAt = 0
	record, err := json.Marshal(&stripped)
	if err != nil {
		return "", err
	}
	return string(record), nil
}

// scheduleRefresh arms the auto-refresh timer to fire shortly before the
// session expires. Sessions without a known expiry or refresh token are
// refreshed lazily on read instead.
func (c *Client) scheduleRefresh(sess *Session) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}

	if sess == nil || sess.RefreshToken == "" {
		return
	}
	expiry := sess.expiry()
	if expiry.IsZero() {
		return
	}
	delay := time.Until(expiry) - refreshMargin
	if delay <= 0 {
		return
	}

	c.refreshTimer = time.AfterFunc(delay, func() {
		if _, err := c.RefreshSession(context.Background()); err != nil {
			slog.Warn("scheduled session refresh failed", "error", err)
		}
	})
}

func (c *Client) stopRefreshTimer() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
}

func (c *Client) accessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.session == nil {
		return ""
	}
	return c.session.AccessToken
}

func (c *Client) authURL(path string) string {
	return strings.TrimSuffix(c.cfg.Endpoint, "/") + "/auth/v1" + path
}

// doJSON performs a JSON request against the provider and decodes the
// response into out when non-nil.
func (c *Client) doJSON(ctx context.Context, method, url string, body, out any, bearer string) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// decodeAPIError extracts a provider error message from the response body.
func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var payload struct {
		Msg              string `json:"msg"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	if err == nil && json.Unmarshal(data, &payload) == nil {
		switch {
		case payload.Msg != "":
			apiErr.Message = payload.Msg
		case payload.ErrorDescription != "":
			apiErr.Message = payload.ErrorDescription
		case payload.Error != "":
			apiErr.Message = payload.Error
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
