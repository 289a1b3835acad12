package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/taskmaster-dev/taskmaster/internal/identity"
)

// loginTimeout bounds the whole browser round-trip, from authorization URL
// to redirect.
const loginTimeout = 5 * time.Minute

// OAuthOptions configures the browser login flow.
type OAuthOptions struct {
	// CallbackAddr is the loopback listen address for the redirect; empty
	// means an ephemeral port on 127.0.0.1.
	CallbackAddr string
	// OnAuthURL receives the authorization URL to present to the user. The
	// default opens the system browser.
	OnAuthURL func(url string) error
}

// AuthenticateWithOAuth runs the PKCE browser login: it starts the loopback
// callback server, sends the user to the provider's authorization page,
// exchanges the redirect code for a session, and persists the signed-in
// identity to the working context.
func (a *Manager) AuthenticateWithOAuth(ctx context.Context, opts OAuthOptions) (*identity.Session, error) {
	client, err := a.client(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	srv := newCallbackServer(state)
	addr := opts.CallbackAddr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	serveErr, err := srv.Start(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.WarnContext(ctx, "callback server shutdown failed", "error", err)
		}
	}()

	cfg := client.OAuthConfig(srv.RedirectURL())
	authURL := cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	onAuthURL := opts.OnAuthURL
	if onAuthURL == nil {
		onAuthURL = openBrowser
	}
	if err := onAuthURL(authURL); err != nil {
		return nil, fmt.Errorf("opening authorization URL: %w", err)
	}

	var result callbackResult
	select {
	case result = <-srv.Results():
	case err := <-serveErr:
		if err != nil {
			return nil, fmt.Errorf("callback server failed: %w", err)
		}
		return nil, errors.New("callback server stopped before receiving the redirect")
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for authorization: %w", ctx.Err())
	}
	if result.err != nil {
		return nil, result.err
	}

	token, err := cfg.Exchange(client.OAuthContext(ctx), result.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	sess, err := client.AdoptToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if err := a.persistIdentity(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// openBrowser launches the system browser on the given URL and detaches.
func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launching browser: %w", err)
	}
	// The browser outlives this process; don't hold the child handle.
	return cmd.Process.Release()
}
