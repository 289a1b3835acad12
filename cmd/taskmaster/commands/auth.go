package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/taskmaster-dev/taskmaster/internal/auth"
	"github.com/taskmaster-dev/taskmaster/internal/autherr"
	"github.com/taskmaster-dev/taskmaster/internal/identity"
)

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage the platform session",
		Commands: []*cli.Command{
			authLoginCommand(),
			authStatusCommand(),
			authRefreshCommand(),
			authLogoutCommand(),
		},
	}
}

func authLoginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Sign in to the task platform",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "code",
				Usage: "paste a one-time code instead of using the browser",
			},
			&cli.BoolFlag{
				Name:  "no-browser",
				Usage: "print the authorization URL instead of opening a browser",
			},
			&cli.StringFlag{
				Name:  "callback-addr",
				Usage: "listen address for the OAuth callback server",
			},
		},
		Action: authLoginAction,
	}
}

func authLoginAction(ctx context.Context, cmd *cli.Command) error {
	application, cfg, err := setupApp(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	if err := cfg.RequireWritableSessionStorage(); err != nil {
		return err
	}

	var sess *identity.Session
	if cmd.Bool("code") {
		sess, err = loginWithCode(ctx, application.Auth)
	} else {
		sess, err = loginWithBrowser(ctx, application.Auth, cmd.String("callback-addr"), cmd.Bool("no-browser"))
	}
	if err != nil {
		return err
	}

	who := sess.UserEmail()
	if who == "" {
		who = sess.UserID()
	}
	fmt.Printf("Signed in as %s.\n", who)
	return nil
}

// loginWithCode exchanges a pasted one-time code and walks the MFA challenge
// if the provider demands one.
func loginWithCode(ctx context.Context, manager *auth.Manager) (*identity.Session, error) {
	code, err := promptSecret("One-time code: ")
	if err != nil {
		return nil, err
	}

	sess, err := manager.AuthenticateWithCode(ctx, code)
	if err == nil {
		return sess, nil
	}

	challenge := autherr.ChallengeOf(err)
	if challenge == nil {
		return nil, err
	}

	fmt.Printf("Multi-factor authentication required (%s).\n", challenge.FactorType)
	codes := auth.CodeProviderFunc(func(context.Context) (string, error) {
		return promptSecret("Verification code: ")
	})
	return manager.VerifyMFAWithRetry(ctx, challenge.FactorID, codes, auth.RetryOptions{
		OnInvalidCode: func(_, remaining int) {
			fmt.Printf("Invalid code, %d attempts left.\n", remaining)
		},
	})
}

func loginWithBrowser(ctx context.Context, manager *auth.Manager, callbackAddr string, noBrowser bool) (*identity.Session, error) {
	opts := auth.OAuthOptions{CallbackAddr: callbackAddr}
	if noBrowser {
		opts.OnAuthURL = func(url string) error {
			fmt.Printf("Open this URL to sign in:\n\n  %s\n\n", url)
			return nil
		}
	} else {
		fmt.Println("Opening your browser to sign in...")
	}

	return manager.AuthenticateWithOAuth(ctx, opts)
}

func authStatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show session, context, and storage state",
		Action: authStatusAction,
	}
}

func authStatusAction(ctx context.Context, cmd *cli.Command) error {
	application, _, err := setupApp(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	creds, err := application.Auth.GetAuthCredentials(ctx)
	switch {
	case err != nil:
		return err
	case creds == nil:
		fmt.Println("Not signed in.")
	default:
		who := creds.Email
		if who == "" {
			who = creds.UserID
		}
		fmt.Printf("Signed in as %s.\n", who)
		if creds.ExpiresAt > 0 {
			fmt.Printf("Session expires %s.\n", formatExpiry(creds.ExpiresAt))
		}
	}

	uc, err := application.Auth.UserContext(ctx)
	if err != nil {
		return err
	}
	printContext(uc)

	res, err := application.Resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	info := auth.StorageDisplayInfo(res.Type, uc)
	fmt.Printf("Task storage: %s\n", info.Description)
	return nil
}

func authRefreshCommand() *cli.Command {
	return &cli.Command{
		Name:   "refresh",
		Usage:  "Force a session refresh",
		Action: authRefreshAction,
	}
}

func authRefreshAction(ctx context.Context, cmd *cli.Command) error {
	application, _, err := setupApp(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	creds, err := application.Auth.RefreshSession(ctx)
	if err != nil {
		return err
	}

	if creds.ExpiresAt > 0 {
		fmt.Printf("Session refreshed, expires %s.\n", formatExpiry(creds.ExpiresAt))
	} else {
		fmt.Println("Session refreshed.")
	}
	return nil
}

func authLogoutCommand() *cli.Command {
	return &cli.Command{
		Name:   "logout",
		Usage:  "Sign out and clear the local session",
		Action: authLogoutAction,
	}
}

func authLogoutAction(ctx context.Context, cmd *cli.Command) error {
	application, _, err := setupApp(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	application.Auth.Logout(ctx)
	fmt.Println("Signed out.")
	return nil
}

func formatExpiry(epoch int64) string {
	return time.Unix(epoch, 0).Local().Format(time.RFC1123)
}
