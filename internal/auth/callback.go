package auth

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/httplog/v3"
)

// callbackPath is where the identity provider redirects after authorization.
const callbackPath = "/callback"

// callbackResult is the outcome of one OAuth redirect.
type callbackResult struct {
	code string
	err  error
}

// callbackServer is the loopback HTTP server that catches the provider's
// OAuth redirect. It serves exactly one redirect: the first terminal result
// wins and later requests get a gone page.
type callbackServer struct {
	mux      *http.ServeMux
	server   *http.Server
	listener net.Listener

	expectedState string
	results       chan callbackResult
}

// Compile-time check that callbackServer implements http.Handler.
var _ http.Handler = (*callbackServer)(nil)

func newCallbackServer(expectedState string) *callbackServer {
	s := &callbackServer{
		expectedState: expectedState,
		results:       make(chan callbackResult, 1),
	}

	mux := http.NewServeMux()
	mux.Handle("GET "+callbackPath, applyMiddlewares(http.HandlerFunc(s.handleCallback),
		requestLogging(slog.Default()),
		recoverPanics,
	))
	s.mux = mux

	return s
}

// ServeHTTP implements http.Handler.
func (s *callbackServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start binds the listener synchronously, so address conflicts surface
// immediately, then serves in the background. Runtime errors arrive on the
// returned channel. The caller must call Shutdown.
func (s *callbackServer) Start(ctx context.Context, address string) (<-chan error, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := s.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown gracefully stops the server, force-closing on failure.
func (s *callbackServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// RedirectURL is the loopback URL registered with the provider, valid after
// Start.
func (s *callbackServer) RedirectURL() string {
	return "http://" + s.listener.Addr().String() + callbackPath
}

// Results delivers the single redirect outcome.
func (s *callbackServer) Results() <-chan callbackResult {
	return s.results
}

func (s *callbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if errCode := query.Get("error"); errCode != "" {
		description := query.Get("error_description")
		if description == "" {
			description = errCode
		}
		s.finish(callbackResult{err: fmt.Errorf("authorization rejected: %s", description)})
		writePage(w, http.StatusBadRequest, "Login failed", description)
		return
	}

	if state := query.Get("state"); state != s.expectedState {
		// Not an error result: a stray or replayed redirect must not abort
		// the flow still waiting for the genuine one.
		writePage(w, http.StatusBadRequest, "Login failed", "State mismatch. Retry the login from your terminal.")
		return
	}

	code := query.Get("code")
	if code == "" {
		s.finish(callbackResult{err: errors.New("authorization redirect carried no code")})
		writePage(w, http.StatusBadRequest, "Login failed", "The provider sent no authorization code.")
		return
	}

	if s.finish(callbackResult{code: code}) {
		writePage(w, http.StatusOK, "Login complete", "You can close this tab and return to your terminal.")
		return
	}
	writePage(w, http.StatusGone, "Already handled", "This login attempt was already completed.")
}

// finish delivers the result unless one was already delivered.
func (s *callbackServer) finish(result callbackResult) bool {
	select {
	case s.results <- result:
		return true
	default:
		return false
	}
}

// writePage renders a minimal human-readable result page for the browser.
func writePage(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "<!DOCTYPE html><html><head><title>%s</title></head><body><h1>%s</h1><p>%s</p></body></html>",
		html.EscapeString(title), html.EscapeString(title), html.EscapeString(detail))
}

// recoverPanics turns handler panics into HTTP 500s.
func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recover() != nil {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				// Logging of panics is handled in the request logger.
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// requestLogging logs callback requests with method, path, status, and
// duration. Headers and bodies stay out of the logs.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return httplog.RequestLogger(logger, &httplog.Options{
		Schema: httplog.SchemaECS.Concise(true),

		LogRequestHeaders:  []string{},
		LogResponseHeaders: []string{},
		LogRequestBody:     nil,
		LogResponseBody:    nil,

		RecoverPanics: false, // dedicated middleware handles panics
	})
}

// applyMiddlewares applies middlewares to a handler in the order they
// appear. The first middleware is the outermost.
func applyMiddlewares(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
