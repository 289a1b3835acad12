package identity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// apiTransport stamps the provider's public API key onto every request.
type apiTransport struct {
	base      http.RoundTripper
	publicKey string
}

// Compile-time check that apiTransport implements http.RoundTripper.
var _ http.RoundTripper = (*apiTransport)(nil)

// RoundTrip implements http.RoundTripper.
func (t *apiTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}

	newReq := req.Clone(req.Context())
	newReq.Header.Set("apikey", t.publicKey)

	return base.RoundTrip(newReq)
}

// tokenGrantTransport converts oauth2's form-encoded token requests to the
// JSON format the identity provider's token endpoint requires, and stamps
// the public API key. The oauth2 package guarantees this transport only
// receives token endpoint requests.
type tokenGrantTransport struct {
	base      http.RoundTripper
	publicKey string
}

// Compile-time check that tokenGrantTransport implements http.RoundTripper.
var _ http.RoundTripper = (*tokenGrantTransport)(nil)

// RoundTrip intercepts token grant requests and converts them from
// form-encoded to JSON.
func (t *tokenGrantTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}

	// The body is consumed entirely and replaced, not forwarded.
	defer func() { _ = req.Body.Close() }()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	formData, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parsing form data: %w", err)
	}

	jsonData := make(map[string]string, len(formData))
	for key, values := range formData {
		jsonData[key] = values[0] // OAuth2 spec defines single-value parameters
	}
	// The provider's PKCE grant names the authorization code "auth_code".
	if code, ok := jsonData["code"]; ok {
		jsonData["auth_code"] = code
		delete(jsonData, "code")
	}

	jsonBody, err := json.Marshal(jsonData)
	if err != nil {
		return nil, fmt.Errorf("marshaling JSON request: %w", err)
	}

	newReq := req.Clone(req.Context())
	newReq.Body = io.NopCloser(bytes.NewReader(jsonBody))
	newReq.ContentLength = int64(len(jsonBody))
	newReq.Header.Set("Content-Type", "application/json")
	newReq.Header.Set("apikey", t.publicKey)

	return base.RoundTrip(newReq)
}
