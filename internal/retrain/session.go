package retrain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"
)

// sessionTimeout bounds the two bootstrap requests against the remote
// notebook environment.
const sessionTimeout = 30 * time.Second

// Session is an authenticated window into the remote notebook
// environment: the authorized URL and the cookies harvested from it.
type Session struct {
	// URL is the single-use authorized notebook URL.
	URL *url.URL

	// Cookies carry the authentication established by visiting URL.
	Cookies []*http.Cookie
}

// SessionProvider establishes an authenticated notebook session.
type SessionProvider interface {
	Start(ctx context.Context) (*Session, error)
}

// httpSessionProvider bootstraps a session over HTTP: it asks the
// presign endpoint for an authorized URL, then visits that URL with a
// cookie-jar client so the environment sets its auth cookies.
type httpSessionProvider struct {
	presignEndpoint string
}

// NewSessionProvider creates the production session provider.
func NewSessionProvider(presignEndpoint string) SessionProvider {
	return &httpSessionProvider{presignEndpoint: presignEndpoint}
}

func (p *httpSessionProvider) Start(ctx context.Context) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	client := &http.Client{Jar: jar, Timeout: sessionTimeout}

	authorized, err := p.fetchAuthorizedURL(ctx, client)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authorized.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create session request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open notebook session: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	base := &url.URL{Scheme: authorized.Scheme, Host: authorized.Host, Path: "/"}
	return &Session{URL: authorized, Cookies: jar.Cookies(base)}, nil
}

func (p *httpSessionProvider) fetchAuthorizedURL(ctx context.Context, client *http.Client) (*url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.presignEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create presign request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call presign endpoint: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("presign endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		AuthorizedURL string `json:"AuthorizedUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode presign response: %w", err)
	}

	authorized, err := url.Parse(payload.AuthorizedURL)
	if err != nil {
		return nil, fmt.Errorf("presign endpoint returned a malformed URL: %w", err)
	}
	if authorized.Host == "" {
		return nil, fmt.Errorf("presign endpoint returned a URL without a host")
	}
	return authorized, nil
}
