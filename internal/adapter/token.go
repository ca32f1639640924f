package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// defaultRefreshWindow mirrors the margin the teacher's OAuth client keeps
// before a cached credential is considered stale.
const defaultRefreshWindow = 2 * time.Minute

// tokenCacheEntry is one cached bearer token and its expiry.
type tokenCacheEntry struct {
	accessToken string
	expiresAt   time.Time
}

func (e *tokenCacheEntry) freshEnough(window time.Time) bool {
	return e != nil && e.expiresAt.After(window)
}

// tokenSource lazily fetches and caches a bearer token for an event-stream
// backend, exchanging the configured client credentials for an access
// token and refreshing it ahead of expiry. Concurrent callers racing to
// refresh the same token are deduplicated with singleflight, the same
// pattern the teacher's OAuth metadata cache uses for concurrent discovery
// document fetches.
type tokenSource struct {
	tokenURL      string
	clientID      string
	clientSecret  string
	refreshWindow time.Duration
	httpClient    *http.Client

	mu    sync.RWMutex
	entry *tokenCacheEntry

	group singleflight.Group
}

func newTokenSource(tokenURL, clientID, clientSecret string, refreshWindow time.Duration) *tokenSource {
	if refreshWindow <= 0 {
		refreshWindow = defaultRefreshWindow
	}
	return &tokenSource{
		tokenURL:      tokenURL,
		clientID:      clientID,
		clientSecret:  clientSecret,
		refreshWindow: refreshWindow,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Token returns a currently-valid access token, fetching or refreshing it
// as needed. Force bypasses the cache, used on a 401 to refresh once and
// retry.
func (s *tokenSource) Token(ctx context.Context, force bool) (string, error) {
	if !force {
		s.mu.RLock()
		entry := s.entry
		s.mu.RUnlock()
		if entry.freshEnough(time.Now().Add(s.refreshWindow)) {
			return entry.accessToken, nil
		}
	}

	v, err, _ := s.group.Do("token", func() (any, error) {
		// Re-check under the singleflight key: a concurrent winner may
		// have already refreshed while we were waiting to enter Do.
		if !force {
			s.mu.RLock()
			entry := s.entry
			s.mu.RUnlock()
			if entry.freshEnough(time.Now().Add(s.refreshWindow)) {
				return entry.accessToken, nil
			}
		}
		return s.fetch(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *tokenSource) fetch(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", s.clientID)
	form.Set("client_secret", s.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	expiry := time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	s.mu.Lock()
	s.entry = &tokenCacheEntry{accessToken: body.AccessToken, expiresAt: expiry}
	s.mu.Unlock()

	return body.AccessToken, nil
}
