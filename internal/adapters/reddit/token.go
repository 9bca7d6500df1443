package reddit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/selivandex/biaslens/internal/adapters/config"
)

// refreshMargin refreshes the token slightly early to tolerate clock skew
const refreshMargin = 5 * time.Second

// tokenManager owns the cached OAuth bearer credential. Refresh is
// idempotent, so concurrent refreshes are tolerable; the mutex keeps
// the expiry bookkeeping consistent.
type tokenManager struct {
	mu        sync.Mutex
	cfg       *config.RedditConfig
	client    *http.Client
	authURL   string
	token     string
	expiresAt time.Time
}

func newTokenManager(cfg *config.RedditConfig, client *http.Client, authURL string) *tokenManager {
	return &tokenManager{
		cfg:     cfg,
		client:  client,
		authURL: authURL,
	}
}

// Token returns a valid bearer token, refreshing when within the
// expiry margin. Failure here is fatal to the calling run.
func (t *tokenManager) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && time.Now().Before(t.expiresAt.Add(-refreshMargin)) {
		return t.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.authURL,
		strings.NewReader(url.Values{"grant_type": {"client_credentials"}}.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}

	creds := base64.StdEncoding.EncodeToString([]byte(t.cfg.ClientID + ":" + t.cfg.Secret))
	req.Header.Set("Authorization", "Basic "+creds)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", t.cfg.UserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token request failed (status %d): %s", resp.StatusCode, string(body))
	}

	var data struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if data.AccessToken == "" {
		return "", fmt.Errorf("empty access token in response")
	}

	if data.ExpiresIn == 0 {
		data.ExpiresIn = 3600
	}

	t.token = data.AccessToken
	t.expiresAt = time.Now().Add(time.Duration(data.ExpiresIn) * time.Second)

	return t.token, nil
}
