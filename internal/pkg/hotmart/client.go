package hotmart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/guildgate/guildgate/internal/pkg/env"
)

const (
	defaultTokenURL   = "https://api-sec-vlc.hotmart.com/security/oauth/token"
	defaultAPIBaseURL = "https://developers.hotmart.com"
)

// Config carries Hotmart API credentials for the provider-direct
// subscription check.
type Config struct {
	ClientID     string
	ClientSecret string

	TokenURL   string
	APIBaseURL string
}

// Client queries the Hotmart payments API. Used by the admission gate's
// stricter variant; webhook processing never calls back into Hotmart.
type Client struct {
	cfg        Config
	HTTPClient *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	return &Client{
		cfg: cfg,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func ConfigFromEnv() Config {
	return Config{
		ClientID:     strings.TrimSpace(env.GetEnv("HOTMART_CLIENT_ID", "")),
		ClientSecret: strings.TrimSpace(env.GetEnv("HOTMART_CLIENT_SECRET", "")),
		TokenURL:     strings.TrimSpace(env.GetEnv("HOTMART_TOKEN_URL", defaultTokenURL)),
		APIBaseURL:   strings.TrimSpace(env.GetEnv("HOTMART_API_BASE_URL", defaultAPIBaseURL)),
	}
}

// Configured reports whether API credentials are present. The gate treats
// an unconfigured client as an unavailable source.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.cfg.ClientID) != "" && strings.TrimSpace(c.cfg.ClientSecret) != ""
}

// HasActiveSubscription checks whether the subscriber email has at least
// one ACTIVE subscription on the provider side.
func (c *Client) HasActiveSubscription(ctx context.Context, email string) (bool, error) {
	if !c.Configured() {
		return false, errors.New("HOTMART_CLIENT_ID/HOTMART_CLIENT_SECRET are not configured")
	}
	if strings.TrimSpace(email) == "" {
		return false, errors.New("subscriber email is required")
	}

	token, err := c.token(ctx)
	if err != nil {
		return false, err
	}

	u, err := url.Parse(strings.TrimRight(c.cfg.APIBaseURL, "/") + "/payments/api/v1/subscriptions")
	if err != nil {
		return false, err
	}
	q := u.Query()
	q.Set("subscriber_email", strings.TrimSpace(email))
	q.Set("status", "ACTIVE")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("hotmart subscription lookup failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out struct {
		Items []struct {
			Status string `json:"status"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return false, err
	}
	for _, item := range out.Items {
		if strings.EqualFold(strings.TrimSpace(item.Status), "ACTIVE") {
			return true, nil
		}
	}
	return false, nil
}

// token returns a cached client-credentials token, fetching a fresh one
// when the cached token is missing or about to expire.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-30*time.Second)) {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("hotmart token request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return "", errors.New("hotmart token response missing access_token")
	}

	c.accessToken = out.AccessToken
	if out.ExpiresIn > 0 {
		c.tokenExpiry = time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
	} else {
		c.tokenExpiry = time.Now().Add(5 * time.Minute)
	}
	return c.accessToken, nil
}
