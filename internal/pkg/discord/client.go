package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/guildgate/guildgate/internal/pkg/constants"
	"github.com/guildgate/guildgate/internal/pkg/env"
)

const (
	defaultAuthorizeURL = "https://discord.com/api/oauth2/authorize"
	defaultTokenURL     = "https://discord.com/api/oauth2/token"
	defaultAPIBaseURL   = "https://discord.com/api/v10"

	// identify is needed for /users/@me, guilds.join for the member PUT.
	oauthScope = "identify guilds.join"
)

// Config carries all Discord credentials and endpoints. Components receive
// it explicitly instead of reading process-wide settings.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	BotToken     string
	GuildID      string

	AuthorizeURL string
	TokenURL     string
	APIBaseURL   string
}

// Client talks to the Discord OAuth and guild APIs. It implements
// membership.AccessClient.
type Client struct {
	cfg        Config
	HTTPClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = defaultAuthorizeURL
	}
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
	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	redirectURI := strings.TrimSpace(env.GetEnv("DISCORD_REDIRECT_URI", ""))
	if redirectURI == "" && base != "" {
		redirectURI = base + "/" + constants.LinkCallbackPath
	}

	return Config{
		ClientID:     strings.TrimSpace(env.GetEnv("DISCORD_CLIENT_ID", "")),
		ClientSecret: strings.TrimSpace(env.GetEnv("DISCORD_CLIENT_SECRET", "")),
		RedirectURI:  redirectURI,
		BotToken:     strings.TrimSpace(env.GetEnv("DISCORD_BOT_TOKEN", "")),
		GuildID:      strings.TrimSpace(env.GetEnv("DISCORD_GUILD_ID", "")),
		AuthorizeURL: strings.TrimSpace(env.GetEnv("DISCORD_AUTHORIZE_URL", defaultAuthorizeURL)),
		TokenURL:     strings.TrimSpace(env.GetEnv("DISCORD_TOKEN_URL", defaultTokenURL)),
		APIBaseURL:   strings.TrimSpace(env.GetEnv("DISCORD_API_BASE_URL", defaultAPIBaseURL)),
	}
}

// AuthorizeURL builds the OAuth authorization URL. The state value carries
// the purchase-email correlator and is echoed back on the callback.
func (c *Client) AuthorizeURL(state string) (string, error) {
	if strings.TrimSpace(c.cfg.ClientID) == "" {
		return "", errors.New("DISCORD_CLIENT_ID is not configured")
	}
	if strings.TrimSpace(c.cfg.RedirectURI) == "" {
		return "", errors.New("DISCORD_REDIRECT_URI is not configured")
	}
	u, err := url.Parse(c.cfg.AuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("invalid DISCORD_AUTHORIZE_URL: %w", err)
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", c.cfg.RedirectURI)
	q.Set("scope", oauthScope)
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ExchangeCode trades an authorization code for a user access token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (string, error) {
	if strings.TrimSpace(c.cfg.ClientID) == "" || strings.TrimSpace(c.cfg.ClientSecret) == "" {
		return "", errors.New("DISCORD_CLIENT_ID/DISCORD_CLIENT_SECRET are not configured")
	}
	if strings.TrimSpace(code) == "" {
		return "", errors.New("oauth code is required")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", strings.TrimSpace(code))
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("redirect_uri", c.cfg.RedirectURI)

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
		return "", fmt.Errorf("discord token exchange failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return "", errors.New("discord token exchange returned empty access_token")
	}
	return out.AccessToken, nil
}

// ResolveIdentity resolves a user access token to the Discord user id.
func (c *Client) ResolveIdentity(ctx context.Context, accessToken string) (string, error) {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return "", errors.New("access token is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.cfg.APIBaseURL, "/")+"/users/@me", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("discord identity request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", errors.New("discord identity response missing user id")
	}
	return out.ID, nil
}

// AddGuildMember joins the user to the configured guild using their access
// token. Discord answers 201 when the user was added and 204 when they are
// already a member; both count as success.
func (c *Client) AddGuildMember(ctx context.Context, userID, accessToken string) error {
	if err := c.requireBot(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return errors.New("discord user id is required")
	}

	payload, err := json.Marshal(map[string]string{"access_token": accessToken})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/guilds/%s/members/%s",
		strings.TrimRight(c.cfg.APIBaseURL, "/"), c.cfg.GuildID, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.cfg.BotToken)
	req.Header.Set("Content-Type", "application/json")

	return c.doExpectNoContent(req, "guild member add")
}

// GrantRole assigns a role to the guild member.
func (c *Client) GrantRole(ctx context.Context, userID, roleID string) error {
	return c.roleRequest(ctx, http.MethodPut, userID, roleID, "role grant")
}

// RevokeRole removes a role from the guild member.
func (c *Client) RevokeRole(ctx context.Context, userID, roleID string) error {
	return c.roleRequest(ctx, http.MethodDelete, userID, roleID, "role revoke")
}

func (c *Client) roleRequest(ctx context.Context, method, userID, roleID, op string) error {
	if err := c.requireBot(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(roleID) == "" {
		return errors.New("discord user id and role id are required")
	}

	endpoint := fmt.Sprintf("%s/guilds/%s/members/%s/roles/%s",
		strings.TrimRight(c.cfg.APIBaseURL, "/"), c.cfg.GuildID, url.PathEscape(userID), url.PathEscape(roleID))
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.cfg.BotToken)

	return c.doExpectNoContent(req, op)
}

func (c *Client) doExpectNoContent(req *http.Request, op string) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord %s failed: status=%d body=%s", op, resp.StatusCode, string(body))
	}
	return nil
}

func (c *Client) requireBot() error {
	if strings.TrimSpace(c.cfg.BotToken) == "" {
		return errors.New("DISCORD_BOT_TOKEN is not configured")
	}
	if strings.TrimSpace(c.cfg.GuildID) == "" {
		return errors.New("DISCORD_GUILD_ID is not configured")
	}
	return nil
}
