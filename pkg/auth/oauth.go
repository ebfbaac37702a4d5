// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Package auth implements provider login: the PKCE authorization-code flow
// used to obtain and refresh OAuth credentials for providers that gate API
// access behind a consumer login (OpenAI, Anthropic) rather than a bare API
// key, plus the on-disk credential store those tokens are cached in.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// OAuthProviderConfig describes one provider's PKCE login endpoints. The
// zero value is never valid on its own — use OpenAIOAuthConfig or
// AnthropicOAuthConfig, or build one from scratch for a custom provider.
type OAuthProviderConfig struct {
	Issuer           string // base URL the authorize/token endpoints hang off of
	AuthorizeBaseURL string // overrides Issuer for the /authorize step only, if set
	TokenEndpoint    string // path appended to Issuer for token exchange, default "/oauth/token"
	ClientID         string
	Scopes           string
	Originator       string // OpenAI-only: identifies the CLI to the login UI
	Port             int    // local callback listener port
	Provider         string // "openai" or "anthropic", selects wire-format quirks
}

// tokenEndpointURL resolves the absolute token-exchange URL.
func (cfg OAuthProviderConfig) tokenEndpointURL() string {
	endpoint := cfg.TokenEndpoint
	if endpoint == "" {
		endpoint = "/oauth/token"
	}
	return strings.TrimRight(cfg.Issuer, "/") + endpoint
}

func (cfg OAuthProviderConfig) authorizeBaseURL() string {
	if cfg.AuthorizeBaseURL != "" {
		return cfg.AuthorizeBaseURL
	}
	return cfg.Issuer
}

// OpenAIOAuthConfig returns the login configuration for ChatGPT-plan access
// to the OpenAI API, matching the codex CLI's own client registration.
func OpenAIOAuthConfig() OAuthProviderConfig {
	return OAuthProviderConfig{
		Issuer:     "https://auth.openai.com",
		ClientID:   "app_EMoamEEZ73f0CkXaXp7hrann",
		Scopes:     "openid profile email offline_access",
		Originator: "codex_cli_rs",
		Port:       1455,
		Provider:   "openai",
	}
}

// AnthropicOAuthConfig returns the login configuration for Claude Pro/Max
// subscription access to the Anthropic API.
func AnthropicOAuthConfig() OAuthProviderConfig {
	return OAuthProviderConfig{
		Issuer:           "https://console.anthropic.com",
		AuthorizeBaseURL: "https://claude.ai",
		TokenEndpoint:    "/v1/oauth/token",
		ClientID:         "9d1c250a-e61b-44d9-88ed-5944d1962f5e",
		Scopes:           "org:create_api_key user:profile user:inference",
		Port:             8080,
		Provider:         "anthropic",
	}
}

// PKCECodes is a PKCE verifier/challenge pair for one login attempt.
type PKCECodes struct {
	CodeVerifier  string
	CodeChallenge string
}

// GeneratePKCE creates a fresh PKCE verifier and its S256 challenge.
func GeneratePKCE() (PKCECodes, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return PKCECodes{}, fmt.Errorf("generating pkce verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])
	return PKCECodes{CodeVerifier: verifier, CodeChallenge: challenge}, nil
}

// BuildAuthorizeURL renders the browser URL the user is sent to for login.
func BuildAuthorizeURL(cfg OAuthProviderConfig, pkce PKCECodes, state, redirectURI string) string {
	q := url.Values{}
	q.Set("client_id", cfg.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("response_type", "code")
	q.Set("scope", cfg.Scopes)
	q.Set("code_challenge", pkce.CodeChallenge)
	q.Set("code_challenge_method", "S256")
	q.Set("state", state)

	if cfg.Provider == "openai" {
		q.Set("id_token_add_organizations", "true")
		q.Set("codex_cli_simplified_flow", "true")
		if cfg.Originator != "" {
			q.Set("originator", cfg.Originator)
		}
	}

	return cfg.authorizeBaseURL() + "/oauth/authorize?" + q.Encode()
}

// AuthCredential is what gets persisted per provider after a successful
// login or API key entry.
type AuthCredential struct {
	Provider     string    `json:"provider"`
	AuthMethod   string    `json:"auth_method"` // "oauth" or "apikey"
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	AccountID    string    `json:"account_id,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// NeedsRefresh reports whether the access token is expired or close enough
// to expiring that a refresh should happen before using it.
func (c *AuthCredential) NeedsRefresh() bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(c.ExpiresAt.Add(-2 * time.Minute))
}

var oauthClient = resty.New().SetTimeout(15 * time.Second)

// exchangeCodeForTokens trades an authorization code for an AuthCredential.
// Anthropic's token endpoint wants a JSON body; every other provider (so
// far, just OpenAI) wants form-urlencoded like a standard OAuth2 exchange.
func exchangeCodeForTokens(cfg OAuthProviderConfig, code, verifier, redirectURI string) (*AuthCredential, error) {
	req := oauthClient.R()
	if cfg.Provider == "anthropic" {
		req.SetHeader("Content-Type", "application/json").SetBody(map[string]string{
			"grant_type":    "authorization_code",
			"code":          code,
			"code_verifier": verifier,
			"redirect_uri":  redirectURI,
			"client_id":     cfg.ClientID,
			"state":         "",
		})
	} else {
		req.SetFormData(map[string]string{
			"grant_type":    "authorization_code",
			"code":          code,
			"code_verifier": verifier,
			"redirect_uri":  redirectURI,
			"client_id":     cfg.ClientID,
		})
	}

	resp, err := req.Post(cfg.tokenEndpointURL())
	if err != nil {
		return nil, fmt.Errorf("token exchange request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("token exchange failed: HTTP %d: %s", resp.StatusCode(), resp.String())
	}
	return parseTokenResponse(resp.Body(), cfg.Provider)
}

// RefreshAccessToken exchanges a refresh token for a new access token,
// carrying the refresh token forward if the response doesn't issue a new one.
func RefreshAccessToken(cred *AuthCredential, cfg OAuthProviderConfig) (*AuthCredential, error) {
	if cred.RefreshToken == "" {
		return nil, errors.New("no refresh token available")
	}

	req := oauthClient.R()
	if cfg.Provider == "anthropic" {
		req.SetHeader("Content-Type", "application/json").SetBody(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": cred.RefreshToken,
			"client_id":     cfg.ClientID,
		})
	} else {
		req.SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": cred.RefreshToken,
			"client_id":     cfg.ClientID,
		})
	}

	resp, err := req.Post(cfg.tokenEndpointURL())
	if err != nil {
		return nil, fmt.Errorf("token refresh request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("token refresh failed: HTTP %d: %s", resp.StatusCode(), resp.String())
	}

	refreshed, err := parseTokenResponse(resp.Body(), cfg.Provider)
	if err != nil {
		return nil, err
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}
	return refreshed, nil
}

func parseTokenResponse(body []byte, provider string) (*AuthCredential, error) {
	var payload struct {
		AccessToken  string      `json:"access_token"`
		RefreshToken string      `json:"refresh_token"`
		IDToken      string      `json:"id_token"`
		ExpiresIn    json.Number `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}
	if payload.AccessToken == "" {
		return nil, errors.New("token response missing access_token")
	}

	cred := &AuthCredential{
		Provider:     provider,
		AuthMethod:   "oauth",
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
	}

	if payload.ExpiresIn != "" {
		if secs, err := payload.ExpiresIn.Int64(); err == nil {
			cred.ExpiresAt = time.Now().Add(time.Duration(secs) * time.Second)
		}
	}
	if cred.ExpiresAt.IsZero() {
		cred.ExpiresAt = time.Now().Add(time.Hour)
	}

	if payload.IDToken != "" {
		if accountID := accountIDFromJWT(payload.IDToken); accountID != "" {
			cred.AccountID = accountID
		}
	}

	return cred, nil
}

// accountIDFromJWT pulls the ChatGPT account id out of an unverified JWT's
// payload segment. The token was already issued to us over TLS by the
// provider we just authenticated with, so signature verification here would
// be checking a key we have no independent way to pin.
func accountIDFromJWT(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ""
	}

	var claims struct {
		OpenAIAuth struct {
			ChatGPTAccountID string `json:"chatgpt_account_id"`
		} `json:"https://api.openai.com/auth"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}
	return claims.OpenAIAuth.ChatGPTAccountID
}

// DeviceCodeResponse is what a device-authorization endpoint returns to
// start a code-entry login flow (used as a fallback when no local browser
// redirect is reachable, e.g. over SSH).
type DeviceCodeResponse struct {
	DeviceAuthID string
	UserCode     string
	Interval     int
}

// parseDeviceCodeResponse tolerates providers that encode "interval" as
// either a JSON number or a JSON string.
func parseDeviceCodeResponse(body []byte) (*DeviceCodeResponse, error) {
	var payload struct {
		DeviceAuthID string      `json:"device_auth_id"`
		UserCode     string      `json:"user_code"`
		Interval     interface{} `json:"interval"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing device code response: %w", err)
	}

	resp := &DeviceCodeResponse{
		DeviceAuthID: payload.DeviceAuthID,
		UserCode:     payload.UserCode,
	}

	switch v := payload.Interval.(type) {
	case float64:
		resp.Interval = int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", v, err)
		}
		resp.Interval = n
	case nil:
		resp.Interval = 5
	default:
		return nil, fmt.Errorf("unsupported interval type %T", v)
	}

	return resp, nil
}
