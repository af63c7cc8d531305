package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"meowroast/internal/config"
)

const userinfoEndpoint = "https://www.googleapis.com/oauth2/v3/userinfo"

// Identity is the profile the provider vouches for after the OAuth exchange.
type Identity struct {
	SubjectID string `json:"sub"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Picture   string `json:"picture"`
}

// GoogleLogin drives the authorization-code flow against Google and hands the
// verified profile back so the token service can wrap it in a signed token.
type GoogleLogin struct {
	conf       *oauth2.Config
	httpClient *http.Client
}

// NewGoogleLogin builds the OAuth client. baseURL is the externally visible
// origin the callback route is registered under.
func NewGoogleLogin(cfg config.GoogleConfig, baseURL string) *GoogleLogin {
	return &GoogleLogin{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  strings.TrimRight(baseURL, "/") + "/auth/google/callback",
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.profile",
				"https://www.googleapis.com/auth/userinfo.email",
			},
			Endpoint: google.Endpoint,
		},
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// AuthURL returns the consent page URL bound to the given anti-forgery state.
func (g *GoogleLogin) AuthURL(state string) string {
	return g.conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades the callback code for tokens and fetches the user profile.
func (g *GoogleLogin) Exchange(ctx context.Context, code string) (*Identity, error) {
	if code == "" {
		return nil, errors.New("no authorization code received")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	tok, err := g.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	resp, err := g.conf.Client(ctx, tok).Get(userinfoEndpoint)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch userinfo: http %d", resp.StatusCode)
	}
	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if id.SubjectID == "" {
		return nil, errors.New("userinfo missing subject")
	}
	return &id, nil
}

// NewStateToken returns a random value pairing the consent redirect with its
// callback, stored in a short-lived cookie as a login CSRF guard.
func NewStateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
