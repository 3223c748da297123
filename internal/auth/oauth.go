package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// googleUserInfoURL is the OpenID Connect userinfo endpoint.
const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// GoogleUser is the part of Google's userinfo response we use.
type GoogleUser struct {
	Sub           string `json:"sub"` // stable Google account ID
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// GoogleProvider runs the OAuth 2.0 authorization code flow against Google.
//
// The code is exchanged server-to-server with the client secret, and the
// access token is only used once, to read the profile. It never reaches
// the browser.
type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string
}

// NewGoogleProvider creates a provider from OAuth client credentials
// (Google Cloud console → APIs & Services → Credentials). callbackURL must
// be listed there as an authorized redirect URI.
func NewGoogleProvider(clientID, clientSecret, callbackURL string) *GoogleProvider {
	return newGoogleProvider(clientID, clientSecret, callbackURL, google.Endpoint, googleUserInfoURL)
}

func newGoogleProvider(clientID, clientSecret, callbackURL string, endpoint oauth2.Endpoint, userInfoURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoURL,
	}
}

// AuthURL returns Google's consent page URL. state is echoed back on the
// callback and must match the value stored in the state cookie (CSRF).
func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the callback code for the user's Google profile.
// Accounts whose email Google hasn't verified are rejected: the email is
// what links a Google login to an existing password account.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*GoogleUser, error) {
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building userinfo request: %w", err)
	}
	resp, err := p.config.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling Google userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: Google userinfo returned status %d", resp.StatusCode)
	}

	var u GoogleUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("auth: decoding Google userinfo: %w", err)
	}
	u.Email = strings.TrimSpace(u.Email)

	switch {
	case u.Sub == "":
		return nil, errors.New("auth: Google returned a profile without an ID")
	case u.Email == "" || !u.EmailVerified:
		return nil, errors.New("auth: Google account has no verified email")
	}
	return &u, nil
}
