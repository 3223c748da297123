package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/creatorhub/internal/auth"
	"github.com/sakif/creatorhub/internal/handler"
	"github.com/sakif/creatorhub/internal/logging"
	"github.com/sakif/creatorhub/internal/model"
	"github.com/sakif/creatorhub/internal/service"
)

func sessionCookie(rr *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.CookieName {
			return c
		}
	}
	return nil
}

func TestAuthHandler_SignUpThenMe(t *testing.T) {
	api := newTestAPI(t)

	rr := api.send(t, http.MethodPost, "/auth/signup", map[string]string{
		"firstName": "Alex",
		"lastName":  "Kim",
		"email":     "Alex@Agency.io",
		"password":  "correct horse 9",
	}, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	user := decode[model.User](t, rr)
	assert.Equal(t, "alex@agency.io", user.Email)
	assert.Equal(t, 25, user.Credits)
	assert.NotContains(t, rr.Body.String(), "password")

	cookie := sessionCookie(rr)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	rr = api.send(t, http.MethodGet, "/api/me", nil, cookie)
	require.Equal(t, http.StatusOK, rr.Code)
	me := decode[model.Me](t, rr)
	assert.Equal(t, user.ID, me.User.ID)
	assert.Nil(t, me.Subscription)
}

func TestAuthHandler_SignUpErrors(t *testing.T) {
	api := newTestAPI(t)

	t.Run("weak password", func(t *testing.T) {
		rr := api.send(t, http.MethodPost, "/auth/signup", map[string]string{
			"firstName": "Alex", "email": "alex@agency.io", "password": "short",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		resp := decode[handler.ErrorResponse](t, rr)
		assert.Equal(t, "validation_error", resp.Error)
		assert.Equal(t, "password", resp.Field)
	})

	t.Run("existing email", func(t *testing.T) {
		rr := api.send(t, http.MethodPost, "/auth/signup", map[string]string{
			"firstName": "Sam", "email": "sam@brand.com", "password": "correct horse 9",
		}, nil)
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		rr := api.send(t, http.MethodPost, "/auth/signup", `{"first_name":"Alex"}`, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestAuthHandler_Login(t *testing.T) {
	api := newTestAPI(t)
	rr := api.send(t, http.MethodPost, "/auth/signup", map[string]string{
		"firstName": "Alex", "email": "alex@agency.io", "password": "correct horse 9",
	}, nil)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = api.send(t, http.MethodPost, "/auth/login", map[string]string{
		"email": "ALEX@agency.io", "password": "correct horse 9",
	}, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotNil(t, sessionCookie(rr))

	rr = api.send(t, http.MethodPost, "/auth/login", map[string]string{
		"email": "alex@agency.io", "password": "wrong horse 9",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Nil(t, sessionCookie(rr))
	assert.Equal(t, "invalid email or password", decode[handler.ErrorResponse](t, rr).Message)
}

func TestAuthHandler_LogoutClearsCookie(t *testing.T) {
	api := newTestAPI(t)

	rr := api.send(t, http.MethodPost, "/auth/logout", nil, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	cookie := sessionCookie(rr)
	require.NotNil(t, cookie)
	assert.Equal(t, -1, cookie.MaxAge)
}

func TestAuthHandler_APIRequiresSession(t *testing.T) {
	api := newTestAPI(t)

	rr := api.send(t, http.MethodGet, "/api/leads", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = api.send(t, http.MethodGet, "/api/leads", nil, &http.Cookie{Name: auth.CookieName, Value: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthHandler_GoogleDisabled(t *testing.T) {
	api := newTestAPI(t)
	rr := api.send(t, http.MethodGet, "/auth/google/login", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// fakeGoogle stands in for auth.GoogleProvider.
type fakeGoogle struct {
	user *auth.GoogleUser
	err  error
}

func (g *fakeGoogle) AuthURL(state string) string {
	return "https://accounts.google.test/auth?state=" + url.QueryEscape(state)
}

func (g *fakeGoogle) Exchange(_ context.Context, code string) (*auth.GoogleUser, error) {
	return g.user, g.err
}

func TestAuthHandler_GoogleFlow(t *testing.T) {
	api := newTestAPI(t)
	log := logging.Discard()
	svc := service.NewAuthService(api.db.Users(), api.tokens, auth.NewPasswordServiceForTest(4), 25, log)
	h := handler.NewAuthHandler(svc, &fakeGoogle{user: &auth.GoogleUser{
		Sub: "g-1", Email: "sam@brand.com", EmailVerified: true, GivenName: "Sam",
	}}, false, log)

	// Step 1: the login redirect carries the state stored in the cookie.
	rr := httptest.NewRecorder()
	h.HandleGoogleLogin(rr, httptest.NewRequest(http.MethodGet, "/auth/google/login", nil))
	require.Equal(t, http.StatusTemporaryRedirect, rr.Code)

	var state *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == "oauth_state" {
			state = c
		}
	}
	require.NotNil(t, state)
	assert.Contains(t, rr.Header().Get("Location"), "state="+state.Value)

	t.Run("state mismatch", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=c&state=other", nil)
		req.AddCookie(state)
		rr := httptest.NewRecorder()
		h.HandleGoogleCallback(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("links the existing account", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=c&state="+state.Value, nil)
		req.AddCookie(state)
		rr := httptest.NewRecorder()
		h.HandleGoogleCallback(rr, req)

		assert.Equal(t, http.StatusSeeOther, rr.Code)
		assert.Equal(t, "/dashboard", rr.Header().Get("Location"))
		cookie := sessionCookie(rr)
		require.NotNil(t, cookie)

		userID, err := api.tokens.Validate(cookie.Value)
		require.NoError(t, err)
		assert.Equal(t, api.user.ID, userID)
	})
}
