package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/rs/xid"

	"github.com/sakif/creatorhub/internal/apperror"
	"github.com/sakif/creatorhub/internal/auth"
	"github.com/sakif/creatorhub/internal/service"
)

const oauthStateCookie = "oauth_state"

var errGoogleDisabled = &apperror.AppError{Err: apperror.ErrNotFound, Message: "Google sign-in is not configured"}

// GoogleLogin is the part of auth.GoogleProvider the handler needs.
type GoogleLogin interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GoogleUser, error)
}

// AuthHandler manages email/password accounts, the Google OAuth flow and
// the session cookie.
//
// HANDLER RESPONSIBILITIES:
//   - HandleSignUp / HandleLogin → create or check an account, set the cookie
//   - HandleLogout               → clear the cookie
//   - HandleGoogleLogin          → redirect the browser to Google's consent page
//   - HandleGoogleCallback       → exchange the code, log in or register, set the cookie
//   - HandleMe                   → the logged-in user plus their subscription
type AuthHandler struct {
	svc           *service.AuthService
	google        GoogleLogin // nil when Google sign-in isn't configured
	secureCookies bool
	logger        *slog.Logger
}

// NewAuthHandler creates an AuthHandler. google may be nil.
func NewAuthHandler(svc *service.AuthService, google GoogleLogin, secureCookies bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		svc:           svc,
		google:        google,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleSignUp creates a password account and logs it in.
//
// HTTP: POST /auth/signup
// Body: {"firstName": "...", "lastName": "...", "email": "...", "password": "..."}
// Response: 201 Created with the new user, session cookie set
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var input service.SignUpInput
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.svc.SignUp(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}

	auth.SetSessionCookie(w, res.Token, h.svc.SessionTTL(), h.secureCookies)
	writeJSON(w, http.StatusCreated, res.User)
}

// HandleLogin checks the credentials and sets the session cookie.
//
// HTTP: POST /auth/login
// Body: {"email": "...", "password": "..."}
// Response: 200 OK with the user, or 401 with a message that doesn't say
// which half was wrong
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var input loginRequest
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.svc.Login(r.Context(), input.Email, input.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	auth.SetSessionCookie(w, res.Token, h.svc.SessionTTL(), h.secureCookies)
	writeJSON(w, http.StatusOK, res.User)
}

// HandleLogout clears the session cookie.
//
// HTTP: POST /auth/logout
// Response: 204 No Content
//
// JWTs are stateless, so there is nothing to revoke server-side; the token
// simply stops being sent.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w, h.secureCookies)
	w.WriteHeader(http.StatusNoContent)
}

// HandleGoogleLogin redirects the user to Google's consent page.
//
// HTTP: GET /auth/google/login
//
// CSRF PROTECTION VIA STATE:
// A random state value goes into a short-lived cookie and into the
// redirect URL. The callback only proceeds when the two match.
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		writeError(w, errGoogleDisabled)
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.google.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGoogleCallback completes the OAuth flow.
//
// HTTP: GET /auth/google/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for a verified Google profile
//  3. Log in the linked account, or create one with the signup credits
//  4. Set the session cookie and redirect to the dashboard
//
// This endpoint is hit by a browser redirect, so failures redirect back to
// the landing page with ?auth=... instead of returning JSON.
func (h *AuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		writeError(w, errGoogleDisabled)
		return
	}

	// --- Step 1: Validate CSRF state ---
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("google callback: invalid state")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	// The state is single-use.
	http.SetCookie(w, &http.Cookie{
		Name:   oauthStateCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("google callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	// --- Step 2: Exchange code for the Google profile ---
	gUser, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("google callback: exchange failed", slog.String("error", err.Error()))
		http.Redirect(w, r, "/?auth=failed", http.StatusSeeOther)
		return
	}

	// --- Step 3: Log in or register ---
	res, err := h.svc.LoginOrRegisterGoogle(r.Context(), gUser)
	if err != nil {
		h.logger.Error("google callback: login failed",
			slog.String("email", gUser.Email),
			slog.String("error", err.Error()),
		)
		http.Redirect(w, r, "/?auth=failed", http.StatusSeeOther)
		return
	}

	// --- Step 4: Session cookie + redirect ---
	auth.SetSessionCookie(w, res.Token, h.svc.SessionTTL(), h.secureCookies)
	h.logger.Info("user logged in with Google", slog.String("userID", res.User.ID))
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// HandleMe returns the logged-in user and their subscription.
//
// HTTP: GET /api/me
// Response: {"user": {...}, "subscription": {...}}
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	me, err := h.svc.Me(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, me)
}

// requireUser returns the authenticated user's ID, or writes a 401 and
// returns false. Routes behind auth.RequireAuth always have one; the check
// keeps a mis-mounted route from running with an empty user ID.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("please log in to continue"))
		return "", false
	}
	return userID, true
}
