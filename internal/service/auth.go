// Authentication business logic.
//
// AuthService is the business logic layer for authentication. It sits between
// the HTTP handlers and the repository/auth utilities:
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository (DB)
//	                   ↘ TokenService (JWT), PasswordService (bcrypt)
//
// TWO WAYS IN, ONE ACCOUNT:
// Users sign up with email + password or with Google. Both paths end in the
// same users row: signing in with Google using the address of an existing
// password account links the two (see UserDB.UpsertGoogle).

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/sakif/creatorhub/internal/apperror"
	"github.com/sakif/creatorhub/internal/auth"
	"github.com/sakif/creatorhub/internal/model"
	"github.com/sakif/creatorhub/internal/repository"
)

// invalidCredentials covers both an unknown email and a wrong password, so
// the response never reveals whether an account exists.
const invalidCredentials = "invalid email or password"

// AuthService handles the authentication business logic.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users          repository.UserRepository → read/write user records
//   - tokens         *auth.TokenService        → generate/validate JWTs
//   - passwords      *auth.PasswordService     → bcrypt hashing
//   - signupCredits  int                       → searches granted to new accounts
//   - logger         *slog.Logger              → structured logging
type AuthService struct {
	users         repository.UserRepository
	tokens        *auth.TokenService
	passwords     *auth.PasswordService
	signupCredits int
	logger        *slog.Logger
}

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	signupCredits int,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:         users,
		tokens:        tokens,
		passwords:     passwords,
		signupCredits: signupCredits,
		logger:        logger,
	}
}

// AuthResult is returned by authentication operations.
// It bundles the user record and the issued JWT together so the caller
// (the HTTP handler) can set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// SignUpInput is the payload of the signup form.
type SignUpInput struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// SignUp creates an email/password account and logs it in.
//
// VALIDATION ORDER:
// Field problems come back as apperror.ErrValidation with the offending field
// set, so the form can highlight it. A taken email is apperror.ErrConflict.
func (s *AuthService) SignUp(ctx context.Context, in SignUpInput) (*AuthResult, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)

	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if in.FirstName == "" {
		return nil, apperror.ValidationFailed("firstName", "first name is required")
	}
	if err := auth.CheckStrength(in.Password); err != nil {
		return nil, apperror.ValidationFailed("password", err.Error())
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user := &model.User{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Email:        email,
		PasswordHash: hash,
		Credits:      s.signupCredits,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, &apperror.AppError{
				Err:     apperror.ErrConflict,
				Message: "an account with this email already exists",
				Field:   "email",
			}
		}
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	s.logger.Info("user signed up", slog.String("userID", user.ID))
	return s.issue(user)
}

// Login checks an email/password pair.
//
// Every failure (unknown email, Google-only account, wrong password) returns
// the same apperror.ErrUnauthorized message.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, apperror.Unauthorized(invalidCredentials)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(invalidCredentials)
		}
		return nil, fmt.Errorf("service/auth: loading user: %w", err)
	}

	// Accounts created through Google have no password to compare against.
	if user.PasswordHash == "" {
		return nil, apperror.Unauthorized(invalidCredentials)
	}
	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperror.Unauthorized(invalidCredentials)
		}
		return nil, fmt.Errorf("service/auth: verifying password: %w", err)
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return s.issue(user)
}

// LoginOrRegisterGoogle handles the Google OAuth callback.
//
// After the handler exchanges the code for a GoogleUser profile, this:
//
//  1. Upserts the user (create, or link by google_id / email)
//  2. Generates a JWT access token for the account
//  3. Returns both so the handler can set the HttpOnly cookie and redirect
//
// New accounts get the same signup credits as email/password signups.
// Returning users keep their balance: UpsertGoogle ignores Credits for rows
// that already exist.
func (s *AuthService) LoginOrRegisterGoogle(ctx context.Context, g *auth.GoogleUser) (*AuthResult, error) {
	if g == nil {
		return nil, fmt.Errorf("service/auth: Google user must not be nil")
	}

	first, last := g.GivenName, g.FamilyName
	if first == "" && last == "" {
		first, last, _ = strings.Cut(strings.TrimSpace(g.Name), " ")
	}

	user := &model.User{
		FirstName: first,
		LastName:  last,
		Email:     strings.TrimSpace(g.Email),
		GoogleID:  g.Sub,
		Credits:   s.signupCredits,
	}
	if err := s.users.UpsertGoogle(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: upserting Google user %s: %w", g.Sub, err)
	}

	s.logger.Info("user authenticated via Google", slog.String("userID", user.ID))
	return s.issue(user)
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

// GetUserByID returns the user for the given internal ID.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.Unauthorized("please log in to continue")
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", id, err)
	}
	return user, nil
}

// GetSubscription returns the user's plan, or nil for free accounts.
func (s *AuthService) GetSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	sub, err := s.users.GetSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("service/auth: fetching subscription for %s: %w", userID, err)
	}
	return sub, nil
}

// Me is what GET /api/me returns: the user plus their plan, if any.
func (s *AuthService) Me(ctx context.Context, userID string) (*model.Me, error) {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	sub, err := s.GetSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.Me{User: user, Subscription: sub}, nil
}

// ValidateToken validates a JWT string and returns the userID it encodes.
//
// Having it on AuthService means callers only need to import the service
// package, not the auth package directly.
func (s *AuthService) ValidateToken(tokenStr string) (string, error) {
	userID, err := s.tokens.Validate(tokenStr)
	if err != nil {
		return "", apperror.Unauthorized("your session has expired, please log in again")
	}
	return userID, nil
}

// SessionTTL is how long issued tokens (and therefore cookies) live.
func (s *AuthService) SessionTTL() time.Duration {
	return s.tokens.TTL()
}

// normalizeEmail trims and syntax-checks an address. Only the bare address
// is accepted: "Name <a@b.c>" is rejected so what we store is what the user
// typed.
func normalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if email == "" {
		return "", apperror.ValidationFailed("email", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperror.ValidationFailed("email", "please enter a valid email address")
	}
	return email, nil
}
