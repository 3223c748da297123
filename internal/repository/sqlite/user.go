package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/creatorhub/internal/apperror"
	"github.com/sakif/creatorhub/internal/model"
	"github.com/sakif/creatorhub/internal/repository"
)

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the users + subscriptions store.
type UserDB struct {
	conn *sql.DB
}

const userColumns = `id, first_name, last_name, email, password_hash, COALESCE(google_id, ''),
	subscribed, credits, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.FirstName,
		&u.LastName,
		&u.Email,
		&u.PasswordHash,
		&u.GoogleID,
		&u.Subscribed,
		&u.Credits,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user. The email is unique (case-insensitive); a
// second signup with the same address returns apperror.ErrConflict.
func (s *UserDB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.Email = strings.TrimSpace(user.Email)
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO users (id, first_name, last_name, email, password_hash, google_id,
		                    subscribed, credits, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.FirstName,
		user.LastName,
		user.Email,
		user.PasswordHash,
		nullString(user.GoogleID),
		user.Subscribed,
		user.Credits,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Email)
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Email, err)
	}
	return nil
}

// GetByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (s *UserDB) GetByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(s.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

// GetByEmail looks a user up by email, ignoring case.
func (s *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.TrimSpace(email)
	u, err := scanUser(s.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return u, nil
}

// UpsertGoogle inserts or links a user based on their Google profile.
//
// LOOKUP ORDER:
//  1. google_id: a returning Google user; refresh their name.
//  2. email:     an email/password user signing in with Google for the
//     first time; link the Google ID to the existing row.
//  3. neither:   a brand new account.
//
// In every case user is filled with the canonical row on return.
func (s *UserDB) UpsertGoogle(ctx context.Context, user *model.User) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning google upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE google_id = ?`, user.GoogleID).Scan(&existingID)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE email = ?`, user.Email).Scan(&existingID)
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlite: looking up google user %s: %w", user.GoogleID, err)
	}

	now := time.Now().UTC()
	if existingID != "" {
		// Keep any name the user typed in themselves; only fill blanks.
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET google_id = ?,
			        first_name = CASE WHEN first_name = '' THEN ? ELSE first_name END,
			        last_name  = CASE WHEN last_name  = '' THEN ? ELSE last_name  END,
			        updated_at = ?
			 WHERE id = ?`,
			user.GoogleID, user.FirstName, user.LastName, now, existingID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: linking google user %s: %w", existingID, err)
		}
	} else {
		existingID = xid.New().String()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO users (id, first_name, last_name, email, google_id, credits, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			existingID, user.FirstName, user.LastName, user.Email, user.GoogleID, user.Credits, now, now,
		)
		if err != nil {
			return fmt.Errorf("sqlite: inserting google user %s: %w", user.Email, err)
		}
	}

	stored, err := scanUser(tx.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, existingID))
	if err != nil {
		return fmt.Errorf("sqlite: reloading user %s: %w", existingID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing google upsert: %w", err)
	}

	*user = *stored
	return nil
}

// AdjustCredits changes the credit balance by delta in a single UPDATE.
//
// WHY ONE STATEMENT?
// Two concurrent searches must not both spend the last credit. A
// read-modify-write in Go would race; the guarded UPDATE below is atomic:
// it only matches the row when the result stays >= 0.
func (s *UserDB) AdjustCredits(ctx context.Context, id string, delta int) (int, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE users SET credits = credits + ?, updated_at = ?
		 WHERE id = ? AND credits + ? >= 0`,
		delta, time.Now().UTC(), id, delta,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: adjusting credits for %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}

	if n == 0 {
		// Either the user doesn't exist or the balance is too low.
		if _, err := s.GetByID(ctx, id); err != nil {
			return 0, err
		}
		return 0, apperror.PaymentRequired("not enough credits left, upgrade your plan to keep searching")
	}

	var balance int
	if err := s.conn.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = ?`, id).Scan(&balance); err != nil {
		return 0, fmt.Errorf("sqlite: reading credits for %s: %w", id, err)
	}
	return balance, nil
}

// GetSubscription returns the user's plan, or apperror.ErrNotFound for
// free accounts.
func (s *UserDB) GetSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	var (
		sub      model.Subscription
		renewsAt sql.NullTime
	)
	err := s.conn.QueryRowContext(ctx,
		`SELECT user_id, plan_id, plan_name, status, renews_at, card_brand, card_last_four
		 FROM subscriptions WHERE user_id = ?`, userID,
	).Scan(&sub.UserID, &sub.PlanID, &sub.PlanName, &sub.Status, &renewsAt, &sub.CardBrand, &sub.CardLastFour)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("subscription", userID)
		}
		return nil, fmt.Errorf("sqlite: getting subscription for %s: %w", userID, err)
	}
	sub.RenewsAt = timePtr(renewsAt)
	return &sub, nil
}

// UpsertSubscription stores the plan and mirrors "active" onto users.subscribed.
func (s *UserDB) UpsertSubscription(ctx context.Context, sub *model.Subscription) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning subscription upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, plan_id, plan_name, status, renews_at, card_brand, card_last_four)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   plan_id = excluded.plan_id,
		   plan_name = excluded.plan_name,
		   status = excluded.status,
		   renews_at = excluded.renews_at,
		   card_brand = excluded.card_brand,
		   card_last_four = excluded.card_last_four`,
		sub.UserID, sub.PlanID, sub.PlanName, sub.Status, nullTime(sub.RenewsAt), sub.CardBrand, sub.CardLastFour,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upserting subscription for %s: %w", sub.UserID, err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE users SET subscribed = ?, updated_at = ? WHERE id = ?`,
		sub.Status == "active", time.Now().UTC(), sub.UserID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating subscribed flag for %s: %w", sub.UserID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NotFound("user", sub.UserID)
	}

	return tx.Commit()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
// modernc.org/sqlite reports it as "constraint failed: UNIQUE constraint failed: ...".
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
