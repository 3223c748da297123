// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a registered account.
//
// Users sign up either with email + password or through Google OAuth. Both
// paths end up in the same row: GoogleID is set once the account has been
// linked, PasswordHash is empty for OAuth-only accounts.
//
// WHY PasswordHash HAS json:"-"?
// The struct is returned as-is by GET /api/me. The dash tag makes
// encoding/json skip the field entirely, so the hash can never leak to the
// browser even if a handler forgets to strip it.
type User struct {
	ID           string    `json:"id"         db:"id"`
	FirstName    string    `json:"firstName"  db:"first_name"`
	LastName     string    `json:"lastName"   db:"last_name"`
	Email        string    `json:"email"      db:"email"`
	PasswordHash string    `json:"-"          db:"password_hash"`
	GoogleID     string    `json:"-"          db:"google_id"`
	Subscribed   bool      `json:"subscribed" db:"subscribed"` // true while a paid plan is active
	Credits      int       `json:"credits"    db:"credits"`    // remaining discovery searches
	CreatedAt    time.Time `json:"createdAt"  db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt"  db:"updated_at"`
}

// DisplayName is what outreach emails sign off with.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Email
	}
}

// Subscription is the plan metadata shown on the billing page.
// It is display-only: nothing in the service changes behaviour based on it
// beyond the Subscribed flag mirrored onto User.
type Subscription struct {
	UserID       string     `json:"userId"       db:"user_id"`
	PlanID       string     `json:"planId"       db:"plan_id"`
	PlanName     string     `json:"planName"     db:"plan_name"`
	Status       string     `json:"status"       db:"status"` // active, cancelled, past_due, ...
	RenewsAt     *time.Time `json:"renewsAt"     db:"renews_at"`
	CardBrand    string     `json:"cardBrand"    db:"card_brand"`
	CardLastFour string     `json:"cardLastFour" db:"card_last_four"`
}

// Me is the payload behind GET /api/me: the user plus their plan, if any.
type Me struct {
	User         *User         `json:"user"`
	Subscription *Subscription `json:"subscription,omitempty"`
}
