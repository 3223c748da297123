// Package repository declares the storage interfaces the service layer
// depends on. The sqlite sub-package implements them.
package repository

import (
	"context"
	"time"

	"github.com/sakif/creatorhub/internal/model"
)

// UserRepository stores accounts, credits and subscriptions.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// UpsertGoogle links or creates the account for a Google profile.
	// Matching is by google_id first, then by email.
	UpsertGoogle(ctx context.Context, user *model.User) error
	// AdjustCredits adds delta (may be negative) and returns the new balance.
	// It never lets the balance drop below zero.
	AdjustCredits(ctx context.Context, id string, delta int) (int, error)
	GetSubscription(ctx context.Context, userID string) (*model.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *model.Subscription) error
}

// LeadFilter narrows a lead listing. Empty fields don't filter.
type LeadFilter struct {
	Stage          model.LeadStage
	SequenceStatus model.SequenceStatus
	SequenceID     string
	Platform       model.Platform
}

// LeadRepository stores CRM leads. Every method except ListActive is scoped
// to a single user.
type LeadRepository interface {
	Create(ctx context.Context, lead *model.CrmLead) error
	GetByID(ctx context.Context, userID, id string) (*model.CrmLead, error)
	List(ctx context.Context, userID string, filter LeadFilter) ([]model.CrmLead, error)
	// Update writes the profile and pipeline fields only. Outreach state
	// changes through Enroll, SetSequenceStatus, MarkReplied and Advance.
	Update(ctx context.Context, lead *model.CrmLead) error
	Delete(ctx context.Context, userID string, ids ...string) (int, error)
	// UpsertByHandle inserts the lead, or refreshes the creator fields of
	// the existing lead with the same (platform, username).
	UpsertByHandle(ctx context.Context, lead *model.CrmLead) (created bool, err error)
	// ListActive returns leads of every user that are mid-sequence and
	// haven't replied. Used by the outreach dispatcher.
	ListActive(ctx context.Context) ([]model.CrmLead, error)
	// Enroll starts the lead on a sequence. ok is false when the lead has
	// replied or has no email.
	Enroll(ctx context.Context, userID, id, sequenceID string, at time.Time) (ok bool, err error)
	// SetSequenceStatus is a compare-and-set on the sequence status.
	SetSequenceStatus(ctx context.Context, userID, id string, from, to model.SequenceStatus) (ok bool, err error)
	MarkReplied(ctx context.Context, userID, id string, class model.Classification) error
	// Advance moves the lead past the step after fromStep, but only while
	// it is still at fromStep.
	Advance(ctx context.Context, userID, id string, fromStep int, sentAt time.Time, last bool) (ok bool, err error)
	StampEnrolled(ctx context.Context, userID, id string, at time.Time) error
	// DetachSequence resets every lead enrolled in sequenceID.
	DetachSequence(ctx context.Context, userID, sequenceID string) error
}

// SequenceRepository stores email sequences and their steps.
type SequenceRepository interface {
	Create(ctx context.Context, seq *model.EmailSequence) error
	GetByID(ctx context.Context, userID, id string) (*model.EmailSequence, error)
	List(ctx context.Context, userID string) ([]model.EmailSequence, error)
	Update(ctx context.Context, seq *model.EmailSequence) error
	Delete(ctx context.Context, userID, id string) error
}

// MessageRepository is the send log of the outreach dispatcher.
type MessageRepository interface {
	Record(ctx context.Context, msg *model.OutreachMessage) error
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
	// CountBySequence returns sequenceID → messages sent.
	CountBySequence(ctx context.Context, userID string) (map[string]int, error)
	ListByLead(ctx context.Context, userID, leadID string) ([]model.OutreachMessage, error)
}
