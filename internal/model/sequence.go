package model

import "time"

// SequenceEmail is one step of an outreach sequence.
//
// Subject and Body are templates: {{first_name}}, {{username}} and friends are
// filled in per lead at send time (see package outreach).
//
// DelayDays counts from the previous step (or from enrollment for step 1).
type SequenceEmail struct {
	Step      int    `json:"step"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	DelayDays int    `json:"delayDays"`
}

// SequenceStats are computed, never stored.
type SequenceStats struct {
	Enrolled  int     `json:"enrolled"`
	Active    int     `json:"active"`
	Completed int     `json:"completed"`
	Sent      int     `json:"sent"`
	Replied   int     `json:"replied"`
	ReplyRate float64 `json:"replyRate"`
}

// EmailSequence is an ordered list of template emails used for outreach.
type EmailSequence struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Emails      []SequenceEmail `json:"emails"`
	Stats       SequenceStats   `json:"stats"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// DueAt returns when step (1-based) becomes sendable for a lead enrolled at
// enrolledAt. Delays are cumulative. ok is false when step is out of range.
func (s *EmailSequence) DueAt(enrolledAt time.Time, step int) (due time.Time, ok bool) {
	if step < 1 || step > len(s.Emails) {
		return time.Time{}, false
	}
	days := 0
	for i := 0; i < step; i++ {
		days += s.Emails[i].DelayDays
	}
	return enrolledAt.AddDate(0, 0, days), true
}

// OutreachMessage is the log entry written each time a sequence step is sent.
type OutreachMessage struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	LeadID     string    `json:"leadId"`
	SequenceID string    `json:"sequenceId"`
	Step       int       `json:"step"`
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	TrackingID string    `json:"trackingId"`
	SentAt     time.Time `json:"sentAt"`
}

// RenderedEmail is one step rendered for a specific lead (used by previews).
type RenderedEmail struct {
	Step    int       `json:"step"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	DueAt   time.Time `json:"dueAt"`
	Missing []string  `json:"missing,omitempty"` // placeholders with no value
}
