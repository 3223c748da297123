package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sakif/creatorhub/internal/apperror"
	"github.com/sakif/creatorhub/internal/model"
	"github.com/sakif/creatorhub/internal/outreach"
	"github.com/sakif/creatorhub/internal/repository"
)

const (
	MaxSequenceNameLength = 100
	MaxSequenceSteps      = 20
	MaxSubjectLength      = 200
	MaxBodyLength         = 20000
	MaxDelayDays          = 365
)

// SequenceService manages email sequences and computes their stats.
//
// STATS ARE DERIVED:
// Nothing in the sequences table counts anything. Enrolled/active/replied
// come from the leads pointing at a sequence, sent from the send log. That
// way the numbers can never drift from the data they describe.
type SequenceService struct {
	sequences repository.SequenceRepository
	leads     repository.LeadRepository
	messages  repository.MessageRepository
	users     repository.UserRepository
	logger    *slog.Logger
	now       func() time.Time
}

func NewSequenceService(
	sequences repository.SequenceRepository,
	leads repository.LeadRepository,
	messages repository.MessageRepository,
	users repository.UserRepository,
	logger *slog.Logger,
) *SequenceService {
	return &SequenceService{
		sequences: sequences,
		leads:     leads,
		messages:  messages,
		users:     users,
		logger:    logger,
		now:       time.Now,
	}
}

// SequenceInput is the payload of the sequence editor.
type SequenceInput struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Emails      []model.SequenceEmail `json:"emails"`
}

// normalize trims the input, validates it, and renumbers steps 1..n in the
// order given.
func (in SequenceInput) normalize() (SequenceInput, error) {
	out := SequenceInput{
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Emails:      make([]model.SequenceEmail, 0, len(in.Emails)),
	}

	if out.Name == "" {
		return out, apperror.ValidationFailed("name", "sequence name is required")
	}
	if len(out.Name) > MaxSequenceNameLength {
		return out, apperror.ValidationFailed("name",
			fmt.Sprintf("sequence name must be %d characters or less", MaxSequenceNameLength))
	}
	if len(in.Emails) == 0 {
		return out, apperror.ValidationFailed("emails", "add at least one email")
	}
	if len(in.Emails) > MaxSequenceSteps {
		return out, apperror.ValidationFailed("emails",
			fmt.Sprintf("a sequence can have at most %d emails", MaxSequenceSteps))
	}

	for i, e := range in.Emails {
		field := fmt.Sprintf("emails[%d]", i)
		e.Subject = strings.TrimSpace(e.Subject)
		switch {
		case e.Subject == "":
			return out, apperror.ValidationFailed(field+".subject", fmt.Sprintf("email %d needs a subject", i+1))
		case len(e.Subject) > MaxSubjectLength:
			return out, apperror.ValidationFailed(field+".subject",
				fmt.Sprintf("subject must be %d characters or less", MaxSubjectLength))
		case len(e.Body) > MaxBodyLength:
			return out, apperror.ValidationFailed(field+".body",
				fmt.Sprintf("body must be %d characters or less", MaxBodyLength))
		case e.DelayDays < 0 || e.DelayDays > MaxDelayDays:
			return out, apperror.ValidationFailed(field+".delayDays",
				fmt.Sprintf("delay must be between 0 and %d days", MaxDelayDays))
		}
		e.Step = i + 1
		out.Emails = append(out.Emails, e)
	}
	return out, nil
}

// Create validates and saves a new sequence.
func (s *SequenceService) Create(ctx context.Context, userID string, in SequenceInput) (*model.EmailSequence, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}

	seq := &model.EmailSequence{
		UserID:      userID,
		Name:        in.Name,
		Description: in.Description,
		Emails:      in.Emails,
	}
	if err := s.sequences.Create(ctx, seq); err != nil {
		return nil, fmt.Errorf("creating sequence: %w", err)
	}

	s.logger.Info("sequence created",
		slog.String("id", seq.ID),
		slog.String("userID", userID),
		slog.Int("steps", len(seq.Emails)),
	)
	return seq, nil
}

// Get returns one sequence with fresh stats.
func (s *SequenceService) Get(ctx context.Context, userID, id string) (*model.EmailSequence, error) {
	seq, err := s.sequences.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	stats, err := s.stats(ctx, userID)
	if err != nil {
		return nil, err
	}
	seq.Stats = stats[seq.ID]
	return seq, nil
}

// List returns every sequence of the user with stats.
func (s *SequenceService) List(ctx context.Context, userID string) ([]model.EmailSequence, error) {
	seqs, err := s.sequences.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing sequences: %w", err)
	}
	stats, err := s.stats(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range seqs {
		seqs[i].Stats = stats[seqs[i].ID]
	}
	return seqs, nil
}

// stats computes SequenceStats for every sequence of userID with two
// queries: the user's leads and the per-sequence send counts.
func (s *SequenceService) stats(ctx context.Context, userID string) (map[string]model.SequenceStats, error) {
	leads, err := s.leads.List(ctx, userID, repository.LeadFilter{})
	if err != nil {
		return nil, fmt.Errorf("loading leads for stats: %w", err)
	}
	sent, err := s.messages.CountBySequence(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading send counts: %w", err)
	}

	out := make(map[string]model.SequenceStats)
	contacted := make(map[string]int)
	for _, l := range leads {
		if l.SequenceID == "" {
			continue
		}
		st := out[l.SequenceID]
		st.Enrolled++
		switch l.SequenceStatus {
		case model.SequenceActive:
			st.Active++
		case model.SequenceCompleted:
			st.Completed++
		}
		if l.Replied {
			st.Replied++
		}
		if l.CurrentStep > 0 || l.Replied {
			contacted[l.SequenceID]++
		}
		out[l.SequenceID] = st
	}
	for id, n := range sent {
		st := out[id]
		st.Sent = n
		out[id] = st
	}
	for id, st := range out {
		if c := contacted[id]; c > 0 {
			st.ReplyRate = float64(st.Replied) / float64(c)
			out[id] = st
		}
	}
	return out, nil
}

// Update replaces the sequence's name, description and steps.
//
// Leads already mid-sequence keep their CurrentStep. If the new sequence is
// shorter, the dispatcher marks them completed on its next pass.
func (s *SequenceService) Update(ctx context.Context, userID, id string, in SequenceInput) (*model.EmailSequence, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}

	seq, err := s.sequences.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	seq.Name = in.Name
	seq.Description = in.Description
	seq.Emails = in.Emails

	if err := s.sequences.Update(ctx, seq); err != nil {
		return nil, fmt.Errorf("updating sequence %s: %w", id, err)
	}
	return seq, nil
}

// Delete removes the sequence after detaching every lead enrolled in it.
func (s *SequenceService) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.sequences.GetByID(ctx, userID, id); err != nil {
		return err
	}
	if err := s.leads.DetachSequence(ctx, userID, id); err != nil {
		return fmt.Errorf("detaching leads from sequence %s: %w", id, err)
	}
	if err := s.sequences.Delete(ctx, userID, id); err != nil {
		return err
	}
	s.logger.Info("sequence deleted", slog.String("id", id), slog.String("userID", userID))
	return nil
}

// Duplicate copies a sequence under the name "<name> (copy)".
func (s *SequenceService) Duplicate(ctx context.Context, userID, id string) (*model.EmailSequence, error) {
	src, err := s.sequences.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	const suffix = " (copy)"
	name := strings.TrimSpace(truncateUTF8(src.Name, MaxSequenceNameLength-len(suffix))) + suffix
	return s.Create(ctx, userID, SequenceInput{
		Name:        name,
		Description: src.Description,
		Emails:      append([]model.SequenceEmail(nil), src.Emails...),
	})
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Preview renders every step of a sequence for one lead, with the date each
// step would go out. A lead that isn't enrolled is previewed as if it were
// enrolled now.
func (s *SequenceService) Preview(ctx context.Context, userID, sequenceID, leadID string) ([]model.RenderedEmail, error) {
	if strings.TrimSpace(leadID) == "" {
		return nil, apperror.ValidationFailed("lead_id", "choose a lead to preview with")
	}

	seq, err := s.sequences.GetByID(ctx, userID, sequenceID)
	if err != nil {
		return nil, err
	}
	lead, err := s.leads.GetByID(ctx, userID, leadID)
	if err != nil {
		return nil, err
	}
	sender, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	start := s.now().UTC()
	if lead.SequenceID == seq.ID && lead.EnrolledAt != nil {
		start = *lead.EnrolledAt
	}

	vars := outreach.LeadVariables(lead, sender)
	out := make([]model.RenderedEmail, 0, len(seq.Emails))
	for _, e := range seq.Emails {
		r := outreach.RenderStep(e, vars)
		r.DueAt, _ = seq.DueAt(start, e.Step)
		out = append(out, r)
	}
	return out, nil
}
