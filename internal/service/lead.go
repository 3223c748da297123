// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// Services never see *http.Request and never write SQL. They take primitives
// or small input structs, return model types, and report failures as
// apperror values that the handler layer maps to status codes.
//
// DEPENDENCY INJECTION:
// Every service takes repository interfaces, not *sqlite.DB. Tests pass an
// in-memory SQLite database or a hand-written fake; main.go passes the real
// stores.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/creatorhub/internal/apperror"
	"github.com/sakif/creatorhub/internal/listing"
	"github.com/sakif/creatorhub/internal/model"
	"github.com/sakif/creatorhub/internal/repository"
)

// Validation limits for lead fields.
const (
	MaxUsernameLength = 100
	MaxNotesLength    = 5000
	MaxBulkSize       = 500
)

// LeadService owns the CRM: leads, their pipeline stage and their
// enrollment in email sequences.
type LeadService struct {
	leads     repository.LeadRepository
	sequences repository.SequenceRepository
	messages  repository.MessageRepository
	logger    *slog.Logger
	now       func() time.Time
}

func NewLeadService(
	leads repository.LeadRepository,
	sequences repository.SequenceRepository,
	messages repository.MessageRepository,
	logger *slog.Logger,
) *LeadService {
	return &LeadService{
		leads:     leads,
		sequences: sequences,
		messages:  messages,
		logger:    logger,
		now:       time.Now,
	}
}

// LeadInput is the payload of the "Add lead" dialog.
type LeadInput struct {
	Platform    model.Platform    `json:"platform"`
	Username    string            `json:"username"`
	DisplayName string            `json:"displayName"`
	Email       string            `json:"email"`
	Followers   int64             `json:"followers"`
	AvgViewers  int64             `json:"avgViewers"`
	Socials     map[string]string `json:"socials"`
	Notes       string            `json:"notes"`
	Stage       model.LeadStage   `json:"stage"`
}

// Create validates and saves a new lead. A lead with the same platform and
// username already in the CRM is apperror.ErrConflict.
func (s *LeadService) Create(ctx context.Context, userID string, in LeadInput) (*model.CrmLead, error) {
	lead := &model.CrmLead{
		UserID:         userID,
		Platform:       in.Platform,
		Username:       strings.TrimSpace(in.Username),
		DisplayName:    strings.TrimSpace(in.DisplayName),
		Email:          strings.TrimSpace(in.Email),
		Followers:      in.Followers,
		AvgViewers:     in.AvgViewers,
		Socials:        in.Socials,
		Notes:          strings.TrimSpace(in.Notes),
		Stage:          in.Stage,
		SequenceStatus: model.SequenceNotStarted,
		Classification: model.ClassUnclassified,
	}
	if lead.Stage == "" {
		lead.Stage = model.StageNew
	}
	if lead.DisplayName == "" {
		lead.DisplayName = lead.Username
	}
	if err := validateLead(lead); err != nil {
		return nil, err
	}

	if err := s.leads.Create(ctx, lead); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, &apperror.AppError{
				Err:     apperror.ErrConflict,
				Message: fmt.Sprintf("%s is already in your CRM", lead.Username),
				Field:   "username",
			}
		}
		return nil, fmt.Errorf("creating lead: %w", err)
	}

	s.logger.Info("lead created", slog.String("id", lead.ID), slog.String("userID", userID))
	return lead, nil
}

func validateLead(l *model.CrmLead) error {
	if !l.Platform.Valid() {
		return apperror.ValidationFailed("platform", "platform must be twitch or youtube")
	}
	if l.Username == "" {
		return apperror.ValidationFailed("username", "username is required")
	}
	if len(l.Username) > MaxUsernameLength {
		return apperror.ValidationFailed("username",
			fmt.Sprintf("username must be %d characters or less", MaxUsernameLength))
	}
	if l.Email != "" && !strings.Contains(l.Email, "@") {
		return apperror.ValidationFailed("email", "please enter a valid email address")
	}
	if len(l.Notes) > MaxNotesLength {
		return apperror.ValidationFailed("notes",
			fmt.Sprintf("notes must be %d characters or less", MaxNotesLength))
	}
	if l.Followers < 0 || l.AvgViewers < 0 {
		return apperror.ValidationFailed("followers", "counts cannot be negative")
	}
	if !l.Stage.Valid() {
		return apperror.ValidationFailed("stage", fmt.Sprintf("unknown stage %q", l.Stage))
	}
	if !l.SequenceStatus.Valid() {
		return apperror.ValidationFailed("sequenceStatus", fmt.Sprintf("unknown sequence status %q", l.SequenceStatus))
	}
	if !l.Classification.Valid() {
		return apperror.ValidationFailed("classification", fmt.Sprintf("unknown classification %q", l.Classification))
	}
	return nil
}

// Get returns one lead. Another user's lead is apperror.ErrNotFound.
func (s *LeadService) Get(ctx context.Context, userID, id string) (*model.CrmLead, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "lead ID is required")
	}
	return s.leads.GetByID(ctx, userID, id)
}

// LeadQuery is a CRM table request: column filters pushed down to SQL plus
// the free-text search, sort and page handled by package listing.
type LeadQuery struct {
	Filter repository.LeadFilter
	listing.Query
}

// List returns one page of the user's leads.
func (s *LeadService) List(ctx context.Context, userID string, q LeadQuery) (listing.Page[model.CrmLead], error) {
	if q.Filter.Stage != "" && !q.Filter.Stage.Valid() {
		return listing.Page[model.CrmLead]{}, apperror.ValidationFailed("stage", fmt.Sprintf("unknown stage %q", q.Filter.Stage))
	}
	if q.Filter.SequenceStatus != "" && !q.Filter.SequenceStatus.Valid() {
		return listing.Page[model.CrmLead]{}, apperror.ValidationFailed("status", fmt.Sprintf("unknown sequence status %q", q.Filter.SequenceStatus))
	}
	if q.Filter.Platform != "" && !q.Filter.Platform.Valid() {
		return listing.Page[model.CrmLead]{}, apperror.ValidationFailed("platform", fmt.Sprintf("unknown platform %q", q.Filter.Platform))
	}

	leads, err := s.leads.List(ctx, userID, q.Filter)
	if err != nil {
		return listing.Page[model.CrmLead]{}, fmt.Errorf("listing leads: %w", err)
	}
	leads = listing.Filter(leads, listing.MatchLead(q.Search))
	return listing.Apply(leads, listing.LeadColumns, q.Query)
}

// LeadUpdate is a partial update: nil fields are left alone.
type LeadUpdate struct {
	DisplayName    *string               `json:"displayName"`
	Email          *string               `json:"email"`
	Followers      *int64                `json:"followers"`
	AvgViewers     *int64                `json:"avgViewers"`
	Socials        map[string]string     `json:"socials"`
	Notes          *string               `json:"notes"`
	Stage          *model.LeadStage      `json:"stage"`
	Classification *model.Classification `json:"classification"`
}

// Update applies a partial update. Outreach state (sequence, step, replied)
// only changes through Enroll/Pause/Resume/MarkReplied.
func (s *LeadService) Update(ctx context.Context, userID, id string, in LeadUpdate) (*model.CrmLead, error) {
	lead, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if in.DisplayName != nil {
		lead.DisplayName = strings.TrimSpace(*in.DisplayName)
	}
	if in.Email != nil {
		lead.Email = strings.TrimSpace(*in.Email)
	}
	if in.Followers != nil {
		lead.Followers = *in.Followers
	}
	if in.AvgViewers != nil {
		lead.AvgViewers = *in.AvgViewers
	}
	if in.Socials != nil {
		lead.Socials = in.Socials
	}
	if in.Notes != nil {
		lead.Notes = strings.TrimSpace(*in.Notes)
	}
	if in.Stage != nil {
		lead.Stage = *in.Stage
	}
	if in.Classification != nil {
		lead.Classification = *in.Classification
	}
	if err := validateLead(lead); err != nil {
		return nil, err
	}

	if err := s.leads.Update(ctx, lead); err != nil {
		return nil, fmt.Errorf("updating lead %s: %w", id, err)
	}
	return s.Get(ctx, userID, id)
}

// Delete removes one lead.
func (s *LeadService) Delete(ctx context.Context, userID, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperror.ValidationFailed("id", "lead ID is required")
	}
	if _, err := s.leads.Delete(ctx, userID, id); err != nil {
		return err
	}
	s.logger.Info("lead deleted", slog.String("id", id), slog.String("userID", userID))
	return nil
}

// BulkDelete removes every listed lead the user owns and returns how many
// went. Unknown IDs are ignored.
func (s *LeadService) BulkDelete(ctx context.Context, userID string, ids []string) (int, error) {
	ids = cleanIDs(ids)
	if len(ids) == 0 {
		return 0, apperror.ValidationFailed("ids", "select at least one lead")
	}
	if len(ids) > MaxBulkSize {
		return 0, apperror.ValidationFailed("ids", fmt.Sprintf("at most %d leads at a time", MaxBulkSize))
	}
	// A single ID through the bulk path still reports zero, not NotFound.
	if len(ids) == 1 {
		n, err := s.leads.Delete(ctx, userID, ids[0])
		if errors.Is(err, apperror.ErrNotFound) {
			return 0, nil
		}
		return n, err
	}
	n, err := s.leads.Delete(ctx, userID, ids...)
	if err != nil {
		return 0, fmt.Errorf("deleting leads: %w", err)
	}
	s.logger.Info("leads deleted", slog.Int("count", n), slog.String("userID", userID))
	return n, nil
}

// cleanIDs trims, drops blanks and removes duplicates, keeping order.
func cleanIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// ImportInput carries scraped creators picked from the discovery tables.
type ImportInput struct {
	Twitch  []model.TwitchData  `json:"twitch"`
	YouTube []model.YouTubeData `json:"youtube"`
}

// ImportResult reports what ImportFromCreators did.
type ImportResult struct {
	Created int              `json:"created"`
	Updated int              `json:"updated"`
	Skipped int              `json:"skipped"` // no username, or repeated in the batch
	Leads   []*model.CrmLead `json:"leads"`
}

// ImportFromCreators turns scraped creators into leads.
//
// DEDUPLICATION:
// (platform, username) identifies a creator, ignoring case. A creator
// already in the CRM keeps its notes, stage and outreach state; only the
// scraped numbers and contact details are refreshed.
func (s *LeadService) ImportFromCreators(ctx context.Context, userID string, in ImportInput) (*ImportResult, error) {
	candidates := make([]model.CrmLead, 0, len(in.Twitch)+len(in.YouTube))
	for _, t := range in.Twitch {
		candidates = append(candidates, model.LeadFromTwitch(userID, t))
	}
	for _, y := range in.YouTube {
		candidates = append(candidates, model.LeadFromYouTube(userID, y))
	}
	if len(candidates) == 0 {
		return nil, apperror.ValidationFailed("creators", "select at least one creator")
	}
	if len(candidates) > MaxBulkSize {
		return nil, apperror.ValidationFailed("creators", fmt.Sprintf("at most %d creators at a time", MaxBulkSize))
	}

	res := &ImportResult{Leads: make([]*model.CrmLead, 0, len(candidates))}
	seen := make(map[string]bool, len(candidates))
	for i := range candidates {
		lead := &candidates[i]
		lead.Username = strings.TrimSpace(lead.Username)
		key := string(lead.Platform) + "/" + strings.ToLower(lead.Username)
		if lead.Username == "" || seen[key] {
			res.Skipped++
			continue
		}
		seen[key] = true

		created, err := s.leads.UpsertByHandle(ctx, lead)
		if err != nil {
			return nil, fmt.Errorf("importing %s: %w", key, err)
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
		res.Leads = append(res.Leads, lead)
	}

	s.logger.Info("creators imported",
		slog.String("userID", userID),
		slog.Int("created", res.Created),
		slog.Int("updated", res.Updated),
		slog.Int("skipped", res.Skipped),
	)
	return res, nil
}

// EnrollResult reports what Enroll did.
type EnrollResult struct {
	Enrolled int      `json:"enrolled"`
	Skipped  []string `json:"skipped"` // IDs of leads that replied or have no email
}

// Enroll puts leads on a sequence, starting from step 1. Re-enrolling a lead
// restarts it. Leads that already replied or have no email are skipped.
func (s *LeadService) Enroll(ctx context.Context, userID string, leadIDs []string, sequenceID string) (*EnrollResult, error) {
	leadIDs = cleanIDs(leadIDs)
	if len(leadIDs) == 0 {
		return nil, apperror.ValidationFailed("leadIds", "select at least one lead")
	}
	if strings.TrimSpace(sequenceID) == "" {
		return nil, apperror.ValidationFailed("sequenceId", "choose a sequence")
	}

	seq, err := s.sequences.GetByID(ctx, userID, sequenceID)
	if err != nil {
		return nil, err
	}
	if len(seq.Emails) == 0 {
		return nil, apperror.ValidationFailed("sequenceId", "this sequence has no emails yet")
	}

	now := s.now().UTC()
	res := &EnrollResult{Skipped: []string{}}
	for _, id := range leadIDs {
		lead, err := s.leads.GetByID(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		if lead.Replied || lead.Email == "" {
			res.Skipped = append(res.Skipped, id)
			continue
		}

		ok, err := s.leads.Enroll(ctx, userID, id, seq.ID, now)
		if err != nil {
			return nil, fmt.Errorf("enrolling lead %s: %w", id, err)
		}
		if !ok {
			res.Skipped = append(res.Skipped, id)
			continue
		}
		res.Enrolled++
	}

	s.logger.Info("leads enrolled",
		slog.String("userID", userID),
		slog.String("sequenceID", seq.ID),
		slog.Int("enrolled", res.Enrolled),
		slog.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}

// Pause stops an active sequence; Resume picks it up again at the same step.
func (s *LeadService) Pause(ctx context.Context, userID, id string) (*model.CrmLead, error) {
	return s.transition(ctx, userID, id, model.SequenceActive, model.SequencePaused)
}

// Resume restarts a paused lead. Steps that became due while paused go out
// on the next dispatcher pass.
func (s *LeadService) Resume(ctx context.Context, userID, id string) (*model.CrmLead, error) {
	return s.transition(ctx, userID, id, model.SequencePaused, model.SequenceActive)
}

func (s *LeadService) transition(ctx context.Context, userID, id string, from, to model.SequenceStatus) (*model.CrmLead, error) {
	lead, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if lead.SequenceStatus != from {
		return nil, apperror.ValidationFailed("sequenceStatus",
			fmt.Sprintf("lead is %s, only %s leads can be set to %s", lead.SequenceStatus, from, to))
	}
	if to == model.SequenceActive && lead.Email == "" {
		return nil, apperror.ValidationFailed("email", "add an email address before resuming")
	}
	ok, err := s.leads.SetSequenceStatus(ctx, userID, id, from, to)
	if err != nil {
		return nil, fmt.Errorf("updating lead %s: %w", id, err)
	}
	if !ok {
		return nil, &apperror.AppError{
			Err:     apperror.ErrConflict,
			Message: "the lead changed while you were editing it, reload and try again",
			Field:   "sequenceStatus",
		}
	}
	return s.Get(ctx, userID, id)
}

// MarkReplied records that the creator answered. The lead leaves its
// sequence for good and moves to "engaged" if it was still early in the
// pipeline.
func (s *LeadService) MarkReplied(ctx context.Context, userID, id string, class model.Classification) (*model.CrmLead, error) {
	if class == "" {
		class = model.ClassUnclassified
	}
	if !class.Valid() {
		return nil, apperror.ValidationFailed("classification", fmt.Sprintf("unknown classification %q", class))
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "lead ID is required")
	}
	if err := s.leads.MarkReplied(ctx, userID, id, class); err != nil {
		return nil, fmt.Errorf("updating lead %s: %w", id, err)
	}
	s.logger.Info("lead replied", slog.String("id", id), slog.String("classification", string(class)))
	return s.Get(ctx, userID, id)
}

// Stats summarises the user's pipeline.
func (s *LeadService) Stats(ctx context.Context, userID string) (*model.LeadStats, error) {
	leads, err := s.leads.List(ctx, userID, repository.LeadFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing leads: %w", err)
	}

	st := &model.LeadStats{
		Total:    len(leads),
		ByStage:  make(map[model.LeadStage]int, len(model.LeadStages)),
		ByStatus: make(map[model.SequenceStatus]int, len(model.SequenceStatuses)),
	}
	for _, stage := range model.LeadStages {
		st.ByStage[stage] = 0
	}
	for _, status := range model.SequenceStatuses {
		st.ByStatus[status] = 0
	}

	contacted := 0
	for _, l := range leads {
		st.ByStage[l.Stage]++
		st.ByStatus[l.SequenceStatus]++
		if l.Replied {
			st.Replied++
		}
		if l.Email != "" {
			st.WithEmail++
		}
		if l.CurrentStep > 0 || l.Replied {
			contacted++
		}
	}
	if contacted > 0 {
		st.ReplyRate = float64(st.Replied) / float64(contacted)
	}
	return st, nil
}

// History returns the emails sent to one lead, oldest first.
func (s *LeadService) History(ctx context.Context, userID, id string) ([]model.OutreachMessage, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.messages.ListByLead(ctx, userID, id)
}
