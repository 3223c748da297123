package outreach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/sakif/creatorhub/internal/apperror"
	"github.com/sakif/creatorhub/internal/model"
	"github.com/sakif/creatorhub/internal/repository"
)

// DispatchConfig bounds how much mail the dispatcher sends.
type DispatchConfig struct {
	From           string // envelope sender for every message
	MaxPerDay      int    // per user, rolling 24h
	SendsPerMinute int    // across all users
}

// RunResult summarises one pass.
type RunResult struct {
	Sent      int
	Completed int // leads that finished their sequence this pass
	Skipped   int // not due yet, or over the daily cap
	Failed    int
}

// Dispatcher sends due sequence steps to enrolled leads.
//
// A lead is due for step n+1 (after n sent) once
// enrolled_at + delay(1) + ... + delay(n+1) has passed. Leads that replied
// are never contacted again. Sends are paced by a rate limiter shared by all
// users, and each user is held to MaxPerDay messages per rolling 24h.
type Dispatcher struct {
	leads     repository.LeadRepository
	sequences repository.SequenceRepository
	users     repository.UserRepository
	messages  repository.MessageRepository
	mailer    Mailer
	limiter   *rate.Limiter
	cfg       DispatchConfig
	logger    *slog.Logger
	now       func() time.Time
}

func NewDispatcher(
	leads repository.LeadRepository,
	sequences repository.SequenceRepository,
	users repository.UserRepository,
	messages repository.MessageRepository,
	mailer Mailer,
	cfg DispatchConfig,
	logger *slog.Logger,
) *Dispatcher {
	perMinute := max(cfg.SendsPerMinute, 1)
	return &Dispatcher{
		leads:     leads,
		sequences: sequences,
		users:     users,
		messages:  messages,
		mailer:    mailer,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "dispatcher")),
		now:       time.Now,
	}
}

// Start runs a pass every interval until ctx is cancelled. It blocks; the
// server runs it in its own goroutine.
func (d *Dispatcher) Start(ctx context.Context, interval time.Duration) {
	d.logger.Info("outreach dispatcher started", slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := d.RunOnce(ctx)
		switch {
		case ctx.Err() != nil:
		case err != nil:
			d.logger.Error("dispatch pass failed", slog.String("error", err.Error()))
		case res.Sent > 0 || res.Failed > 0 || res.Completed > 0:
			d.logger.Info("dispatch pass",
				slog.Int("sent", res.Sent),
				slog.Int("completed", res.Completed),
				slog.Int("skipped", res.Skipped),
				slog.Int("failed", res.Failed),
			)
		}

		select {
		case <-ctx.Done():
			d.logger.Info("outreach dispatcher stopped")
			return
		case <-ticker.C:
		}
	}
}

// pass holds per-run caches so a user with 500 leads costs one user
// lookup, one sequence lookup and one quota query.
type pass struct {
	users     map[string]*model.User
	sequences map[string]*model.EmailSequence
	sentToday map[string]int
}

// RunOnce does a single pass over every active lead. A failure on one lead
// is counted and logged, not returned; only a failure to list leads or a
// cancelled ctx end the pass early.
func (d *Dispatcher) RunOnce(ctx context.Context) (RunResult, error) {
	var res RunResult

	leads, err := d.leads.ListActive(ctx)
	if err != nil {
		return res, fmt.Errorf("outreach: listing active leads: %w", err)
	}

	p := &pass{
		users:     make(map[string]*model.User),
		sequences: make(map[string]*model.EmailSequence),
		sentToday: make(map[string]int),
	}

	for i := range leads {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		outcome, err := d.process(ctx, p, &leads[i])
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			if outcome == outcomeSent {
				res.Sent++
			}
			res.Failed++
			d.logger.Warn("dispatch failed for lead",
				slog.String("leadID", leads[i].ID),
				slog.String("userID", leads[i].UserID),
				slog.String("error", err.Error()),
			)
			continue
		}
		switch outcome {
		case outcomeSent:
			res.Sent++
		case outcomeSentAndCompleted:
			res.Sent++
			res.Completed++
		case outcomeCompleted:
			res.Completed++
		default:
			res.Skipped++
		}
	}
	return res, nil
}

// bookkeepingTimeout bounds the writes that follow a successful send.
const bookkeepingTimeout = 5 * time.Second

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeSentAndCompleted
	outcomeCompleted
)

func (d *Dispatcher) process(ctx context.Context, p *pass, lead *model.CrmLead) (outcome, error) {
	if lead.Replied || lead.SequenceStatus != model.SequenceActive || lead.SequenceID == "" {
		return outcomeSkipped, nil
	}
	now := d.now()

	seq, err := d.sequence(ctx, p, lead.UserID, lead.SequenceID)
	if err != nil {
		return outcomeSkipped, err
	}

	if lead.EnrolledAt == nil {
		// Enrolled by an older client that didn't stamp the time: start now.
		return outcomeSkipped, d.leads.StampEnrolled(ctx, lead.UserID, lead.ID, now)
	}

	next := lead.CurrentStep + 1
	if next > len(seq.Emails) {
		ok, err := d.leads.SetSequenceStatus(ctx, lead.UserID, lead.ID, model.SequenceActive, model.SequenceCompleted)
		if err != nil || !ok {
			return outcomeSkipped, err
		}
		return outcomeCompleted, nil
	}

	due, _ := seq.DueAt(*lead.EnrolledAt, next)
	if now.Before(due) {
		return outcomeSkipped, nil
	}

	if lead.Email == "" {
		d.logger.Warn("lead has no email, pausing sequence", slog.String("leadID", lead.ID))
		_, err := d.leads.SetSequenceStatus(ctx, lead.UserID, lead.ID, model.SequenceActive, model.SequencePaused)
		return outcomeSkipped, err
	}

	if err := d.loadQuota(ctx, p, lead.UserID, now); err != nil {
		return outcomeSkipped, err
	}
	if p.sentToday[lead.UserID] >= d.cfg.MaxPerDay {
		return outcomeSkipped, nil
	}

	sender, err := d.user(ctx, p, lead.UserID)
	if err != nil {
		return outcomeSkipped, err
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return outcomeSkipped, err
	}

	// The user may have marked a reply or paused the lead while we waited.
	fresh, err := d.leads.GetByID(ctx, lead.UserID, lead.ID)
	if err != nil {
		return outcomeSkipped, err
	}
	if fresh.Replied || fresh.SequenceStatus != model.SequenceActive || fresh.CurrentStep != lead.CurrentStep {
		return outcomeSkipped, nil
	}
	lead = fresh

	step := RenderStep(seq.Emails[next-1], LeadVariables(lead, sender))
	msg := &model.OutreachMessage{
		UserID:     lead.UserID,
		LeadID:     lead.ID,
		SequenceID: seq.ID,
		Step:       next,
		To:         lead.Email,
		Subject:    step.Subject,
		Body:       step.Body,
		TrackingID: uuid.NewString(),
		SentAt:     now,
	}

	err = d.mailer.Send(ctx, Email{
		From:       d.cfg.From,
		To:         msg.To,
		Subject:    msg.Subject,
		Body:       msg.Body,
		TrackingID: msg.TrackingID,
	})
	if err != nil {
		return outcomeSkipped, apperror.Unavailable("the mail relay", err)
	}
	p.sentToday[lead.UserID]++

	// The email is out. Bookkeeping runs even if ctx was cancelled during
	// the send, otherwise the next pass would send this step again.
	bookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	if err := d.messages.Record(bookCtx, msg); err != nil {
		d.logger.Error("recording sent message", slog.String("leadID", lead.ID), slog.String("error", err.Error()))
	}

	last := next == len(seq.Emails)
	ok, err := d.leads.Advance(bookCtx, lead.UserID, lead.ID, lead.CurrentStep, now, last)
	if err != nil {
		return outcomeSent, fmt.Errorf("advancing lead %s: %w", lead.ID, err)
	}
	if !ok {
		d.logger.Warn("lead moved on during send", slog.String("leadID", lead.ID), slog.Int("step", next))
		return outcomeSent, nil
	}
	if last {
		return outcomeSentAndCompleted, nil
	}
	return outcomeSent, nil
}

func (d *Dispatcher) sequence(ctx context.Context, p *pass, userID, id string) (*model.EmailSequence, error) {
	if s, ok := p.sequences[id]; ok {
		return s, nil
	}
	s, err := d.sequences.GetByID(ctx, userID, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("lead points at missing sequence %s: %w", id, err)
		}
		return nil, err
	}
	p.sequences[id] = s
	return s, nil
}

func (d *Dispatcher) user(ctx context.Context, p *pass, id string) (*model.User, error) {
	if u, ok := p.users[id]; ok {
		return u, nil
	}
	u, err := d.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.users[id] = u
	return u, nil
}

func (d *Dispatcher) loadQuota(ctx context.Context, p *pass, userID string, now time.Time) error {
	if _, ok := p.sentToday[userID]; ok {
		return nil
	}
	n, err := d.messages.CountSince(ctx, userID, now.Add(-24*time.Hour))
	if err != nil {
		return err
	}
	p.sentToday[userID] = n
	return nil
}
