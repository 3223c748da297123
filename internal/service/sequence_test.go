package service

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/creatorhub/internal/apperror"
	"github.com/sakif/creatorhub/internal/model"
)

func TestSequenceCreate_EmptyNameIsValidationError(t *testing.T) {
	env := newTestEnv(t)

	for _, name := range []string{"", "   "} {
		_, err := env.sequences.Create(context.Background(), env.user.ID, SequenceInput{
			Name:   name,
			Emails: []model.SequenceEmail{{Subject: "Hi"}},
		})
		var appErr *apperror.AppError
		require.ErrorAs(t, err, &appErr)
		assert.ErrorIs(t, err, apperror.ErrValidation)
		assert.Equal(t, "name", appErr.Field)
		assert.Equal(t, "sequence name is required", appErr.Message)
	}
}

func TestSequenceCreate_ValidatesSteps(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		emails []model.SequenceEmail
		field  string
	}{
		{"no emails", nil, "emails"},
		{"blank subject", []model.SequenceEmail{{Subject: "ok"}, {Subject: " "}}, "emails[1].subject"},
		{"negative delay", []model.SequenceEmail{{Subject: "ok", DelayDays: -1}}, "emails[0].delayDays"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.sequences.Create(context.Background(), env.user.ID, SequenceInput{
				Name: "Intro", Emails: tc.emails,
			})
			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tc.field, appErr.Field)
		})
	}
}

func TestSequenceCreate_RenumbersSteps(t *testing.T) {
	env := newTestEnv(t)

	seq, err := env.sequences.Create(context.Background(), env.user.ID, SequenceInput{
		Name: " Intro ",
		Emails: []model.SequenceEmail{
			{Step: 7, Subject: "first"},
			{Step: 2, Subject: "second", DelayDays: 2},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Intro", seq.Name)

	got, err := env.sequences.Get(context.Background(), env.user.ID, seq.ID)
	require.NoError(t, err)
	require.Len(t, got.Emails, 2)
	assert.Equal(t, 1, got.Emails[0].Step)
	assert.Equal(t, "first", got.Emails[0].Subject)
	assert.Equal(t, 2, got.Emails[1].Step)
	assert.Equal(t, "second", got.Emails[1].Subject)
}

func TestSequenceStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seq := env.createSequence(t, "Intro")
	other := env.createSequence(t, "Other")

	a := env.createLead(t, "a", "a@example.com")
	b := env.createLead(t, "b", "b@example.com")
	_, err := env.leads.Enroll(ctx, env.user.ID, []string{a.ID, b.ID}, seq.ID)
	require.NoError(t, err)

	// a got step 1 and replied.
	require.NoError(t, env.db.Messages().Record(ctx, &model.OutreachMessage{
		UserID: env.user.ID, LeadID: a.ID, SequenceID: seq.ID, Step: 1,
		To: a.Email, Subject: "Hi", Body: "Hello",
	}))
	ok, err := env.db.Leads().Advance(ctx, env.user.ID, a.ID, 0, time.Now(), false)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = env.leads.MarkReplied(ctx, env.user.ID, a.ID, model.ClassInterested)
	require.NoError(t, err)

	seqs, err := env.sequences.List(ctx, env.user.ID)
	require.NoError(t, err)
	require.Len(t, seqs, 2)

	byID := map[string]model.SequenceStats{}
	for _, s := range seqs {
		byID[s.ID] = s.Stats
	}
	assert.Equal(t, model.SequenceStats{
		Enrolled: 2, Active: 1, Sent: 1, Replied: 1, ReplyRate: 1,
	}, byID[seq.ID])
	assert.Equal(t, model.SequenceStats{}, byID[other.ID])
}

func TestSequenceUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seq := env.createSequence(t, "Intro")

	got, err := env.sequences.Update(ctx, env.user.ID, seq.ID, SequenceInput{
		Name:   "Intro v2",
		Emails: []model.SequenceEmail{{Subject: "Only one"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Intro v2", got.Name)
	assert.Len(t, got.Emails, 1)

	_, err = env.sequences.Update(ctx, env.user.ID, "missing", SequenceInput{
		Name: "x", Emails: []model.SequenceEmail{{Subject: "y"}},
	})
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = env.sequences.Update(ctx, env.user.ID, seq.ID, SequenceInput{Name: ""})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestSequenceDelete_DetachesLeads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seq := env.createSequence(t, "Intro")
	lead := env.createLead(t, "ninja", "ninja@example.com")
	_, err := env.leads.Enroll(ctx, env.user.ID, []string{lead.ID}, seq.ID)
	require.NoError(t, err)

	require.NoError(t, env.sequences.Delete(ctx, env.user.ID, seq.ID))

	got, err := env.leads.Get(ctx, env.user.ID, lead.ID)
	require.NoError(t, err)
	assert.Empty(t, got.SequenceID)
	assert.Equal(t, model.SequenceNotStarted, got.SequenceStatus)
	assert.Nil(t, got.EnrolledAt)

	assert.ErrorIs(t, env.sequences.Delete(ctx, env.user.ID, seq.ID), apperror.ErrNotFound)
}

func TestSequenceDuplicate(t *testing.T) {
	env := newTestEnv(t)
	seq := env.createSequence(t, "Intro")

	dup, err := env.sequences.Duplicate(context.Background(), env.user.ID, seq.ID)
	require.NoError(t, err)
	assert.NotEqual(t, seq.ID, dup.ID)
	assert.Equal(t, "Intro (copy)", dup.Name)
	assert.Equal(t, seq.Emails, dup.Emails)
}

func TestSequenceDuplicate_LongNameStaysValid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		source string
	}{
		{"ascii", strings.Repeat("a", MaxSequenceNameLength)},
		{"two-byte runes", strings.Repeat("é", MaxSequenceNameLength/2)},
		{"four-byte runes", strings.Repeat("🎮", MaxSequenceNameLength/4)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			seq := env.createSequence(t, tc.source)

			dup, err := env.sequences.Duplicate(ctx, env.user.ID, seq.ID)
			require.NoError(t, err)
			assert.True(t, utf8.ValidString(dup.Name), "%q", dup.Name)
			assert.True(t, strings.HasSuffix(dup.Name, " (copy)"), dup.Name)
			assert.LessOrEqual(t, len(dup.Name), MaxSequenceNameLength)
			assert.True(t, strings.HasPrefix(tc.source, strings.TrimSuffix(dup.Name, " (copy)")))
		})
	}
}

func TestSequencePreview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seq := env.createSequence(t, "Intro")
	lead := env.createLead(t, "ninja", "ninja@example.com")

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	env.sequences.now = func() time.Time { return now }

	steps, err := env.sequences.Preview(ctx, env.user.ID, seq.ID, lead.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)

	assert.Equal(t, "Hi ninja", steps[0].Subject)
	assert.Equal(t, "Big fan of your Twitch channel.", steps[0].Body)
	assert.True(t, steps[0].DueAt.Equal(now))
	assert.Equal(t, "Any thoughts, ninja? Sam", steps[1].Body)
	assert.True(t, steps[1].DueAt.Equal(now.AddDate(0, 0, 3)))
	assert.Empty(t, steps[1].Missing)

	_, err = env.sequences.Preview(ctx, env.user.ID, seq.ID, "")
	assert.ErrorIs(t, err, apperror.ErrValidation)
	_, err = env.sequences.Preview(ctx, env.user.ID, seq.ID, "missing")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}
