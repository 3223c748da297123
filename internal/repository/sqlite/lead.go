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

var _ repository.LeadRepository = (*LeadDB)(nil)

// LeadDB is the CRM lead store.
type LeadDB struct {
	conn *sql.DB
}

const leadColumns = `id, user_id, platform, username, display_name, email, followers, avg_viewers,
	socials, notes, sequence_id, sequence_status, current_step, stage, replied, classification,
	enrolled_at, last_contacted_at, created_at, updated_at`

func scanLead(row interface{ Scan(...any) error }) (*model.CrmLead, error) {
	var (
		l           model.CrmLead
		socials     string
		sequenceID  sql.NullString
		enrolledAt  sql.NullTime
		contactedAt sql.NullTime
	)
	err := row.Scan(
		&l.ID, &l.UserID, &l.Platform, &l.Username, &l.DisplayName, &l.Email,
		&l.Followers, &l.AvgViewers, &socials, &l.Notes, &sequenceID,
		&l.SequenceStatus, &l.CurrentStep, &l.Stage, &l.Replied, &l.Classification,
		&enrolledAt, &contactedAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if l.Socials, err = decodeSocials(socials); err != nil {
		return nil, fmt.Errorf("decoding socials of lead %s: %w", l.ID, err)
	}
	l.SequenceID = sequenceID.String
	l.EnrolledAt = timePtr(enrolledAt)
	l.LastContactedAt = timePtr(contactedAt)
	return &l, nil
}

// applyLeadDefaults fills the enum fields a caller left blank.
func applyLeadDefaults(l *model.CrmLead) {
	if l.Stage == "" {
		l.Stage = model.StageNew
	}
	if l.SequenceStatus == "" {
		l.SequenceStatus = model.SequenceNotStarted
	}
	if l.Classification == "" {
		l.Classification = model.ClassUnclassified
	}
}

// Create inserts a lead. A second lead with the same (platform, username)
// for the same user returns apperror.ErrConflict.
func (s *LeadDB) Create(ctx context.Context, lead *model.CrmLead) error {
	now := time.Now().UTC()
	lead.ID = xid.New().String()
	lead.CreatedAt = now
	lead.UpdatedAt = now
	applyLeadDefaults(lead)

	if err := insertLead(ctx, s.conn, lead); err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("lead", string(lead.Platform)+"/"+lead.Username)
		}
		return fmt.Errorf("sqlite: inserting lead %s: %w", lead.Username, err)
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertLead(ctx context.Context, db execer, l *model.CrmLead) error {
	socials, err := encodeSocials(l.Socials)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO leads (`+leadColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.UserID, l.Platform, l.Username, l.DisplayName, l.Email,
		l.Followers, l.AvgViewers, socials, l.Notes, nullString(l.SequenceID),
		l.SequenceStatus, l.CurrentStep, l.Stage, l.Replied, l.Classification,
		nullTime(l.EnrolledAt), nullTime(l.LastContactedAt), l.CreatedAt, l.UpdatedAt,
	)
	return err
}

// GetByID returns one of userID's leads.
func (s *LeadDB) GetByID(ctx context.Context, userID, id string) (*model.CrmLead, error) {
	l, err := scanLead(s.conn.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = ? AND user_id = ?`, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("lead", id)
		}
		return nil, fmt.Errorf("sqlite: getting lead %s: %w", id, err)
	}
	return l, nil
}

// List returns userID's leads, newest first, narrowed by filter.
func (s *LeadDB) List(ctx context.Context, userID string, filter repository.LeadFilter) ([]model.CrmLead, error) {
	var (
		where = []string{"user_id = ?"}
		args  = []any{userID}
	)
	if filter.Stage != "" {
		where = append(where, "stage = ?")
		args = append(args, filter.Stage)
	}
	if filter.SequenceStatus != "" {
		where = append(where, "sequence_status = ?")
		args = append(args, filter.SequenceStatus)
	}
	if filter.SequenceID != "" {
		where = append(where, "sequence_id = ?")
		args = append(args, filter.SequenceID)
	}
	if filter.Platform != "" {
		where = append(where, "platform = ?")
		args = append(args, filter.Platform)
	}

	query := `SELECT ` + leadColumns + ` FROM leads WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, id DESC`
	return s.query(ctx, query, args...)
}

// ListActive returns the leads of every user that the dispatcher should look at.
func (s *LeadDB) ListActive(ctx context.Context) ([]model.CrmLead, error) {
	return s.query(ctx,
		`SELECT `+leadColumns+` FROM leads
		 WHERE sequence_status = ? AND replied = 0 AND sequence_id IS NOT NULL
		 ORDER BY enrolled_at, id`,
		model.SequenceActive,
	)
}

func (s *LeadDB) query(ctx context.Context, query string, args ...any) ([]model.CrmLead, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing leads: %w", err)
	}
	defer rows.Close()

	leads := make([]model.CrmLead, 0)
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning lead: %w", err)
		}
		leads = append(leads, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating leads: %w", err)
	}
	return leads, nil
}

// Update writes the profile and pipeline fields of the lead: name, email,
// audience, socials, notes, stage and classification. Outreach state
// (sequence, step, status, replied, timestamps) is owned by the targeted
// methods below and never written here, so an edit made from a stale read
// can't undo a send or a reply.
func (s *LeadDB) Update(ctx context.Context, lead *model.CrmLead) error {
	socials, err := encodeSocials(lead.Socials)
	if err != nil {
		return fmt.Errorf("sqlite: encoding socials of lead %s: %w", lead.ID, err)
	}
	lead.UpdatedAt = time.Now().UTC()

	res, err := s.conn.ExecContext(ctx,
		`UPDATE leads SET
		   display_name = ?, email = ?, followers = ?, avg_viewers = ?, socials = ?, notes = ?,
		   stage = ?, classification = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		lead.DisplayName, lead.Email, lead.Followers, lead.AvgViewers, socials, lead.Notes,
		lead.Stage, lead.Classification, lead.UpdatedAt,
		lead.ID, lead.UserID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating lead %s: %w", lead.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("lead", lead.ID)
	}
	return nil
}

// applied reports whether a conditional update touched the lead. When it
// didn't, the lead either doesn't exist (apperror.ErrNotFound) or no longer
// matched the condition (false, nil).
func (s *LeadDB) applied(ctx context.Context, res sql.Result, userID, id string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	var one int
	err = s.conn.QueryRowContext(ctx,
		`SELECT 1 FROM leads WHERE id = ? AND user_id = ?`, id, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, apperror.NotFound("lead", id)
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: looking up lead %s: %w", id, err)
	}
	return false, nil
}

// Enroll starts the lead on sequenceID from the first step. Leads that
// replied or have no email are left as they are and ok is false.
func (s *LeadDB) Enroll(ctx context.Context, userID, id, sequenceID string, at time.Time) (bool, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE leads SET sequence_id = ?, sequence_status = ?, current_step = 0,
		        enrolled_at = ?, updated_at = ?
		 WHERE id = ? AND user_id = ? AND replied = 0 AND email <> ''`,
		sequenceID, model.SequenceActive, at.UTC(), time.Now().UTC(), id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: enrolling lead %s: %w", id, err)
	}
	return s.applied(ctx, res, userID, id)
}

// SetSequenceStatus moves the lead from one sequence status to another. ok
// is false when the lead is no longer in from.
func (s *LeadDB) SetSequenceStatus(ctx context.Context, userID, id string, from, to model.SequenceStatus) (bool, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE leads SET sequence_status = ?, updated_at = ?
		 WHERE id = ? AND user_id = ? AND sequence_status = ?`,
		to, time.Now().UTC(), id, userID, from,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: setting sequence status of lead %s: %w", id, err)
	}
	return s.applied(ctx, res, userID, id)
}

// MarkReplied flags the lead as replied in one statement. An enrolled lead
// leaves its sequence and a lead still at "new" or "contacted" moves to
// "engaged".
func (s *LeadDB) MarkReplied(ctx context.Context, userID, id string, class model.Classification) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE leads SET
		   replied = 1, classification = ?,
		   sequence_status = CASE WHEN sequence_id IS NOT NULL THEN ? ELSE sequence_status END,
		   stage = CASE WHEN stage IN (?, ?) THEN ? ELSE stage END,
		   updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		class, model.SequenceReplied,
		model.StageNew, model.StageContacted, model.StageEngaged,
		time.Now().UTC(), id, userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: marking lead %s replied: %w", id, err)
	}
	_, err = s.applied(ctx, res, userID, id)
	return err
}

// Advance records that the step after fromStep went out at sentAt. It only
// applies while the lead is still at fromStep, so a pass working from an
// old read can't send the same step twice. Replies, pauses and stage edits
// made in the meantime are kept; last completes a lead that is still
// active.
func (s *LeadDB) Advance(ctx context.Context, userID, id string, fromStep int, sentAt time.Time, last bool) (bool, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE leads SET
		   current_step = ?, last_contacted_at = ?,
		   stage = CASE WHEN stage = ? THEN ? ELSE stage END,
		   sequence_status = CASE WHEN ? AND sequence_status = ? THEN ? ELSE sequence_status END,
		   updated_at = ?
		 WHERE id = ? AND user_id = ? AND current_step = ?`,
		fromStep+1, sentAt.UTC(),
		model.StageNew, model.StageContacted,
		last, model.SequenceActive, model.SequenceCompleted,
		time.Now().UTC(), id, userID, fromStep,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: advancing lead %s: %w", id, err)
	}
	return s.applied(ctx, res, userID, id)
}

// StampEnrolled sets enrolled_at on a lead enrolled before it was tracked.
// An existing stamp is kept.
func (s *LeadDB) StampEnrolled(ctx context.Context, userID, id string, at time.Time) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE leads SET enrolled_at = ? WHERE id = ? AND user_id = ? AND enrolled_at IS NULL`,
		at.UTC(), id, userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: stamping lead %s: %w", id, err)
	}
	return nil
}

// Delete removes the given leads and reports how many existed. Deleting a
// single missing lead returns apperror.ErrNotFound; bulk deletes just skip
// ids that are already gone.
func (s *LeadDB) Delete(ctx context.Context, userID string, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM leads WHERE user_id = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting leads: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 && len(ids) == 1 {
		return 0, apperror.NotFound("lead", ids[0])
	}
	return int(n), nil
}

// UpsertByHandle inserts lead, or refreshes the creator fields (name, email,
// audience, socials) of the existing lead with the same handle. Outreach
// state and notes of an existing lead are left alone. lead is filled with
// the stored row on return.
func (s *LeadDB) UpsertByHandle(ctx context.Context, lead *model.CrmLead) (bool, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("sqlite: beginning lead upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	var existingID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM leads WHERE user_id = ? AND platform = ? AND username = ?`,
		lead.UserID, lead.Platform, lead.Username,
	).Scan(&existingID)

	created := false
	switch {
	case errors.Is(err, sql.ErrNoRows):
		created = true
		existingID = xid.New().String()
		lead.ID = existingID
		lead.CreatedAt = now
		lead.UpdatedAt = now
		applyLeadDefaults(lead)
		if err := insertLead(ctx, tx, lead); err != nil {
			return false, fmt.Errorf("sqlite: inserting lead %s: %w", lead.Username, err)
		}
	case err != nil:
		return false, fmt.Errorf("sqlite: looking up lead %s: %w", lead.Username, err)
	default:
		socials, err := encodeSocials(lead.Socials)
		if err != nil {
			return false, fmt.Errorf("sqlite: encoding socials: %w", err)
		}
		// An empty email from a fresh scrape must not wipe one we already know.
		_, err = tx.ExecContext(ctx,
			`UPDATE leads SET
			   display_name = CASE WHEN ? = '' THEN display_name ELSE ? END,
			   email        = CASE WHEN ? = '' THEN email ELSE ? END,
			   followers = ?, avg_viewers = ?,
			   socials      = CASE WHEN ? = '{}' THEN socials ELSE ? END,
			   updated_at = ?
			 WHERE id = ?`,
			lead.DisplayName, lead.DisplayName,
			lead.Email, lead.Email,
			lead.Followers, lead.AvgViewers,
			socials, socials,
			now, existingID,
		)
		if err != nil {
			return false, fmt.Errorf("sqlite: refreshing lead %s: %w", existingID, err)
		}
	}

	stored, err := scanLead(tx.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = ?`, existingID))
	if err != nil {
		return false, fmt.Errorf("sqlite: reloading lead %s: %w", existingID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("sqlite: committing lead upsert: %w", err)
	}

	*lead = *stored
	return created, nil
}

// DetachSequence takes every lead of userID out of sequenceID.
func (s *LeadDB) DetachSequence(ctx context.Context, userID, sequenceID string) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE leads SET sequence_id = NULL, sequence_status = ?, current_step = 0,
		        enrolled_at = NULL, updated_at = ?
		 WHERE user_id = ? AND sequence_id = ?`,
		model.SequenceNotStarted, time.Now().UTC(), userID, sequenceID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: detaching sequence %s: %w", sequenceID, err)
	}
	return nil
}
