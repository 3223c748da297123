package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/creatorhub/internal/apperror"
	"github.com/sakif/creatorhub/internal/model"
	"github.com/sakif/creatorhub/internal/repository"
)

var _ repository.SequenceRepository = (*SequenceDB)(nil)

// SequenceDB stores sequences in two tables: the header row in `sequences`
// and one row per step in `sequence_emails`. Steps are always written as a
// whole inside the same transaction as the header.
type SequenceDB struct {
	conn *sql.DB
}

// Create inserts the sequence and its steps.
func (s *SequenceDB) Create(ctx context.Context, seq *model.EmailSequence) error {
	now := time.Now().UTC()
	seq.ID = xid.New().String()
	seq.CreatedAt = now
	seq.UpdatedAt = now

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning sequence insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sequences (id, user_id, name, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		seq.ID, seq.UserID, seq.Name, seq.Description, seq.CreatedAt, seq.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting sequence %s: %w", seq.Name, err)
	}
	if err := insertSteps(ctx, tx, seq); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing sequence %s: %w", seq.ID, err)
	}
	return nil
}

func insertSteps(ctx context.Context, tx *sql.Tx, seq *model.EmailSequence) error {
	for _, e := range seq.Emails {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sequence_emails (sequence_id, step, subject, body, delay_days)
			 VALUES (?, ?, ?, ?, ?)`,
			seq.ID, e.Step, e.Subject, e.Body, e.DelayDays,
		)
		if err != nil {
			return fmt.Errorf("sqlite: inserting step %d of sequence %s: %w", e.Step, seq.ID, err)
		}
	}
	return nil
}

// GetByID returns one of userID's sequences with its steps in order.
func (s *SequenceDB) GetByID(ctx context.Context, userID, id string) (*model.EmailSequence, error) {
	var seq model.EmailSequence
	err := s.conn.QueryRowContext(ctx,
		`SELECT id, user_id, name, description, created_at, updated_at
		 FROM sequences WHERE id = ? AND user_id = ?`, id, userID,
	).Scan(&seq.ID, &seq.UserID, &seq.Name, &seq.Description, &seq.CreatedAt, &seq.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("sequence", id)
		}
		return nil, fmt.Errorf("sqlite: getting sequence %s: %w", id, err)
	}

	steps, err := s.steps(ctx, `WHERE sequence_id = ?`, id)
	if err != nil {
		return nil, err
	}
	seq.Emails = steps[id]
	if seq.Emails == nil {
		seq.Emails = []model.SequenceEmail{}
	}
	return &seq, nil
}

// List returns userID's sequences, oldest first. Steps for every sequence
// are loaded with one extra query rather than one per sequence.
func (s *SequenceDB) List(ctx context.Context, userID string) ([]model.EmailSequence, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, user_id, name, description, created_at, updated_at
		 FROM sequences WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing sequences: %w", err)
	}
	defer rows.Close()

	seqs := make([]model.EmailSequence, 0)
	for rows.Next() {
		var seq model.EmailSequence
		if err := rows.Scan(&seq.ID, &seq.UserID, &seq.Name, &seq.Description, &seq.CreatedAt, &seq.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning sequence: %w", err)
		}
		seqs = append(seqs, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating sequences: %w", err)
	}

	steps, err := s.steps(ctx,
		`WHERE sequence_id IN (SELECT id FROM sequences WHERE user_id = ?)`, userID)
	if err != nil {
		return nil, err
	}
	for i := range seqs {
		seqs[i].Emails = steps[seqs[i].ID]
		if seqs[i].Emails == nil {
			seqs[i].Emails = []model.SequenceEmail{}
		}
	}
	return seqs, nil
}

// steps loads sequence_emails rows matching where, grouped by sequence id.
func (s *SequenceDB) steps(ctx context.Context, where string, args ...any) (map[string][]model.SequenceEmail, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT sequence_id, step, subject, body, delay_days FROM sequence_emails `+where+
			` ORDER BY sequence_id, step`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: loading sequence steps: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]model.SequenceEmail)
	for rows.Next() {
		var (
			seqID string
			e     model.SequenceEmail
		)
		if err := rows.Scan(&seqID, &e.Step, &e.Subject, &e.Body, &e.DelayDays); err != nil {
			return nil, fmt.Errorf("sqlite: scanning sequence step: %w", err)
		}
		out[seqID] = append(out[seqID], e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating sequence steps: %w", err)
	}
	return out, nil
}

// Update replaces the header fields and the complete list of steps.
func (s *SequenceDB) Update(ctx context.Context, seq *model.EmailSequence) error {
	seq.UpdatedAt = time.Now().UTC()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning sequence update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE sequences SET name = ?, description = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		seq.Name, seq.Description, seq.UpdatedAt, seq.ID, seq.UserID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating sequence %s: %w", seq.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("sequence", seq.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sequence_emails WHERE sequence_id = ?`, seq.ID); err != nil {
		return fmt.Errorf("sqlite: clearing steps of sequence %s: %w", seq.ID, err)
	}
	if err := insertSteps(ctx, tx, seq); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing sequence %s: %w", seq.ID, err)
	}
	return nil
}

// Delete removes the sequence; its steps go with it (ON DELETE CASCADE).
func (s *SequenceDB) Delete(ctx context.Context, userID, id string) error {
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM sequences WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("sqlite: deleting sequence %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("sequence", id)
	}
	return nil
}
