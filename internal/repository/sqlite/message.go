package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"

	"github.com/sakif/creatorhub/internal/model"
	"github.com/sakif/creatorhub/internal/repository"
)

var _ repository.MessageRepository = (*MessageDB)(nil)

// MessageDB is the append-only log of sent outreach emails.
//
// sent_at is stored in UTC truncated to the second. SQLite keeps DATETIME
// values as text, so a uniform format is what makes `sent_at >= ?` compare
// chronologically.
type MessageDB struct {
	conn *sql.DB
}

// Record appends msg to the log. ID, TrackingID and SentAt are filled in
// when the caller left them empty.
func (s *MessageDB) Record(ctx context.Context, msg *model.OutreachMessage) error {
	if msg.ID == "" {
		msg.ID = xid.New().String()
	}
	if msg.TrackingID == "" {
		msg.TrackingID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	msg.SentAt = msg.SentAt.UTC().Truncate(time.Second)

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO outreach_messages
		   (id, user_id, lead_id, sequence_id, step, recipient, subject, body, tracking_id, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.UserID, msg.LeadID, msg.SequenceID, msg.Step,
		msg.To, msg.Subject, msg.Body, msg.TrackingID, msg.SentAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: recording message to %s: %w", msg.To, err)
	}
	return nil
}

// CountSince counts the messages userID sent at or after since.
func (s *MessageDB) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outreach_messages WHERE user_id = ? AND sent_at >= ?`,
		userID, since.UTC().Truncate(time.Second),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting messages of %s: %w", userID, err)
	}
	return n, nil
}

// CountBySequence returns how many messages each of userID's sequences sent.
func (s *MessageDB) CountBySequence(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT sequence_id, COUNT(*) FROM outreach_messages
		 WHERE user_id = ? GROUP BY sequence_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: counting messages by sequence: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("sqlite: scanning message count: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating message counts: %w", err)
	}
	return counts, nil
}

// ListByLead returns the messages sent to one lead, oldest first.
func (s *MessageDB) ListByLead(ctx context.Context, userID, leadID string) ([]model.OutreachMessage, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, user_id, lead_id, sequence_id, step, recipient, subject, body, tracking_id, sent_at
		 FROM outreach_messages WHERE user_id = ? AND lead_id = ?
		 ORDER BY sent_at, step`, userID, leadID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing messages of lead %s: %w", leadID, err)
	}
	defer rows.Close()

	msgs := make([]model.OutreachMessage, 0)
	for rows.Next() {
		var m model.OutreachMessage
		err := rows.Scan(&m.ID, &m.UserID, &m.LeadID, &m.SequenceID, &m.Step,
			&m.To, &m.Subject, &m.Body, &m.TrackingID, &m.SentAt)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating messages: %w", err)
	}
	return msgs, nil
}
