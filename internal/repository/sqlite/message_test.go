package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/sakif/creatorhub/internal/model"
)

func TestMessageRecordAndCount(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "owner@example.com")
	seq := createTestSequence(t, db, user.ID, "Intro")
	lead := createTestLead(t, db, user.ID, "ninja")

	now := time.Now()
	old := &model.OutreachMessage{UserID: user.ID, LeadID: lead.ID, SequenceID: seq.ID, Step: 1,
		To: lead.Email, Subject: "Hi", Body: "Intro", SentAt: now.Add(-48 * time.Hour)}
	fresh := &model.OutreachMessage{UserID: user.ID, LeadID: lead.ID, SequenceID: seq.ID, Step: 2,
		To: lead.Email, Subject: "Bump", Body: "Again"}

	for _, m := range []*model.OutreachMessage{old, fresh} {
		if err := db.Messages().Record(ctx, m); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	if fresh.ID == "" || fresh.TrackingID == "" || fresh.SentAt.IsZero() {
		t.Errorf("Record() did not fill defaults: %+v", fresh)
	}
	if old.TrackingID == fresh.TrackingID {
		t.Error("tracking ids must be unique")
	}

	n, err := db.Messages().CountSince(ctx, user.ID, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("CountSince() error = %v", err)
	}
	if n != 1 {
		t.Errorf("CountSince(24h) = %d, want 1", n)
	}

	bySeq, err := db.Messages().CountBySequence(ctx, user.ID)
	if err != nil {
		t.Fatalf("CountBySequence() error = %v", err)
	}
	if bySeq[seq.ID] != 2 {
		t.Errorf("CountBySequence()[%s] = %d, want 2", seq.ID, bySeq[seq.ID])
	}

	msgs, err := db.Messages().ListByLead(ctx, user.ID, lead.ID)
	if err != nil {
		t.Fatalf("ListByLead() error = %v", err)
	}
	if len(msgs) != 2 || msgs[0].Step != 1 || msgs[1].Step != 2 {
		t.Errorf("ListByLead() = %+v", msgs)
	}
}
