package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/sakif/creatorhub/internal/apperror"
	"github.com/sakif/creatorhub/internal/model"
)

// TESTING WITH IN-MEMORY SQLITE:
// ":memory:" gives every test a fresh database that disappears when the
// connection closes. No files, no cleanup, no ordering between tests.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// createTestUser creates an email/password user; most tables reference users.
func createTestUser(t *testing.T, db *DB, email string) *model.User {
	t.Helper()
	user := &model.User{FirstName: "Test", LastName: "User", Email: email, PasswordHash: "hash", Credits: 5}
	if err := db.Users().Create(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

func TestMigrate_IsIdempotent(t *testing.T) {
	db := newTestDB(t)

	// New already migrated once; a second run must be a no-op.
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("third Migrate() error = %v", err)
	}
}

// =========================================================================
// DRIVER ERRORS (go-sqlmock)
// =========================================================================
// sqlmock stands in for the driver so we can make it fail on demand. The
// stores must wrap those failures, not mistake them for "not found".

func TestDriverError_IsWrappedNotNotFound(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer conn.Close()

	driverErr := errors.New("disk I/O error")
	mock.ExpectQuery("FROM users WHERE id").WithArgs("u1").WillReturnError(driverErr)

	_, err = newWithConn(conn).Users().GetByID(context.Background(), "u1")
	if !errors.Is(err, driverErr) {
		t.Errorf("expected wrapped driver error, got %v", err)
	}
	if errors.Is(err, apperror.ErrNotFound) {
		t.Error("driver error must not be reported as not found")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDriverError_SequenceCreateRollsBack(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO sequences").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO sequence_emails").WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	seq := &model.EmailSequence{
		UserID: "u1",
		Name:   "Intro",
		Emails: []model.SequenceEmail{{Step: 1, Subject: "Hi"}},
	}
	if err := newWithConn(conn).Sequences().Create(context.Background(), seq); err == nil {
		t.Fatal("Create() should fail when a step insert fails")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDriverError_AdjustCredits(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer conn.Close()

	mock.ExpectExec("UPDATE users SET credits").WillReturnError(errors.New("database is locked"))

	_, err = newWithConn(conn).Users().AdjustCredits(context.Background(), "u1", -1)
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, apperror.ErrPaymentRequired) {
		t.Error("a locked database is not a payment problem")
	}
}
