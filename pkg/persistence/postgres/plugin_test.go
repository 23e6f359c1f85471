package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/osvaldoandrade/hookq/pkg/domain"

	"github.com/DATA-DOG/go-sqlmock"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func newTestPlugin(t *testing.T, limit int) (*Plugin, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := setupMockDB(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS webhook_delivery_attempts").WillReturnResult(sqlmock.NewResult(0, 0))
	p, err := NewWithDB(db, limit)
	if err != nil {
		t.Fatalf("NewWithDB() error = %v", err)
	}
	return p, mock
}

func attemptColumns() []string {
	return []string{"id", "subscription_id", "project_id", "event_id", "job_id", "trigger", "payload",
		"attempt_number", "outcome", "final", "status_code", "response_body", "error", "latency_ms", "attempted_at"}
}

func TestNewWithDB(t *testing.T) {
	t.Run("nil database", func(t *testing.T) {
		if _, err := NewWithDB(nil, 0); err == nil || !strings.Contains(err.Error(), "database connection is required") {
			t.Fatalf("expected missing db error, got %v", err)
		}
	})

	t.Run("schema error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS webhook_delivery_attempts").WillReturnError(errors.New("permission denied"))
		if _, err := NewWithDB(db, 0); err == nil {
			t.Fatal("expected schema error")
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("default limit", func(t *testing.T) {
		p, mock := newTestPlugin(t, 0)
		if p.historyLimit != defaultHistoryLimit {
			t.Fatalf("historyLimit = %d", p.historyLimit)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatal(err)
		}
	})
}

func TestPluginRecordTrimsHistory(t *testing.T) {
	p, mock := newTestPlugin(t, 5)

	a := domain.DeliveryAttempt{
		ID:             "att-1",
		SubscriptionID: "webhook_a",
		ProjectID:      "proj",
		EventID:        "ev-1",
		JobID:          "job-1",
		Trigger:        domain.TriggerBotStateChange,
		Payload:        `{"eventId":"ev-1"}`,
		AttemptNumber:  1,
		Outcome:        domain.OutcomeSuccess,
		Final:          true,
		StatusCode:     200,
		LatencyMs:      12,
		AttemptedAt:    time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO webhook_delivery_attempts").
		WithArgs(a.ID, a.SubscriptionID, a.ProjectID, a.EventID, a.JobID, "bot.state_change", a.Payload,
			1, "success", true, 200, "", "", int64(12), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM webhook_delivery_attempts").
		WithArgs("webhook_a", 5).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := p.Record(context.Background(), a); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPluginRecordRollsBackOnInsertError(t *testing.T) {
	p, mock := newTestPlugin(t, 5)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO webhook_delivery_attempts").WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err := p.Record(context.Background(), domain.DeliveryAttempt{ID: "x", SubscriptionID: "webhook_a"})
	if err == nil || !strings.Contains(err.Error(), "failed to insert attempt") {
		t.Fatalf("expected insert error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPluginListBySubscription(t *testing.T) {
	p, mock := newTestPlugin(t, 10)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(attemptColumns()).
		AddRow("att-2", "webhook_a", "proj", "ev-1", "job-1", "bot.state_change", "{}", 2, "permanent_failure", true, 400, "bad", "permanent delivery failure: status 400", 8, now).
		AddRow("att-1", "webhook_a", "proj", "ev-1", "job-1", "bot.state_change", "{}", 1, "transient_failure", false, nil, nil, "timeout", 15000, now.Add(-time.Second))
	mock.ExpectQuery("SELECT (.+) FROM webhook_delivery_attempts WHERE subscription_id").
		WithArgs("webhook_a", 10).
		WillReturnRows(rows)

	list, err := p.ListBySubscription(context.Background(), "webhook_a", 50)
	if err != nil {
		t.Fatalf("ListBySubscription() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(list))
	}
	if list[0].Outcome != domain.OutcomePermanentFailure || list[0].StatusCode != 400 || !list[0].Final {
		t.Fatalf("unexpected first attempt %+v", list[0])
	}
	if list[1].StatusCode != 0 || list[1].ResponseBody != "" || list[1].Error != "timeout" {
		t.Fatalf("null columns not mapped: %+v", list[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPluginPurge(t *testing.T) {
	p, mock := newTestPlugin(t, 10)

	mock.ExpectExec("DELETE FROM webhook_delivery_attempts WHERE attempted_at").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := p.Purge(context.Background(), time.Now().Add(-time.Hour))
	if err != nil || n != 7 {
		t.Fatalf("Purge() = %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPluginDeleteBySubscription(t *testing.T) {
	p, mock := newTestPlugin(t, 10)

	mock.ExpectExec("DELETE FROM webhook_delivery_attempts WHERE subscription_id").
		WithArgs("webhook_a").
		WillReturnResult(sqlmock.NewResult(0, 3))

	if err := p.DeleteBySubscription(context.Background(), "webhook_a"); err != nil {
		t.Fatalf("DeleteBySubscription() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
