package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/osvaldoandrade/hookq/pkg/domain"
	"github.com/osvaldoandrade/hookq/pkg/persistence"

	_ "github.com/lib/pq"
)

const defaultHistoryLimit = 100

// Config holds PostgreSQL-specific configuration
type Config struct {
	DSN          string `json:"dsn"`
	MaxOpenConns int    `json:"maxOpenConns,omitempty"`
}

// Plugin stores attempts in a single table keyed by a serial column so the
// per-subscription cap can be applied in insertion order.
type Plugin struct {
	db           *sql.DB
	historyLimit int
}

// NewPlugin opens a connection pool and ensures the schema exists
func NewPlugin(config persistence.PluginConfig) (persistence.AttemptStorage, error) {
	var cfg Config
	if err := json.Unmarshal(config.Config, &cfg); err != nil {
		return nil, fmt.Errorf("postgres attempt storage config: %w", err)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres attempt storage: dsn is required")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	p, err := NewWithDB(db, config.HistoryLimit)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// NewWithDB wraps an existing pool.
func NewWithDB(db *sql.DB, historyLimit int) (*Plugin, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	p := &Plugin{db: db, historyLimit: historyLimit}
	if err := p.ensureSchema(); err != nil {
		return nil, fmt.Errorf("failed to ensure webhook_delivery_attempts table: %w", err)
	}
	return p, nil
}

func init() {
	persistence.RegisterProvider("postgres", NewPlugin)
}

func (p *Plugin) ensureSchema() error {
	_, err := p.db.Exec(`
	CREATE TABLE IF NOT EXISTS webhook_delivery_attempts (
		seq BIGSERIAL PRIMARY KEY,
		id VARCHAR(64) NOT NULL UNIQUE,
		subscription_id VARCHAR(64) NOT NULL,
		project_id VARCHAR(255) NOT NULL,
		event_id VARCHAR(64) NOT NULL,
		job_id VARCHAR(64) NOT NULL,
		trigger VARCHAR(100) NOT NULL,
		payload TEXT NOT NULL,
		attempt_number INTEGER NOT NULL,
		outcome VARCHAR(32) NOT NULL,
		final BOOLEAN NOT NULL DEFAULT FALSE,
		status_code INTEGER,
		response_body TEXT,
		error TEXT,
		latency_ms BIGINT NOT NULL,
		attempted_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_wda_subscription ON webhook_delivery_attempts(subscription_id, seq DESC);
	CREATE INDEX IF NOT EXISTS idx_wda_event ON webhook_delivery_attempts(event_id, seq);
	CREATE INDEX IF NOT EXISTS idx_wda_attempted_at ON webhook_delivery_attempts(attempted_at);
	`)
	return err
}

const selectColumns = "id, subscription_id, project_id, event_id, job_id, trigger, payload, " +
	"attempt_number, outcome, final, status_code, response_body, error, latency_ms, attempted_at"

func (p *Plugin) Record(ctx context.Context, a domain.DeliveryAttempt) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin attempt tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO webhook_delivery_attempts (
			id, subscription_id, project_id, event_id, job_id, trigger, payload,
			attempt_number, outcome, final, status_code, response_body, error, latency_ms, attempted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		a.ID, a.SubscriptionID, a.ProjectID, a.EventID, a.JobID, string(a.Trigger), a.Payload,
		a.AttemptNumber, string(a.Outcome), a.Final, a.StatusCode, a.ResponseBody, a.Error, a.LatencyMs, a.AttemptedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM webhook_delivery_attempts
		WHERE subscription_id = $1 AND seq NOT IN (
			SELECT seq FROM webhook_delivery_attempts
			WHERE subscription_id = $1 ORDER BY seq DESC LIMIT $2
		)`, a.SubscriptionID, p.historyLimit)
	if err != nil {
		return fmt.Errorf("failed to trim attempt history: %w", err)
	}
	return tx.Commit()
}

func (p *Plugin) ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]domain.DeliveryAttempt, error) {
	if limit <= 0 || limit > p.historyLimit {
		limit = p.historyLimit
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM webhook_delivery_attempts WHERE subscription_id = $1 ORDER BY seq DESC LIMIT $2`,
		subscriptionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func (p *Plugin) ListByEvent(ctx context.Context, eventID string) ([]domain.DeliveryAttempt, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM webhook_delivery_attempts WHERE event_id = $1 ORDER BY seq ASC`,
		eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query event attempts: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func (p *Plugin) DeleteBySubscription(ctx context.Context, subscriptionID string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM webhook_delivery_attempts WHERE subscription_id = $1`, subscriptionID); err != nil {
		return fmt.Errorf("failed to delete attempts: %w", err)
	}
	return nil
}

func (p *Plugin) Purge(ctx context.Context, before time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM webhook_delivery_attempts WHERE attempted_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge attempts: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (p *Plugin) Health(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Plugin) Close() error {
	return p.db.Close()
}

func scanAttempts(rows *sql.Rows) ([]domain.DeliveryAttempt, error) {
	out := make([]domain.DeliveryAttempt, 0)
	for rows.Next() {
		var (
			a            domain.DeliveryAttempt
			trigger      string
			outcome      string
			statusCode   sql.NullInt64
			responseBody sql.NullString
			errText      sql.NullString
		)
		if err := rows.Scan(
			&a.ID, &a.SubscriptionID, &a.ProjectID, &a.EventID, &a.JobID, &trigger, &a.Payload,
			&a.AttemptNumber, &outcome, &a.Final, &statusCode, &responseBody, &errText, &a.LatencyMs, &a.AttemptedAt,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Trigger = domain.TriggerType(trigger)
		a.Outcome = domain.DeliveryOutcome(outcome)
		a.StatusCode = int(statusCode.Int64)
		a.ResponseBody = responseBody.String
		a.Error = errText.String
		out = append(out, a)
	}
	return out, rows.Err()
}
