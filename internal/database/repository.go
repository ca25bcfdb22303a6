package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"datafeed-sentinel/internal/alerting"
	"datafeed-sentinel/internal/classify"
	"datafeed-sentinel/internal/healing"
	"datafeed-sentinel/internal/health"
	"datafeed-sentinel/internal/learning"
)

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck verifies database connectivity
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// SaveEndpointHealth upserts one endpoint's health record
func (r *Repository) SaveEndpointHealth(ctx context.Context, h health.EndpointHealth) error {
	query := `
		INSERT INTO endpoint_health (
			source, endpoint, total_requests, failed_requests, error_rate,
			avg_response_time_ms, last_success, last_failure,
			consecutive_failures, status, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (source, endpoint) DO UPDATE SET
			total_requests = EXCLUDED.total_requests,
			failed_requests = EXCLUDED.failed_requests,
			error_rate = EXCLUDED.error_rate,
			avg_response_time_ms = EXCLUDED.avg_response_time_ms,
			last_success = EXCLUDED.last_success,
			last_failure = EXCLUDED.last_failure,
			consecutive_failures = EXCLUDED.consecutive_failures,
			status = EXCLUDED.status,
			updated_at = NOW()`

	_, err := r.db.Pool.Exec(ctx, query,
		h.Source, h.Endpoint, h.TotalRequests, h.FailedRequests, h.ErrorRate,
		h.AvgResponseTime.Milliseconds(), nullTime(h.LastSuccess), nullTime(h.LastFailure),
		h.ConsecutiveFailures, string(h.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to save endpoint health: %w", err)
	}
	return nil
}

// LoadEndpointHealth returns all persisted health records, for seeding
// the tracker at startup
func (r *Repository) LoadEndpointHealth(ctx context.Context) ([]health.EndpointHealth, error) {
	query := `
		SELECT source, endpoint, total_requests, failed_requests, error_rate,
		       avg_response_time_ms, last_success, last_failure,
		       consecutive_failures, status
		FROM endpoint_health`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load endpoint health: %w", err)
	}
	defer rows.Close()

	var records []health.EndpointHealth
	for rows.Next() {
		var h health.EndpointHealth
		var avgMs int64
		var lastSuccess, lastFailure *time.Time
		var status string

		if err := rows.Scan(&h.Source, &h.Endpoint, &h.TotalRequests, &h.FailedRequests,
			&h.ErrorRate, &avgMs, &lastSuccess, &lastFailure,
			&h.ConsecutiveFailures, &status); err != nil {
			return nil, fmt.Errorf("failed to scan endpoint health: %w", err)
		}
		h.AvgResponseTime = time.Duration(avgMs) * time.Millisecond
		if lastSuccess != nil {
			h.LastSuccess = *lastSuccess
		}
		if lastFailure != nil {
			h.LastFailure = *lastFailure
		}
		h.Status = health.Status(status)
		records = append(records, h)
	}
	return records, rows.Err()
}

// SaveErrorEvent persists one classified error event
func (r *Repository) SaveErrorEvent(ctx context.Context, ev *classify.ErrorEvent) error {
	query := `
		INSERT INTO error_events (
			id, occurred_at, source, endpoint, kind, message,
			response_time_ms, status_code, retry_count, auto_healed, healed_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			retry_count = EXCLUDED.retry_count,
			auto_healed = EXCLUDED.auto_healed,
			healed_by = EXCLUDED.healed_by`

	_, err := r.db.Pool.Exec(ctx, query,
		ev.ID, ev.Timestamp, ev.Source, ev.Endpoint, string(ev.Kind), ev.Message,
		ev.ResponseTime.Milliseconds(), nullInt(ev.StatusCode), ev.RetryCount,
		ev.AutoHealed, nullString(ev.HealedBy),
	)
	if err != nil {
		return fmt.Errorf("failed to save error event: %w", err)
	}
	return nil
}

// RecentErrorEvents returns the newest events, optionally filtered by source
func (r *Repository) RecentErrorEvents(ctx context.Context, source string, limit int) ([]classify.ErrorEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, occurred_at, source, endpoint, kind, message,
		       response_time_ms, status_code, retry_count, auto_healed, healed_by
		FROM error_events`
	args := []interface{}{}
	if source != "" {
		query += ` WHERE source = $1 ORDER BY occurred_at DESC LIMIT $2`
		args = append(args, source, limit)
	} else {
		query += ` ORDER BY occurred_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query error events: %w", err)
	}
	defer rows.Close()

	var events []classify.ErrorEvent
	for rows.Next() {
		var ev classify.ErrorEvent
		var kind string
		var responseMs int64
		var statusCode *int
		var healedBy *string

		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Source, &ev.Endpoint, &kind,
			&ev.Message, &responseMs, &statusCode, &ev.RetryCount,
			&ev.AutoHealed, &healedBy); err != nil {
			return nil, fmt.Errorf("failed to scan error event: %w", err)
		}
		ev.Kind = classify.ErrorKind(kind)
		ev.ResponseTime = time.Duration(responseMs) * time.Millisecond
		if statusCode != nil {
			ev.StatusCode = *statusCode
		}
		if healedBy != nil {
			ev.HealedBy = *healedBy
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// SaveStrategyStats upserts the learned counters for all strategies
func (r *Repository) SaveStrategyStats(ctx context.Context, stats []healing.Stats) error {
	query := `
		INSERT INTO healing_strategies (name, success_count, failure_count, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (name) DO UPDATE SET
			success_count = EXCLUDED.success_count,
			failure_count = EXCLUDED.failure_count,
			updated_at = NOW()`

	for _, st := range stats {
		if _, err := r.db.Pool.Exec(ctx, query, st.Name, st.SuccessCount, st.FailureCount); err != nil {
			return fmt.Errorf("failed to save strategy %s: %w", st.Name, err)
		}
	}
	return nil
}

// LoadStrategyStats returns persisted counters for seeding the registry
func (r *Repository) LoadStrategyStats(ctx context.Context) ([]healing.Stats, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT name, success_count, failure_count FROM healing_strategies`)
	if err != nil {
		return nil, fmt.Errorf("failed to load strategy stats: %w", err)
	}
	defer rows.Close()

	var stats []healing.Stats
	for rows.Next() {
		var st healing.Stats
		if err := rows.Scan(&st.Name, &st.SuccessCount, &st.FailureCount); err != nil {
			return nil, fmt.Errorf("failed to scan strategy stats: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// SaveKnowledgeSnapshot persists the learner's current knowledge as JSONB
func (r *Repository) SaveKnowledgeSnapshot(ctx context.Context, kb learning.Knowledge) error {
	payload, err := json.Marshal(kb)
	if err != nil {
		return fmt.Errorf("failed to marshal knowledge: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx,
		`INSERT INTO knowledge_snapshots (knowledge) VALUES ($1)`, payload)
	if err != nil {
		return fmt.Errorf("failed to save knowledge snapshot: %w", err)
	}
	return nil
}

// LatestKnowledgeSnapshot returns the most recent snapshot, or false when
// none has been taken yet
func (r *Repository) LatestKnowledgeSnapshot(ctx context.Context) (learning.Knowledge, bool, error) {
	var payload []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT knowledge FROM knowledge_snapshots ORDER BY taken_at DESC LIMIT 1`).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return learning.Knowledge{}, false, nil
	}
	if err != nil {
		return learning.Knowledge{}, false, fmt.Errorf("failed to load knowledge snapshot: %w", err)
	}

	var kb learning.Knowledge
	if err := json.Unmarshal(payload, &kb); err != nil {
		return learning.Knowledge{}, false, fmt.Errorf("failed to unmarshal knowledge: %w", err)
	}
	return kb, true, nil
}

// SaveAlert persists a new alert
func (r *Repository) SaveAlert(ctx context.Context, a *alerting.Alert) error {
	query := `
		INSERT INTO alerts (
			id, created_at, level, title, message, source, endpoint,
			health_status, healing_attempted, healing_succeeded,
			recommended_actions, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.db.Pool.Exec(ctx, query,
		a.ID, a.Timestamp, string(a.Level), a.Title, a.Message, a.Source, a.Endpoint,
		string(a.HealthStatus), a.HealingAttempted, a.HealingSucceeded,
		a.RecommendedActions, a.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

// MarkAlertResolved records the resolution time of an alert
func (r *Repository) MarkAlertResolved(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE alerts SET resolved_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark alert resolved: %w", err)
	}
	return nil
}

// RecentAlerts returns the newest alerts, unresolved first
func (r *Repository) RecentAlerts(ctx context.Context, limit int) ([]alerting.Alert, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, created_at, level, title, message, source, endpoint,
		       health_status, healing_attempted, healing_succeeded,
		       recommended_actions, resolved_at
		FROM alerts
		ORDER BY (resolved_at IS NULL) DESC, created_at DESC
		LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []alerting.Alert
	for rows.Next() {
		var a alerting.Alert
		var level, healthStatus string

		if err := rows.Scan(&a.ID, &a.Timestamp, &level, &a.Title, &a.Message,
			&a.Source, &a.Endpoint, &healthStatus, &a.HealingAttempted,
			&a.HealingSucceeded, &a.RecommendedActions, &a.ResolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Level = alerting.Level(level)
		a.HealthStatus = health.Status(healthStatus)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
