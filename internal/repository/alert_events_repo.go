package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wisefido-liveness/internal/models"

	"go.uber.org/zap"
)

// AlertEventsRepository 报警事件历史（liveness_alert_events）
type AlertEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertEventsRepository 创建报警事件仓库
func NewAlertEventsRepository(db *sql.DB, logger *zap.Logger) *AlertEventsRepository {
	return &AlertEventsRepository{
		db:     db,
		logger: logger,
	}
}

// CreateAlertEvent 写入一条报警事件
func (r *AlertEventsRepository) CreateAlertEvent(ctx context.Context, event *models.AlertEvent) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if event.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if event.SubjectID == "" {
		return fmt.Errorf("subject_id is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO liveness_alert_events (
			event_id,
			alert_id,
			subject_id,
			tenant_id,
			event_type,
			triggered_at,
			staleness_sec,
			notified_ok,
			notified_failed,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.EventID,
		event.AlertID,
		event.SubjectID,
		event.TenantID,
		string(event.EventType),
		event.TriggeredAt,
		event.StalenessSec,
		event.NotifiedOK,
		event.NotifiedFailed,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert event: %w", err)
	}
	return nil
}

// ListRecentAlertEvents 查询某个对象最近的报警事件（按 triggered_at 倒序）
func (r *AlertEventsRepository) ListRecentAlertEvents(ctx context.Context, subjectID string, limit int) ([]models.AlertEvent, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("subject_id is required")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `
		SELECT
			event_id,
			alert_id,
			subject_id,
			tenant_id,
			event_type,
			triggered_at,
			staleness_sec,
			notified_ok,
			notified_failed,
			created_at
		FROM liveness_alert_events
		WHERE subject_id = $1
		ORDER BY triggered_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert events: %w", err)
	}
	defer rows.Close()

	var events []models.AlertEvent
	for rows.Next() {
		var e models.AlertEvent
		var eventType string
		if err := rows.Scan(
			&e.EventID,
			&e.AlertID,
			&e.SubjectID,
			&e.TenantID,
			&eventType,
			&e.TriggeredAt,
			&e.StalenessSec,
			&e.NotifiedOK,
			&e.NotifiedFailed,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}
		e.EventType = models.AlertMessageType(eventType)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert events: %w", err)
	}
	return events, nil
}
