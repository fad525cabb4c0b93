package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"wisefido-liveness/internal/models"

	"go.uber.org/zap"
)

// PostgresSubjectsRepository 基于 PostgreSQL 的监护对象仓库
type PostgresSubjectsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresSubjectsRepository 创建监护对象仓库
func NewPostgresSubjectsRepository(db *sql.DB, logger *zap.Logger) *PostgresSubjectsRepository {
	return &PostgresSubjectsRepository{
		db:     db,
		logger: logger,
	}
}

const subjectColumns = `
	subject_id,
	tenant_id,
	monitoring_enabled,
	last_heartbeat_at,
	heartbeat_kind,
	alert_threshold_sec,
	cooldown_sec,
	min_refresh_sec,
	long_silence_sec,
	quiet_hours,
	alert_status,
	alert_since,
	cooldown_until,
	cleared_at,
	alert_version,
	subscribers`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanSubject 扫描一行 subject（可附带额外列）
func scanSubject(row rowScanner, extra ...interface{}) (*models.Subject, error) {
	var s models.Subject
	var heartbeatKind, alertStatus string
	var thresholdSec, cooldownSec, refreshSec, silenceSec int64
	var quietHours, subscribers []byte
	var alertSince, cooldownUntil, clearedAt sql.NullTime

	dest := []interface{}{
		&s.SubjectID,
		&s.TenantID,
		&s.MonitoringEnabled,
		&s.LastHeartbeatAt,
		&heartbeatKind,
		&thresholdSec,
		&cooldownSec,
		&refreshSec,
		&silenceSec,
		&quietHours,
		&alertStatus,
		&alertSince,
		&cooldownUntil,
		&clearedAt,
		&s.AlertState.Version,
		&subscribers,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	s.HeartbeatKind = models.ParseHeartbeatKind(heartbeatKind)
	s.Settings = models.MonitorSettings{
		AlertThreshold:       time.Duration(thresholdSec) * time.Second,
		Cooldown:             time.Duration(cooldownSec) * time.Second,
		MinRefreshInterval:   time.Duration(refreshSec) * time.Second,
		LongSilenceThreshold: time.Duration(silenceSec) * time.Second,
	}

	// 非法的静默配置按"未配置"处理，不影响监护
	if len(quietHours) > 0 && string(quietHours) != "null" {
		var qh models.QuietHoursConfig
		if err := json.Unmarshal(quietHours, &qh); err == nil {
			s.QuietHours = &qh
		}
	}

	status, err := models.ParseAlertStatus(alertStatus)
	if err != nil {
		return nil, err
	}
	s.AlertState.Status = status
	if alertSince.Valid {
		s.AlertState.Since = alertSince.Time
	}
	if cooldownUntil.Valid {
		s.AlertState.CooldownUntil = cooldownUntil.Time
	}
	if clearedAt.Valid {
		s.AlertState.ClearedAt = clearedAt.Time
	}
	s.AlertState = s.AlertState.Normalize()

	if len(subscribers) > 0 {
		if err := json.Unmarshal(subscribers, &s.Subscribers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal subscribers: %w", err)
		}
	}
	s.Subscribers = models.NormalizeSubscribers(s.Subscribers)

	return &s, nil
}

// GetSubject 根据 subject_id 获取监护对象
func (r *PostgresSubjectsRepository) GetSubject(ctx context.Context, subjectID string) (*models.Subject, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("subject_id is required")
	}

	query := `SELECT ` + subjectColumns + `
		FROM liveness_subjects
		WHERE subject_id = $1
	`

	s, err := scanSubject(r.db.QueryRowContext(ctx, query, subjectID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSubjectNotFound, subjectID)
		}
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}
	return s, nil
}

// UpsertSubject 创建或更新监护对象配置
// 更新时不修改 last_heartbeat_at 和报警状态。
func (r *PostgresSubjectsRepository) UpsertSubject(ctx context.Context, subject *models.Subject) error {
	if subject == nil {
		return fmt.Errorf("subject is required")
	}
	if err := subject.Validate(); err != nil {
		return err
	}
	if err := subject.QuietHours.Validate(); err != nil {
		return fmt.Errorf("invalid quiet_hours: %w", err)
	}

	quietHours := []byte("null")
	if subject.QuietHours != nil {
		b, err := json.Marshal(subject.QuietHours)
		if err != nil {
			return fmt.Errorf("failed to marshal quiet_hours: %w", err)
		}
		quietHours = b
	}
	subscribers, err := json.Marshal(models.NormalizeSubscribers(subject.Subscribers))
	if err != nil {
		return fmt.Errorf("failed to marshal subscribers: %w", err)
	}

	kind := subject.HeartbeatKind
	if kind == "" {
		kind = models.HeartbeatFirstContact
	}

	query := `
		INSERT INTO liveness_subjects (
			subject_id,
			tenant_id,
			monitoring_enabled,
			last_heartbeat_at,
			heartbeat_kind,
			alert_threshold_sec,
			cooldown_sec,
			min_refresh_sec,
			long_silence_sec,
			quiet_hours,
			subscribers,
			alert_status,
			alert_version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'inactive', 0)
		ON CONFLICT (subject_id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			monitoring_enabled = EXCLUDED.monitoring_enabled,
			alert_threshold_sec = EXCLUDED.alert_threshold_sec,
			cooldown_sec = EXCLUDED.cooldown_sec,
			min_refresh_sec = EXCLUDED.min_refresh_sec,
			long_silence_sec = EXCLUDED.long_silence_sec,
			quiet_hours = EXCLUDED.quiet_hours,
			subscribers = EXCLUDED.subscribers,
			updated_at = NOW()
	`

	_, err = r.db.ExecContext(ctx, query,
		subject.SubjectID,
		subject.TenantID,
		subject.MonitoringEnabled,
		subject.LastHeartbeatAt,
		string(kind),
		durationSec(subject.Settings.AlertThreshold),
		durationSec(subject.Settings.Cooldown),
		durationSec(subject.Settings.MinRefreshInterval),
		durationSec(subject.Settings.LongSilenceThreshold),
		string(quietHours),
		string(subscribers),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subject: %w", err)
	}
	return nil
}

// UpdateHeartbeat 更新最后心跳时间（只前进）
func (r *PostgresSubjectsRepository) UpdateHeartbeat(ctx context.Context, subjectID string, at time.Time, kind models.HeartbeatKind) error {
	if subjectID == "" {
		return fmt.Errorf("subject_id is required")
	}

	query := `
		UPDATE liveness_subjects
		SET last_heartbeat_at = $2,
		    heartbeat_kind = $3,
		    updated_at = NOW()
		WHERE subject_id = $1
		  AND last_heartbeat_at < $2
	`

	result, err := r.db.ExecContext(ctx, query, subjectID, at, string(kind))
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	// 0 行：对象不存在，或者这是一个更早的心跳（忽略）
	exists, err := r.exists(ctx, subjectID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrSubjectNotFound, subjectID)
	}
	r.logger.Debug("Ignored out-of-order heartbeat",
		zap.String("subject_id", subjectID),
		zap.Time("at", at),
	)
	return nil
}

// UpdateAlertState 条件更新报警状态（CAS：alert_version + last_heartbeat_at）
func (r *PostgresSubjectsRepository) UpdateAlertState(ctx context.Context, t AlertTransition) (models.AlertState, error) {
	if t.SubjectID == "" {
		return models.AlertState{}, fmt.Errorf("subject_id is required")
	}
	next := t.Next.Normalize()

	query := `
		UPDATE liveness_subjects
		SET alert_status = $2,
		    alert_since = $3,
		    cooldown_until = $4,
		    cleared_at = $5,
		    alert_version = alert_version + 1,
		    updated_at = NOW()
		WHERE subject_id = $1
		  AND alert_version = $6
		  AND last_heartbeat_at = $7
		RETURNING alert_version
	`

	var version int64
	err := r.db.QueryRowContext(ctx, query,
		t.SubjectID,
		string(next.Status),
		nullTime(next.Since),
		nullTime(next.CooldownUntil),
		nullTime(next.ClearedAt),
		t.Expected.Version,
		t.ObservedHeartbeatAt,
	).Scan(&version)
	if err == nil {
		next.Version = version
		return next, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.AlertState{}, fmt.Errorf("failed to update alert state: %w", err)
	}

	exists, err := r.exists(ctx, t.SubjectID)
	if err != nil {
		return models.AlertState{}, err
	}
	if !exists {
		return models.AlertState{}, fmt.Errorf("%w: %s", ErrSubjectNotFound, t.SubjectID)
	}
	return models.AlertState{}, ErrConflict
}

// ListMonitoredSubjects 分页查询启用监护的对象（按 due_at 升序）
func (r *PostgresSubjectsRepository) ListMonitoredSubjects(ctx context.Context, filter SubjectFilter) ([]models.Subject, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	defaultThreshold := filter.DefaultThreshold
	if defaultThreshold <= 0 {
		defaultThreshold = models.DefaultAlertThreshold
	}

	args := []interface{}{durationSec(defaultThreshold)}
	conditions := []string{"monitoring_enabled"}

	if filter.TenantID != "" {
		args = append(args, filter.TenantID)
		conditions = append(conditions, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	where := strings.Join(conditions, " AND ")

	cursorCond := ""
	if filter.After != nil {
		args = append(args, filter.After.DueAt, filter.After.SubjectID)
		cursorCond = fmt.Sprintf("WHERE (due_at, subject_id) > ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT %s, due_at
		FROM (
			SELECT %s,
				last_heartbeat_at + make_interval(secs => CASE WHEN alert_threshold_sec > 0 THEN alert_threshold_sec ELSE $1 END) AS due_at
			FROM liveness_subjects
			WHERE %s
		) s
		%s
		ORDER BY due_at, subject_id
		LIMIT $%d
	`, subjectColumns, subjectColumns, where, cursorCond, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subjects: %w", err)
	}
	defer rows.Close()

	subjects := make([]models.Subject, 0, limit)
	for rows.Next() {
		var dueAt time.Time
		s, err := scanSubject(rows, &dueAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subject: %w", err)
		}
		subjects = append(subjects, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subjects: %w", err)
	}

	return subjects, nil
}

func (r *PostgresSubjectsRepository) exists(ctx context.Context, subjectID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM liveness_subjects WHERE subject_id = $1)`,
		subjectID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check subject: %w", err)
	}
	return exists, nil
}

func durationSec(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
