package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"wisefido-liveness/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockSubjectsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresSubjectsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewPostgresSubjectsRepository(db, logger)

	return db, mock, repo
}

var subjectRowColumns = []string{
	"subject_id", "tenant_id", "monitoring_enabled", "last_heartbeat_at", "heartbeat_kind",
	"alert_threshold_sec", "cooldown_sec", "min_refresh_sec", "long_silence_sec",
	"quiet_hours", "alert_status", "alert_since", "cooldown_until", "cleared_at",
	"alert_version", "subscribers",
}

// ============================================
// GetSubject
// ============================================

func TestGetSubject_Success(t *testing.T) {
	db, mock, repo := setupMockSubjectsDB(t)
	defer db.Close()

	ctx := context.Background()
	lastHeartbeat := time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC)
	since := lastHeartbeat.Add(12 * time.Hour)

	rows := sqlmock.NewRows(subjectRowColumns).AddRow(
		"subject-1", "tenant-1", true, lastHeartbeat, "resumed",
		int64(7200), int64(0), int64(900), int64(0),
		[]byte(`{"enabled":true,"start_time":"22:00","end_time":"06:00","active_weekdays":[1,2,3]}`),
		"active", since, since.Add(6*time.Hour), nil,
		int64(4), `["mqtt:family-1","https://hooks.example.com/a","mqtt:family-1"]`,
	)

	mock.ExpectQuery(`SELECT`).
		WithArgs("subject-1").
		WillReturnRows(rows)

	s, err := repo.GetSubject(ctx, "subject-1")

	require.NoError(t, err)
	assert.Equal(t, "subject-1", s.SubjectID)
	assert.Equal(t, "tenant-1", s.TenantID)
	assert.True(t, s.MonitoringEnabled)
	assert.Equal(t, lastHeartbeat, s.LastHeartbeatAt)
	assert.Equal(t, models.HeartbeatResumed, s.HeartbeatKind)
	assert.Equal(t, 2*time.Hour, s.Settings.AlertThreshold)
	assert.Equal(t, time.Duration(0), s.Settings.Cooldown)
	assert.Equal(t, 15*time.Minute, s.Settings.MinRefreshInterval)
	require.NotNil(t, s.QuietHours)
	assert.True(t, s.QuietHours.Enabled)
	assert.Equal(t, []int{1, 2, 3}, s.QuietHours.ActiveWeekdays)
	assert.Equal(t, models.AlertActive, s.AlertState.Status)
	assert.Equal(t, since, s.AlertState.Since)
	assert.Equal(t, int64(4), s.AlertState.Version)
	assert.Equal(t, []string{"mqtt:family-1", "https://hooks.example.com/a"}, s.Subscribers)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSubject_InvalidQuietHoursTreatedAsAbsent(t *testing.T) {
	db, mock, repo := setupMockSubjectsDB(t)
	defer db.Close()

	rows := sqlmock.NewRows(subjectRowColumns).AddRow(
		"subject-1", "tenant-1", true, time.Now(), "periodic",
		int64(0), int64(0), int64(0), int64(0),
		[]byte(`{"enabled": "yes"`),
		"inactive", nil, nil, nil,
		int64(0), `[]`,
	)
	mock.ExpectQuery(`SELECT`).WithArgs("subject-1").WillReturnRows(rows)

	s, err := repo.GetSubject(context.Background(), "subject-1")

	require.NoError(t, err)
	assert.Nil(t, s.QuietHours)
	assert.Equal(t, models.AlertInactive, s.AlertState.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSubject_NotFound(t *testing.T) {
	db, mock, repo := setupMockSubjectsDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	s, err := repo.GetSubject(context.Background(), "missing")

	assert.Nil(t, s)
	assert.True(t, errors.Is(err, ErrSubjectNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// UpdateHeartbeat
// ============================================

func TestUpdateHeartbeat_Success(t *testing.T) {
	db, mock, repo := setupMockSubjectsDB(t)
	defer db.Close()

	at := time.Date(2026, 3, 3, 6, 58, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE liveness_subjects`).
		WithArgs("subject-1", at, "periodic").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateHeartbeat(context.Background(), "subject-1", at, models.HeartbeatPeriodic)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateHeartbeat_OlderTimestampIgnored(t *testing.T) {
	db, mock, repo := setupMockSubjectsDB(t)
	defer db.Close()

	at := time.Date(2026, 3, 3, 6, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE liveness_subjects`).
		WithArgs("subject-1", at, "periodic").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("subject-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := repo.UpdateHeartbeat(context.Background(), "subject-1", at, models.HeartbeatPeriodic)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateHeartbeat_NotFound(t *testing.T) {
	db, mock, repo := setupMockSubjectsDB(t)
	defer db.Close()

	at := time.Now()
	mock.ExpectExec(`UPDATE liveness_subjects`).
		WithArgs("missing", at, "first_contact").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := repo.UpdateHeartbeat(context.Background(), "missing", at, models.HeartbeatFirstContact)

	assert.True(t, errors.Is(err, ErrSubjectNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateHeartbeat_DBError(t *testing.T) {
	db, mock, repo := setupMockSubjectsDB(t)
	defer db.Close()

	at := time.Now()
	mock.ExpectExec(`UPDATE liveness_subjects`).
		WithArgs("subject-1", at, "periodic").
		WillReturnError(errors.New("connection reset"))

	err := repo.UpdateHeartbeat(context.Background(), "subject-1", at, models.HeartbeatPeriodic)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to update heartbeat")
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// UpdateAlertState
// ============================================

func TestUpdateAlertState_Success(t *testing.T) {
	db, mock, repo := setupMockSubjectsDB(t)
	defer db.Close()

	observed := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	now := observed.Add(12*time.Hour + time.Minute)
	until := now.Add(6 * time.Hour)

	mock.ExpectQuery(`UPDATE liveness_subjects`).
		WithArgs("subject-1", "active", now, until, nil, int64(3), observed).
		WillReturnRows(sqlmock.NewRows([]string{"alert_version"}).AddRow(int64(4)))

	st, err := repo.UpdateAlertState(context.Background(), AlertTransition{
		SubjectID:           "subject-1",
		Expected:            models.AlertState{Status: models.AlertInactive, Version: 3},
		ObservedHeartbeatAt: observed,
		Next:                models.ActiveState(now, until),
	})

	require.NoError(t, err)
	assert.Equal(t, models.AlertActive, st.Status)
	assert.Equal(t, int64(4), st.Version)
	assert.Equal(t, until, st.CooldownUntil)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAlertState_Conflict(t *testing.T) {
	db, mock, repo := setupMockSubjectsDB(t)
	defer db.Close()

	observed := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`UPDATE liveness_subjects`).
		WithArgs("subject-1", "inactive", nil, nil, nil, int64(5), observed).
		WillReturnRows(sqlmock.NewRows([]string{"alert_version"}))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("subject-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := repo.UpdateAlertState(context.Background(), AlertTransition{
		SubjectID:           "subject-1",
		Expected:            models.AlertState{Status: models.AlertActive, Version: 5},
		ObservedHeartbeatAt: observed,
		Next:                models.InactiveState(),
	})

	assert.True(t, errors.Is(err, ErrConflict))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAlertState_NotFound(t *testing.T) {
	db, mock, repo := setupMockSubjectsDB(t)
	defer db.Close()

	observed := time.Now()
	mock.ExpectQuery(`UPDATE liveness_subjects`).
		WillReturnRows(sqlmock.NewRows([]string{"alert_version"}))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := repo.UpdateAlertState(context.Background(), AlertTransition{
		SubjectID:           "missing",
		ObservedHeartbeatAt: observed,
		Next:                models.InactiveState(),
	})

	assert.True(t, errors.Is(err, ErrSubjectNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// ListMonitoredSubjects
// ============================================

func TestListMonitoredSubjects_FirstPage(t *testing.T) {
	db, mock, repo := setupMockSubjectsDB(t)
	defer db.Close()

	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(append(append([]string{}, subjectRowColumns...), "due_at")).
		AddRow("subject-a", "tenant-1", true, t0, "periodic", int64(0), int64(0), int64(0), int64(0),
			nil, "inactive", nil, nil, nil, int64(0), `["mqtt:a"]`, t0.Add(12*time.Hour)).
		AddRow("subject-b", "tenant-1", true, t0.Add(time.Hour), "periodic", int64(0), int64(0), int64(0), int64(0),
			nil, "inactive", nil, nil, nil, int64(0), `[]`, t0.Add(13*time.Hour))

	mock.ExpectQuery(`ORDER BY due_at, subject_id`).
		WithArgs(int64(43200), 100).
		WillReturnRows(rows)

	subjects, err := repo.ListMonitoredSubjects(context.Background(), SubjectFilter{})

	require.NoError(t, err)
	require.Len(t, subjects, 2)
	assert.Equal(t, "subject-a", subjects[0].SubjectID)
	assert.Equal(t, []string{"mqtt:a"}, subjects[0].Subscribers)
	assert.Nil(t, subjects[0].QuietHours)
	assert.Equal(t, "subject-b", subjects[1].SubjectID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListMonitoredSubjects_TenantAndCursor(t *testing.T) {
	db, mock, repo := setupMockSubjectsDB(t)
	defer db.Close()

	dueAt := time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`\(due_at, subject_id\) > \(\$3, \$4\)`).
		WithArgs(int64(7200), "tenant-1", dueAt, "subject-a", 50).
		WillReturnRows(sqlmock.NewRows(append(append([]string{}, subjectRowColumns...), "due_at")))

	subjects, err := repo.ListMonitoredSubjects(context.Background(), SubjectFilter{
		TenantID:         "tenant-1",
		After:            &Cursor{DueAt: dueAt, SubjectID: "subject-a"},
		Limit:            50,
		DefaultThreshold: 2 * time.Hour,
	})

	require.NoError(t, err)
	assert.Empty(t, subjects)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// UpsertSubject
// ============================================

func TestUpsertSubject_Success(t *testing.T) {
	db, mock, repo := setupMockSubjectsDB(t)
	defer db.Close()

	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO liveness_subjects`).
		WithArgs("subject-1", "tenant-1", true, t0, "first_contact",
			int64(7200), int64(0), int64(120), int64(0),
			`{"enabled":true,"start_time":"22:00","end_time":"06:00"}`,
			`["mqtt:a","mqtt:b"]`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertSubject(context.Background(), &models.Subject{
		SubjectID:         "subject-1",
		TenantID:          "tenant-1",
		MonitoringEnabled: true,
		LastHeartbeatAt:   t0,
		Settings:          models.MonitorSettings{AlertThreshold: 2 * time.Hour, MinRefreshInterval: 2 * time.Minute},
		QuietHours:        &models.QuietHoursConfig{Enabled: true, StartTime: "22:00", EndTime: "06:00"},
		Subscribers:       []string{"mqtt:a", "mqtt:b", "mqtt:a"},
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSubject_InvalidQuietHours(t *testing.T) {
	db, mock, repo := setupMockSubjectsDB(t)
	defer db.Close()

	err := repo.UpsertSubject(context.Background(), &models.Subject{
		SubjectID:       "subject-1",
		LastHeartbeatAt: time.Now(),
		QuietHours:      &models.QuietHoursConfig{Enabled: true, StartTime: "25:00", EndTime: "06:00"},
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid quiet_hours")
	require.NoError(t, mock.ExpectationsWereMet())
}
