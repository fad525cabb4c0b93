package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wisefido-liveness/internal/models"
)

// MemorySubjectsRepo 内存实现（DB 未启用时以及单元测试使用）
// 与 PostgreSQL 实现保持相同的条件更新语义。
type MemorySubjectsRepo struct {
	mu       sync.RWMutex
	subjects map[string]models.Subject // subjectID -> Subject
}

func NewMemorySubjectsRepo() *MemorySubjectsRepo {
	return &MemorySubjectsRepo{
		subjects: map[string]models.Subject{},
	}
}

func (r *MemorySubjectsRepo) GetSubject(_ context.Context, subjectID string) (*models.Subject, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.subjects[subjectID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubjectNotFound, subjectID)
	}
	out := cloneSubject(s)
	return &out, nil
}

func (r *MemorySubjectsRepo) UpsertSubject(_ context.Context, subject *models.Subject) error {
	if subject == nil {
		return fmt.Errorf("subject is required")
	}
	if err := subject.Validate(); err != nil {
		return err
	}
	if err := subject.QuietHours.Validate(); err != nil {
		return fmt.Errorf("invalid quiet_hours: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := cloneSubject(*subject)
	next.Subscribers = models.NormalizeSubscribers(next.Subscribers)
	if next.HeartbeatKind == "" {
		next.HeartbeatKind = models.HeartbeatFirstContact
	}

	if cur, ok := r.subjects[subject.SubjectID]; ok {
		next.LastHeartbeatAt = cur.LastHeartbeatAt
		next.HeartbeatKind = cur.HeartbeatKind
		next.AlertState = cur.AlertState
	} else {
		next.AlertState = models.InactiveState()
	}
	r.subjects[subject.SubjectID] = next
	return nil
}

func (r *MemorySubjectsRepo) UpdateHeartbeat(_ context.Context, subjectID string, at time.Time, kind models.HeartbeatKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.subjects[subjectID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubjectNotFound, subjectID)
	}
	if !s.LastHeartbeatAt.Before(at) {
		return nil
	}
	s.LastHeartbeatAt = at
	s.HeartbeatKind = kind
	r.subjects[subjectID] = s
	return nil
}

func (r *MemorySubjectsRepo) UpdateAlertState(_ context.Context, t AlertTransition) (models.AlertState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.subjects[t.SubjectID]
	if !ok {
		return models.AlertState{}, fmt.Errorf("%w: %s", ErrSubjectNotFound, t.SubjectID)
	}
	if s.AlertState.Version != t.Expected.Version || !s.LastHeartbeatAt.Equal(t.ObservedHeartbeatAt) {
		return models.AlertState{}, ErrConflict
	}

	next := t.Next.Normalize()
	next.Version = s.AlertState.Version + 1
	s.AlertState = next
	r.subjects[t.SubjectID] = s
	return next, nil
}

func (r *MemorySubjectsRepo) ListMonitoredSubjects(_ context.Context, filter SubjectFilter) ([]models.Subject, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	defaultThreshold := filter.DefaultThreshold
	if defaultThreshold <= 0 {
		defaultThreshold = models.DefaultAlertThreshold
	}

	r.mu.RLock()
	type entry struct {
		cursor  Cursor
		subject models.Subject
	}
	all := make([]entry, 0, len(r.subjects))
	for _, s := range r.subjects {
		if !s.MonitoringEnabled {
			continue
		}
		if filter.TenantID != "" && s.TenantID != filter.TenantID {
			continue
		}
		all = append(all, entry{cursor: CursorOf(&s, defaultThreshold), subject: cloneSubject(s)})
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return cursorLess(all[i].cursor, all[j].cursor)
	})

	out := make([]models.Subject, 0, limit)
	for _, e := range all {
		if filter.After != nil && !cursorLess(*filter.After, e.cursor) {
			continue
		}
		out = append(out, e.subject)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func cursorLess(a, b Cursor) bool {
	if !a.DueAt.Equal(b.DueAt) {
		return a.DueAt.Before(b.DueAt)
	}
	return a.SubjectID < b.SubjectID
}

func cloneSubject(s models.Subject) models.Subject {
	if s.QuietHours != nil {
		qh := *s.QuietHours
		qh.ActiveWeekdays = append([]int(nil), s.QuietHours.ActiveWeekdays...)
		s.QuietHours = &qh
	}
	s.Subscribers = append([]string(nil), s.Subscribers...)
	return s
}
