package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wisefido-liveness/internal/models"
)

// AlertEventRepository 报警事件历史存储
type AlertEventRepository interface {
	CreateAlertEvent(ctx context.Context, event *models.AlertEvent) error
	ListRecentAlertEvents(ctx context.Context, subjectID string, limit int) ([]models.AlertEvent, error)
}

// MemoryAlertEventsRepo 内存版报警事件历史（DB_ENABLED=false 时使用）
type MemoryAlertEventsRepo struct {
	mu     sync.RWMutex
	events map[string][]models.AlertEvent
	max    int
}

// NewMemoryAlertEventsRepo 创建内存事件仓库，每个 subject 最多保留 max 条
func NewMemoryAlertEventsRepo(max int) *MemoryAlertEventsRepo {
	if max <= 0 {
		max = 100
	}
	return &MemoryAlertEventsRepo{
		events: make(map[string][]models.AlertEvent),
		max:    max,
	}
}

// CreateAlertEvent 写入一条报警事件
func (r *MemoryAlertEventsRepo) CreateAlertEvent(_ context.Context, event *models.AlertEvent) error {
	if event == nil || event.EventID == "" || event.SubjectID == "" {
		return fmt.Errorf("event_id and subject_id are required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := append(r.events[event.SubjectID], *event)
	if len(list) > r.max {
		list = list[len(list)-r.max:]
	}
	r.events[event.SubjectID] = list
	return nil
}

// ListRecentAlertEvents 按 triggered_at 倒序返回最近的事件
func (r *MemoryAlertEventsRepo) ListRecentAlertEvents(_ context.Context, subjectID string, limit int) ([]models.AlertEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	r.mu.RLock()
	out := make([]models.AlertEvent, len(r.events[subjectID]))
	copy(out, r.events[subjectID])
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TriggeredAt.After(out[j].TriggeredAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
