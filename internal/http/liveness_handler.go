package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"wisefido-liveness/internal/alert"
	"wisefido-liveness/internal/models"
	"wisefido-liveness/internal/quiethours"
	"wisefido-liveness/internal/repository"
	"wisefido-liveness/internal/sweep"

	"go.uber.org/zap"
)

// SubjectStore 监护对象存储
type SubjectStore interface {
	GetSubject(ctx context.Context, subjectID string) (*models.Subject, error)
	UpsertSubject(ctx context.Context, subject *models.Subject) error
	UpdateHeartbeat(ctx context.Context, subjectID string, at time.Time, kind models.HeartbeatKind) error
}

// Sweeper 扫描触发（外部 cron 调用）
type Sweeper interface {
	RunSweepTick(ctx context.Context) (sweep.Summary, error)
}

// Acknowledger 报警确认
type Acknowledger interface {
	Acknowledge(ctx context.Context, subjectID string, now time.Time) (models.AlertState, error)
}

// EventLister 报警事件历史
type EventLister interface {
	ListRecentAlertEvents(ctx context.Context, subjectID string, limit int) ([]models.AlertEvent, error)
}

// LivenessHandler 心跳与监护对象 API
type LivenessHandler struct {
	store    SubjectStore
	sweeper  Sweeper
	acker    Acknowledger
	events   EventLister
	defaults models.MonitorSettings
	clock    func() time.Time
	logger   *zap.Logger
}

func NewLivenessHandler(
	store SubjectStore,
	sweeper Sweeper,
	acker Acknowledger,
	events EventLister,
	defaults models.MonitorSettings,
	logger *zap.Logger,
) *LivenessHandler {
	return &LivenessHandler{
		store:    store,
		sweeper:  sweeper,
		acker:    acker,
		events:   events,
		defaults: defaults.WithDefaults(models.DefaultMonitorSettings()),
		clock:    time.Now,
		logger:   logger,
	}
}

// SubjectStatus GET /subjects/{id} 响应
type SubjectStatus struct {
	Subject      models.Subject         `json:"subject"`
	Effective    models.MonitorSettings `json:"effective_settings"`
	StalenessSec int64                  `json:"staleness_sec"`
	Stale        bool                   `json:"stale"`
	QuietNow     bool                   `json:"quiet_now"`
}

// RecordHeartbeat POST /liveness/api/v1/heartbeat
func (h *LivenessHandler) RecordHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req models.HeartbeatPayload
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeBodyError(w, err)
		return
	}
	if req.SubjectID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("subject_id is required"))
		return
	}

	at := req.At(h.clock().UTC())
	kind := models.ParseHeartbeatKind(req.Kind)
	if err := h.store.UpdateHeartbeat(r.Context(), req.SubjectID, at, kind); err != nil {
		h.writeStoreError(w, "update heartbeat", req.SubjectID, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"subject_id": req.SubjectID,
		"at":         at,
		"kind":       kind,
	}))
}

// TriggerSweep POST /liveness/api/v1/sweep
func (h *LivenessHandler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	// 扫描不跟随请求取消，客户端断开后本次 tick 继续完成
	summary, err := h.sweeper.RunSweepTick(context.WithoutCancel(r.Context()))
	if err != nil {
		h.logger.Error("Sweep trigger failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Result[sweep.Summary]{
			Code: ResultError, Type: "error", Message: err.Error(), Result: summary,
		})
		return
	}
	writeJSON(w, http.StatusOK, Ok(summary))
}

// GetSubject GET /liveness/api/v1/subjects/{id}
func (h *LivenessHandler) GetSubject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	subject, err := h.store.GetSubject(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, "get subject", id, err)
		return
	}

	now := h.clock()
	effective := subject.Settings.WithDefaults(h.defaults)
	staleness := subject.Staleness(now)
	writeJSON(w, http.StatusOK, Ok(SubjectStatus{
		Subject:      *subject,
		Effective:    effective,
		StalenessSec: int64(staleness / time.Second),
		Stale:        staleness >= effective.AlertThreshold,
		QuietNow:     quiethours.IsQuiet(now, subject.QuietHours),
	}))
}

// upsertSubjectRequest PUT /subjects/{id} 请求（开通流程调用）
type upsertSubjectRequest struct {
	TenantID          string                   `json:"tenant_id"`
	MonitoringEnabled *bool                    `json:"monitoring_enabled"`
	LastHeartbeatAt   int64                    `json:"last_heartbeat_at"` // unix 秒，缺省为当前时间
	AlertThresholdSec int64                    `json:"alert_threshold_sec"`
	CooldownSec       int64                    `json:"cooldown_sec"`
	MinRefreshSec     int64                    `json:"min_refresh_sec"`
	LongSilenceSec    int64                    `json:"long_silence_sec"`
	QuietHours        *models.QuietHoursConfig `json:"quiet_hours"`
	Subscribers       []string                 `json:"subscribers"`
}

// UpsertSubject PUT /liveness/api/v1/subjects/{id}
// 只更新配置，不修改 last_heartbeat_at（已存在时）和报警状态。
func (h *LivenessHandler) UpsertSubject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req upsertSubjectRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeBodyError(w, err)
		return
	}

	enabled := true
	if req.MonitoringEnabled != nil {
		enabled = *req.MonitoringEnabled
	}
	lastHeartbeat := h.clock().UTC()
	if req.LastHeartbeatAt > 0 {
		lastHeartbeat = time.Unix(req.LastHeartbeatAt, 0).UTC()
	}

	subject := &models.Subject{
		SubjectID:         id,
		TenantID:          req.TenantID,
		MonitoringEnabled: enabled,
		LastHeartbeatAt:   lastHeartbeat,
		Settings: models.MonitorSettings{
			AlertThreshold:       time.Duration(req.AlertThresholdSec) * time.Second,
			Cooldown:             time.Duration(req.CooldownSec) * time.Second,
			MinRefreshInterval:   time.Duration(req.MinRefreshSec) * time.Second,
			LongSilenceThreshold: time.Duration(req.LongSilenceSec) * time.Second,
		},
		QuietHours:  req.QuietHours,
		Subscribers: req.Subscribers,
	}
	if err := subject.QuietHours.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid quiet_hours: "+err.Error()))
		return
	}

	if err := h.store.UpsertSubject(r.Context(), subject); err != nil {
		h.writeStoreError(w, "upsert subject", id, err)
		return
	}

	stored, err := h.store.GetSubject(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, "get subject", id, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(stored))
}

// AcknowledgeAlert POST /liveness/api/v1/subjects/{id}/ack
func (h *LivenessHandler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	state, err := h.acker.Acknowledge(r.Context(), id, h.clock())
	switch {
	case errors.Is(err, alert.ErrNotActive):
		writeJSON(w, http.StatusConflict, FailCode(ResultConflict, "alert is not active"))
		return
	case errors.Is(err, repository.ErrConflict):
		writeJSON(w, http.StatusConflict, FailCode(ResultConflict, "alert state changed, retry"))
		return
	case err != nil:
		h.writeStoreError(w, "acknowledge alert", id, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(state))
}

// ListEvents GET /liveness/api/v1/subjects/{id}/events?limit=20
func (h *LivenessHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := parseLimit(r.URL.Query().Get("limit"), 20, 100)
	events, err := h.events.ListRecentAlertEvents(r.Context(), id, limit)
	if err != nil {
		h.writeStoreError(w, "list alert events", id, err)
		return
	}
	if events == nil {
		events = []models.AlertEvent{}
	}
	writeJSON(w, http.StatusOK, Ok(events))
}

func (h *LivenessHandler) writeStoreError(w http.ResponseWriter, op, subjectID string, err error) {
	if errors.Is(err, repository.ErrSubjectNotFound) {
		writeJSON(w, http.StatusNotFound, FailCode(ResultNotFound, "subject not found"))
		return
	}
	h.logger.Error("Store operation failed",
		zap.String("op", op),
		zap.String("subject_id", subjectID),
		zap.Error(err),
	)
	writeJSON(w, http.StatusInternalServerError, Fail("internal error"))
}
