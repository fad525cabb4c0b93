package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（方法 + 路径参数模式）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterLivenessRoutes 注册心跳、扫描、监护对象相关路由
func (r *Router) RegisterLivenessRoutes(h *LivenessHandler) {
	const prefix = "/liveness/api/v1"

	r.Handle("POST "+prefix+"/heartbeat", h.RecordHeartbeat)
	r.Handle("POST "+prefix+"/sweep", h.TriggerSweep)

	r.Handle("GET "+prefix+"/subjects/{id}", h.GetSubject)
	r.Handle("PUT "+prefix+"/subjects/{id}", h.UpsertSubject)
	r.Handle("POST "+prefix+"/subjects/{id}/ack", h.AcknowledgeAlert)
	r.Handle("GET "+prefix+"/subjects/{id}/events", h.ListEvents)
}

// RegisterHealthRoutes 注册健康检查
func (r *Router) RegisterHealthRoutes(h *HealthHandler) {
	r.Handle("GET /healthz", h.Healthz)
}
