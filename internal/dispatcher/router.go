package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"wisefido-liveness/internal/models"
)

// ErrUnsupportedEndpoint 端点 scheme 没有注册发送器
var ErrUnsupportedEndpoint = errors.New("unsupported endpoint")

// 端点 scheme
const (
	SchemeMQTT   = "mqtt"   // mqtt:<topic 后缀>
	SchemeStream = "stream" // stream:<redis stream 名>
	SchemeHTTP   = "http"   // http(s)://... webhook
)

// Router 按端点 scheme 选择发送器
type Router struct {
	senders map[string]Sender
}

// NewRouter 创建发送器路由
func NewRouter() *Router {
	return &Router{senders: map[string]Sender{}}
}

// Register 注册 scheme 对应的发送器
func (r *Router) Register(scheme string, s Sender) *Router {
	r.senders[scheme] = s
	return r
}

// Send 实现 Sender
func (r *Router) Send(ctx context.Context, endpointID, subjectID string, msg models.AlertMessage) error {
	scheme, _ := SplitEndpoint(endpointID)
	s, ok := r.senders[scheme]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEndpoint, endpointID)
	}
	return s.Send(ctx, endpointID, subjectID, msg)
}

// SplitEndpoint 拆分端点为 (scheme, target)
// http/https URL 整体作为 target，scheme 统一为 "http"。
func SplitEndpoint(endpointID string) (string, string) {
	if strings.HasPrefix(endpointID, "http://") || strings.HasPrefix(endpointID, "https://") {
		return SchemeHTTP, endpointID
	}
	scheme, target, ok := strings.Cut(endpointID, ":")
	if !ok {
		return "", endpointID
	}
	return scheme, target
}
