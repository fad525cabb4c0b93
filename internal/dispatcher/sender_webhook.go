package dispatcher

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-liveness/internal/models"

	"github.com/go-resty/resty/v2"
)

// SignatureHeader webhook 签名头（HMAC-SHA256，hex）
const SignatureHeader = "X-Liveness-Signature"

// WebhookSender 通过 HTTP webhook 推送
// 不做重试：失败由下一次 sweep/cooldown 周期自然重试。
type WebhookSender struct {
	httpClient *resty.Client
	hmacSecret string
}

// NewWebhookSender 创建 webhook 发送器
func NewWebhookSender(timeout time.Duration, hmacSecret string) *WebhookSender {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookSender{
		httpClient: client,
		hmacSecret: hmacSecret,
	}
}

// Send 实现 Sender
func (s *WebhookSender) Send(ctx context.Context, endpointID, _ string, msg models.AlertMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal alert message: %w", err)
	}

	req := s.httpClient.R().
		SetContext(ctx).
		SetBody(body)
	if s.hmacSecret != "" {
		req.SetHeader(SignatureHeader, Sign(s.hmacSecret, body))
	}

	resp, err := req.Post(endpointID)
	if err != nil {
		return fmt.Errorf("failed to call webhook: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}

// Sign 计算 body 的 HMAC-SHA256 签名
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
