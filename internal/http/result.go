package httpapi

// Result liveness API 响应信封
// - code: 2000 成功；失败时为 -1 或下面的业务码
// - type: 'success' | 'error'
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

const (
	ResultSuccess = 2000
	ResultError   = -1

	// 业务错误码，HTTP 状态码 * 100，方便客户端不解析 message 就能分支
	ResultNotFound     = 40400
	ResultConflict     = 40900
	ResultBodyTooLarge = 41300
)

func Ok[T any](result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: "success", Message: "ok", Result: result}
}

func Fail(message string) Result[any] {
	return FailCode(ResultError, message)
}

// FailCode 带业务码的失败响应
func FailCode(code int, message string) Result[any] {
	return Result[any]{Code: code, Type: "error", Message: message}
}
