package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
)

// 请求体上限（心跳、subject 配置都很小）
const maxBodyBytes = 64 << 10

var errBodyTooLarge = errors.New("request body too large")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// parseLimit 解析分页 limit，缺省、非法或超出 [1, max] 时返回 def
func parseLimit(s string, def, max int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > max {
		return def
	}
	return n
}

// readBodyJSON 读取 JSON 请求体；空 body 不报错，超过 maxBytes 返回 errBodyTooLarge
func readBodyJSON(r *http.Request, maxBytes int64, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return err
	}
	if int64(len(body)) > maxBytes {
		return errBodyTooLarge
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

// writeBodyError 请求体读取失败的统一响应
func writeBodyError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, FailCode(ResultBodyTooLarge, err.Error()))
		return
	}
	writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
}
