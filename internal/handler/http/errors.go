package http

import (
	"errors"
	"net/http"

	"live-classroom/internal/service"
)

// statusFor 把引擎的业务错误映射为 HTTP 状态码。
// 未识别的错误一律 500，不向外暴露内部细节。
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrPollNotFound), errors.Is(err, service.ErrQnaNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNotActive), errors.Is(err, service.ErrDuplicateSubmission):
		return http.StatusConflict
	case errors.Is(err, service.ErrAnswersPrivate):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidMessageID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// messageFor 返回可以安全透传给客户端的错误信息。
func messageFor(err error) string {
	if statusFor(err) == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}
