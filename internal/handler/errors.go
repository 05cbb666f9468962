// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"osapio-go/internal/service"
	"osapio-go/pkg/log"
)

// errorStatus 把业务错误映射为 HTTP 状态码与返回给客户端的 detail。
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, service.ErrForbiddenPath):
		return http.StatusForbidden, service.ErrForbiddenPath.Error()
	case errors.Is(err, service.ErrRecordNotFound):
		return http.StatusNotFound, "Upload not found"
	case errors.Is(err, service.ErrEmailTaken), errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrAnalysisFailed):
		return http.StatusBadGateway, "Analysis failed"
	case errors.Is(err, service.ErrAnalysisUnavailable), errors.Is(err, service.ErrQueueDisabled),
		errors.Is(err, service.ErrSearchDisabled):
		return http.StatusServiceUnavailable, unwrapSentinel(err)
	case errors.Is(err, service.ErrUnavailable):
		return http.StatusServiceUnavailable, "Database service unavailable"
	}
	return http.StatusInternalServerError, ""
}

func unwrapSentinel(err error) string {
	for _, s := range []error{service.ErrAnalysisUnavailable, service.ErrQueueDisabled, service.ErrSearchDisabled} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return err.Error()
}

// respondError 统一输出 {"detail": ...} 形式的错误，未知错误使用 fallback 作为 detail。
func respondError(c *gin.Context, op string, err error, fallback string) {
	status, detail := errorStatus(err)
	if detail == "" {
		detail = fallback
	}
	if status >= http.StatusInternalServerError {
		log.Errorf("[%s] 请求失败, status: %d, error: %v", op, status, err)
	} else {
		log.Warnf("[%s] 请求被拒绝, status: %d, error: %v", op, status, err)
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

func badRequest(c *gin.Context, detail string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": detail})
}
