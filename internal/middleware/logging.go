package middleware

import (
	"bytes"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"osapio-go/pkg/log"
)

// maxLoggedBody 是日志中保留的请求/响应体长度上限。
const maxLoggedBody = 2048

// RequestIDHeader 是请求 ID 的响应头。
const RequestIDHeader = "X-Request-ID"

var (
	reSecret = regexp.MustCompile(`"(password|access_token|refresh_token|file_content)"\s*:\s*"[^"]*"`)
)

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 同时写入 gin.ResponseWriter 和内部 buffer，buffer 超过上限后不再追加。
func (w bodyLogWriter) Write(b []byte) (int, error) {
	if room := maxLoggedBody - w.body.Len(); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		w.body.Write(b[:room])
	}
	return w.ResponseWriter.Write(b)
}

// RequestLogger 是一个 Gin 中间件，记录请求与响应的摘要日志。
// 下载与 WebSocket 等流式接口只记录元数据；密码、token 与文档正文会被脱敏。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		var requestBody []byte
		captureBody := isJSON(c.GetHeader("Content-Type"))
		if captureBody && c.Request.Body != nil {
			requestBody, _ = io.ReadAll(c.Request.Body)
			// 重新设置请求体，后续处理函数可以正常读取
			c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		}

		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
		streaming := c.GetHeader("Upgrade") != "" || strings.HasPrefix(c.Request.URL.Path, "/api/download/")
		if !streaming {
			c.Writer = blw
		}

		c.Next()

		log.Infow("HTTP Request Log",
			"requestID", requestID,
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"requestBody", redact(requestBody),
			"responseBody", redact(blw.body.Bytes()),
		)
	}
}

func isJSON(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "application/json")
}

func redact(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if len(b) > maxLoggedBody {
		b = b[:maxLoggedBody]
	}
	return reSecret.ReplaceAllString(string(b), `"$1":"***"`)
}
