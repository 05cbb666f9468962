// Package apperr 定义客户端统一的错误分类。
// 第三方 SDK（对象存储、身份服务、网关 HTTP）的错误在边界处被转换为 *Error，
// 内部逻辑只根据 Kind/Sub 分支，不再检查供应商的错误码。
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Kind 是错误的大类。
type Kind string

const (
	KindValidation          Kind = "validation"
	KindAuth                Kind = "auth"
	KindTransport           Kind = "transport"
	KindGateway             Kind = "gateway"
	KindAnalysisUnavailable Kind = "analysis_unavailable"
)

// TransportKind 是上传传输错误的子类。
type TransportKind string

const (
	TransportUnauthorized    TransportKind = "unauthorized"
	TransportCanceled        TransportKind = "canceled"
	TransportQuotaExceeded   TransportKind = "quota-exceeded"
	TransportUnauthenticated TransportKind = "unauthenticated"
	TransportTimeout         TransportKind = "timeout"
	TransportUnknown         TransportKind = "unknown"
)

// Error 是带标签的错误变体。Msg 面向用户，Err 保留底层原因。
type Error struct {
	Kind   Kind
	Sub    TransportKind // 仅 KindTransport 使用
	Status int           // 仅 KindGateway 使用
	Detail string        // 网关返回的 {detail}
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message(), e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message())
}

func (e *Error) Unwrap() error { return e.Err }

// Message 返回可直接展示给用户的信息。
func (e *Error) Message() string {
	if e.Msg != "" {
		return e.Msg
	}
	switch e.Kind {
	case KindValidation:
		return "The selected file is not valid"
	case KindAuth:
		return "Authentication failed"
	case KindTransport:
		return transportMessage(e.Sub)
	case KindGateway:
		if e.Detail != "" {
			return e.Detail
		}
		if e.Unavailable() {
			return "Service temporarily unavailable, please try again later"
		}
		if e.Status > 0 {
			return fmt.Sprintf("Request failed: %d", e.Status)
		}
		return "Request failed"
	case KindAnalysisUnavailable:
		return "AI analysis is currently unavailable"
	}
	return "Unexpected error"
}

// Unavailable 报告网关是否返回了 503（后端存储或数据库不可用）。
func (e *Error) Unavailable() bool {
	return e.Kind == KindGateway && e.Status == http.StatusServiceUnavailable
}

// NotFound 报告网关是否返回了 404。
func (e *Error) NotFound() bool {
	return e.Kind == KindGateway && e.Status == http.StatusNotFound
}

func transportMessage(sub TransportKind) string {
	switch sub {
	case TransportUnauthorized:
		return "You do not have permission to upload this file"
	case TransportCanceled:
		return "Upload was canceled"
	case TransportQuotaExceeded:
		return "Storage quota exceeded"
	case TransportUnauthenticated:
		return "Your session has expired, please sign in again"
	case TransportTimeout:
		return "Upload timed out, please try again"
	}
	return "Upload failed due to an unknown error"
}

// Validation 构造文件校验错误。
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Msg: msg}
}

// Auth 构造认证错误。
func Auth(msg string, err error) *Error {
	return &Error{Kind: KindAuth, Msg: msg, Err: err}
}

// Transport 构造上传传输错误。
func Transport(sub TransportKind, err error) *Error {
	return &Error{Kind: KindTransport, Sub: sub, Err: err}
}

// Gateway 构造网关非 2xx 错误。
func Gateway(status int, detail string) *Error {
	return &Error{Kind: KindGateway, Status: status, Detail: detail}
}

// FromResponse 读取非 2xx 响应体中的 {"detail": "..."} 并构造网关错误。
// detail 不是字符串或响应体不是 JSON 时 Detail 为空。
func FromResponse(resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	var detail string
	if json.Unmarshal(body, &payload) == nil && len(payload.Detail) > 0 {
		_ = json.Unmarshal(payload.Detail, &detail)
	}
	return Gateway(resp.StatusCode, strings.TrimSpace(detail))
}

// GatewayTransport 构造请求未到达网关时的错误（网络失败等）。
func GatewayTransport(err error) *Error {
	return &Error{Kind: KindGateway, Msg: "Could not reach the server", Err: err}
}

// AnalysisUnavailable 构造分析不可用错误，调用方应降级处理。
func AnalysisUnavailable(err error) *Error {
	return &Error{Kind: KindAnalysisUnavailable, Err: err}
}

// As 从错误链中取出 *Error。
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is 报告错误链中是否存在指定大类的 *Error。
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// MessageOf 返回错误的用户可见信息；非 *Error 时使用 fallback。
func MessageOf(err error, fallback string) string {
	if e, ok := As(err); ok {
		return e.Message()
	}
	if err == nil {
		return ""
	}
	return fallback
}
