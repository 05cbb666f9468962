// Package service 包含了应用的业务逻辑层。
package service

import (
	"errors"

	"osapio-go/internal/repository"
)

var (
	// ErrRecordNotFound 表示记录不存在或不属于当前用户。
	ErrRecordNotFound = errors.New("upload not found")
	// ErrInvalidTransition 表示请求会让记录状态倒退或离开终态。
	ErrInvalidTransition = errors.New("upload is not in a state that allows this operation")
	// ErrUnavailable 表示数据库或存储不可用。
	ErrUnavailable = repository.ErrUnavailable
	// ErrInvalidInput 表示请求参数不合法。
	ErrInvalidInput = errors.New("invalid input")
	// ErrForbiddenPath 表示对象路径不在当前用户的目录下。
	ErrForbiddenPath = errors.New("file_path does not belong to the current user")
	// ErrInvalidCredentials 表示邮箱或密码错误。
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailTaken 表示邮箱已注册。
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidToken 表示 token 无效、过期或已登出。
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrAnalysisFailed 表示语言模型调用失败，记录已标记为 failed。
	ErrAnalysisFailed = errors.New("analysis failed")
	// ErrAnalysisUnavailable 表示分析服务被熔断或未配置。
	ErrAnalysisUnavailable = errors.New("analysis service unavailable")
	// ErrQueueDisabled 表示未配置 Kafka，无法异步分析。
	ErrQueueDisabled = errors.New("async analysis is not enabled")
	// ErrSearchDisabled 表示未配置 Elasticsearch。
	ErrSearchDisabled = errors.New("search is not enabled")
)
