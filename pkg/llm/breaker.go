package llm

import (
	"context"
	"errors"
	"net/http"

	"github.com/sony/gobreaker/v2"

	"osapio-go/internal/config"
	"osapio-go/pkg/log"
)

// breakerClient 在连续失败达到阈值后短路后续调用，直到 OpenTimeout 过去。
type breakerClient struct {
	next Client
	cb   *gobreaker.CircuitBreaker[string]
}

func newBreakerClient(next Client, cfg config.LLMBreakerConfig) *breakerClient {
	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	settings := gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("LLM 熔断器状态变化", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &breakerClient{next: next, cb: gobreaker.NewCircuitBreaker[string](settings)}
}

// countsAsSuccess 决定一次调用是否计入失败：调用方取消与 4xx（429 除外）不是服务端故障。
func countsAsSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrEmptyCompletion) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
	}
	return false
}

func (b *breakerClient) Complete(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	return b.cb.Execute(func() (string, error) {
		return b.next.Complete(ctx, messages, gen)
	})
}

func (b *breakerClient) StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, writer MessageWriter) error {
	_, err := b.cb.Execute(func() (string, error) {
		return "", b.next.StreamChatMessages(ctx, messages, gen, writer)
	})
	return err
}

// IsCircuitOpen 报告错误是否由熔断器短路产生。
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
