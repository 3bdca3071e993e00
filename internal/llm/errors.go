package llm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRateLimited 表示服务端限流（HTTP 429），可重试。
	ErrRateLimited = errors.New("rate limited")
	// ErrContextTooLarge 表示请求超出模型上下文窗口。
	ErrContextTooLarge = errors.New("context too large")
	// ErrRetriesExhausted 表示限流重试次数用尽。
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// ProviderError 为模型服务返回的其它错误。
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s provider error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s provider error: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

var contextTooLargeMarkers = []string{
	"context length",
	"context_length_exceeded",
	"maximum context",
	"too many tokens",
	"prompt is too long",
}

var rateLimitMarkers = []string{
	"429",
	"rate limit",
	"ratelimit",
	"too many requests",
}

// classify 把 SDK 返回的错误归类为可判定的错误；status 未知时传 0。
func classify(provider string, status int, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if status == 429 || containsAny(msg, rateLimitMarkers) {
		return fmt.Errorf("%w: %s: %v", ErrRateLimited, provider, err)
	}
	if containsAny(msg, contextTooLargeMarkers) {
		return fmt.Errorf("%w: %s: %v", ErrContextTooLarge, provider, err)
	}
	return &ProviderError{Provider: provider, StatusCode: status, Message: err.Error(), Err: err}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
