package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimitExceeded はレート制限を超えた場合のエラー
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrInvalidRequest はリクエストが不正な場合のエラー（リトライしない）
	ErrInvalidRequest = errors.New("invalid request")

	// ErrModelNotAvailable はモデルが利用できない場合のエラー
	ErrModelNotAvailable = errors.New("model not available")

	// ErrMaxRetriesExceeded は最大リトライ回数を超えた場合のエラー
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrNoJSONFound はレスポンスにJSONが含まれていない場合のエラー
	ErrNoJSONFound = errors.New("no JSON value found in response")
)

// ConfigurationError は利用可能なモデル・認証情報がない場合のエラー（致命的、リトライしない）
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return "configuration error: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// RateLimitError はプロバイダがスロットリングを通知した場合のエラー
// RetryAfter はプロバイダが提示した待機時間（不明な場合は0）
type RateLimitError struct {
	Model      string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	msg := "rate limited"
	if e.Model != "" {
		msg += " on model " + e.Model
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// Is は errors.Is(err, ErrRateLimitExceeded) を満たします
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

// TransientProviderError はネットワーク・5xx系の一時的なエラー（指数バックオフでリトライ）
type TransientProviderError struct {
	StatusCode int
	Err        error
}

func (e *TransientProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient provider error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientProviderError) Unwrap() error {
	return e.Err
}

// SynthesisError はリトライ予算を使い切った後の最終エラーです
type SynthesisError struct {
	Model    string
	Attempts int
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed after %d attempt(s) (model %s): %v", e.Attempts, e.Model, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// ParseError はモデル出力を解析できない場合のエラー
type ParseError struct {
	Response string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse model output: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
