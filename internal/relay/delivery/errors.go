package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RateLimitError 平台下发的强制等待。RetryAfter <= 0 表示等待时间无法解析
type RateLimitError struct {
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Op, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Op)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// RetryableError 临时性错误（网络、服务端）
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// FatalError 不可重试的错误（权限被撤销、目标不存在等）
type FatalError struct {
	Op     string
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Class 错误分类
type Class int

const (
	ClassNone Class = iota
	ClassRateLimited
	ClassRetryable
	ClassFatal
	ClassCancelled
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassRateLimited:
		return "rate_limited"
	case ClassRetryable:
		return "retryable"
	case ClassFatal:
		return "fatal"
	case ClassCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Classify 对传输层已解码的错误分类，未知错误按可重试处理
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	var rl *RateLimitError
	if errors.As(err, &rl) {
		return ClassRateLimited
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return ClassFatal
	}
	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return ClassRetryable
	}
	if errors.Is(err, context.Canceled) {
		return ClassCancelled
	}
	return ClassRetryable
}

// RetryAfterOf 取出限流等待时间
func RetryAfterOf(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		return 0, false
	}
	return rl.RetryAfter, true
}

// ErrSkip 发送方声明没有内容需要投递，通道以 skipped 结束
var ErrSkip = errors.New("nothing to deliver")

var errTaskInactive = errors.New("task is no longer active")

// IsTaskInactive 通道是否因任务停用而取消
func IsTaskInactive(err error) bool {
	return errors.Is(err, errTaskInactive)
}
