package delivery

import "time"

// Policy 重试与退避参数
type Policy struct {
	AttemptTimeout    time.Duration
	MaxAttempts       int
	MaxRateLimitWaits int

	RateLimitBuffer time.Duration
	FallbackBase    time.Duration
	FallbackStep    time.Duration
	FallbackCeiling time.Duration
	RetryBase       time.Duration
	RetryCeiling    time.Duration
	JitterStep      time.Duration
	NotifyThreshold int
}

// DefaultPolicy 默认参数
func DefaultPolicy() Policy {
	return Policy{
		AttemptTimeout:    60 * time.Second,
		MaxAttempts:       5,
		MaxRateLimitWaits: 10,
		RateLimitBuffer:   time.Second,
		FallbackBase:      30 * time.Second,
		FallbackStep:      30 * time.Second,
		FallbackCeiling:   15 * time.Minute,
		RetryBase:         time.Second,
		RetryCeiling:      30 * time.Second,
		JitterStep:        200 * time.Millisecond,
		NotifyThreshold:   3,
	}
}

// RateLimitDelay 计算限流后的等待时间。
// wait > 0 时结果不小于 wait；无法解析时按已发生的限流次数递增，不超过上限
func (p Policy) RateLimitDelay(wait time.Duration, targetID int64, previous int) time.Duration {
	if wait > 0 {
		return wait + p.RateLimitBuffer + p.jitter(targetID)
	}

	if previous < 0 {
		previous = 0
	}
	delay := p.FallbackBase + time.Duration(previous)*p.FallbackStep
	if p.FallbackCeiling > 0 && delay > p.FallbackCeiling {
		delay = p.FallbackCeiling
	}
	return delay + p.jitter(targetID)
}

// RetryDelay 临时错误的指数退避：base * 2^(attempt-1)，不超过上限
func (p Policy) RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.RetryBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.RetryCeiling > 0 && delay >= p.RetryCeiling {
			return p.RetryCeiling
		}
	}
	if p.RetryCeiling > 0 && delay > p.RetryCeiling {
		return p.RetryCeiling
	}
	return delay
}

// jitter 按目标错开重试时间，避免同一时刻集中重发
func (p Policy) jitter(targetID int64) time.Duration {
	if targetID < 0 {
		targetID = -targetID
	}
	return time.Duration(targetID%5+1) * p.JitterStep
}
