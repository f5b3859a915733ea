// Package delivery wraps every outbound send in a per-(task, target) lane.
//
// A lane retries on its own schedule: rate limits are honoured for at least
// the server mandated wait, transient errors back off exponentially and fatal
// errors stop the lane immediately. Lanes never wait on each other.
package delivery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go_relay/internal/logger"
	"go_relay/internal/relay/notify"

	"github.com/sirupsen/logrus"
)

// State 投递通道状态
type State string

const (
	StateIdle            State = "idle"
	StateSending         State = "sending"
	StateWaiting         State = "waiting"
	StateSuccess         State = "success"
	StateRateLimited     State = "rate_limited"
	StateFailedRetryable State = "failed_retryable"
	StateFailedFatal     State = "failed_fatal"
	StateCancelled       State = "cancelled"
	StateSkipped         State = "skipped"
)

// Terminal 是否为终止状态
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateFailedRetryable, StateFailedFatal, StateCancelled, StateSkipped:
		return true
	default:
		return false
	}
}

// LaneKey 标识一个 (任务, 目标) 投递通道
type LaneKey struct {
	TaskID   int64
	TargetID int64
}

// SendFunc 执行一次发送，返回目标侧消息 ID。返回 ErrSkip 表示没有可投递的内容
type SendFunc func(ctx context.Context) (int64, error)

// ActivityChecker 查询任务当前是否仍然启用
type ActivityChecker interface {
	IsActive(taskID int64) bool
}

// Outcome 单个通道的最终结果
type Outcome struct {
	Lane            LaneKey
	MessageID       int
	State           State
	Attempts        int
	RateLimitWaits  int
	TargetMessageID int64
	Err             error
	StartedAt       time.Time
	FinishedAt      time.Time
}

// LaneStatus 通道运行时快照
type LaneStatus struct {
	Lane        LaneKey
	MessageID   int
	State       State
	Attempts    int
	NextAttempt time.Time
	LastError   string
}

// Option 配置 Controller
type Option func(*Controller)

// WithClock 替换时钟与等待函数
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// Controller 投递与退避控制器
type Controller struct {
	policy   Policy
	activity ActivityChecker
	notifier notify.Notifier

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	seq   uint64
	lanes map[uint64]*LaneStatus
}

// NewController 创建控制器；activity 与 notifier 可以为 nil
func NewController(policy Policy, activity ActivityChecker, notifier notify.Notifier, opts ...Option) *Controller {
	c := &Controller{
		policy:   policy,
		activity: activity,
		notifier: notifier,
		now:      time.Now,
		sleep:    sleepContext,
		lanes:    make(map[uint64]*LaneStatus),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Deliver 在通道内执行发送直至终止状态
func (c *Controller) Deliver(ctx context.Context, lane LaneKey, messageID int, send SendFunc) Outcome {
	id := c.track(lane, messageID)
	defer c.untrack(id)

	log := logger.Lane(lane.TaskID, lane.TargetID, messageID)
	out := Outcome{Lane: lane, MessageID: messageID, StartedAt: c.now()}
	finish := func(state State, err error) Outcome {
		out.State = state
		out.Err = err
		out.FinishedAt = c.now()
		return out
	}

	retryable := 0
	for {
		if err := ctx.Err(); err != nil {
			log.WithError(err).Info("Delivery cancelled")
			return finish(StateCancelled, err)
		}
		if c.activity != nil && !c.activity.IsActive(lane.TaskID) {
			log.Info("Task deactivated, delivery cancelled")
			return finish(StateCancelled, errTaskInactive)
		}

		out.Attempts++
		c.update(id, StateSending, out.Attempts, time.Time{}, nil)

		targetMessageID, err := c.attempt(ctx, send)
		if errors.Is(err, ErrSkip) {
			log.Debug("Nothing to deliver, lane skipped")
			return finish(StateSkipped, nil)
		}
		if err == nil {
			out.TargetMessageID = targetMessageID
			if out.Attempts > 1 {
				log.WithField("attempts", out.Attempts).Info("Delivered after retry")
			}
			return finish(StateSuccess, nil)
		}

		var wait time.Duration
		switch Classify(err) {
		case ClassRateLimited:
			retryAfter, _ := RetryAfterOf(err)
			wait = c.policy.RateLimitDelay(retryAfter, lane.TargetID, out.RateLimitWaits)
			out.RateLimitWaits++
			if c.policy.MaxRateLimitWaits > 0 && out.RateLimitWaits > c.policy.MaxRateLimitWaits {
				log.WithError(err).Warn("Rate limit wait budget exhausted")
				c.notify(ctx, notify.KindExhausted, lane, messageID, out.Attempts, err)
				return finish(StateFailedRetryable, err)
			}
			log.WithFields(logrus.Fields{
				"retry_after": retryAfter,
				"wait":        wait,
				"waits":       out.RateLimitWaits,
			}).Warn("Rate limited")
			if c.policy.NotifyThreshold > 0 && out.RateLimitWaits == c.policy.NotifyThreshold {
				c.notify(ctx, notify.KindRateLimited, lane, messageID, out.Attempts, err)
			}
			c.update(id, StateRateLimited, out.Attempts, time.Time{}, err)

		case ClassFatal:
			log.WithError(err).Error("Delivery failed permanently")
			c.notify(ctx, notify.KindFatal, lane, messageID, out.Attempts, err)
			return finish(StateFailedFatal, err)

		case ClassCancelled:
			if ctx.Err() != nil {
				return finish(StateCancelled, err)
			}
			fallthrough

		default:
			retryable++
			if retryable >= c.policy.MaxAttempts {
				log.WithError(err).WithField("attempts", out.Attempts).Error("Delivery retries exhausted")
				c.notify(ctx, notify.KindExhausted, lane, messageID, out.Attempts, err)
				return finish(StateFailedRetryable, err)
			}
			wait = c.policy.RetryDelay(retryable)
			log.WithError(err).WithField("wait", wait).Warn("Delivery failed, retrying")
			c.update(id, StateFailedRetryable, out.Attempts, time.Time{}, err)
		}

		c.update(id, StateWaiting, out.Attempts, c.now().Add(wait), err)
		if err := c.sleep(ctx, wait); err != nil {
			log.WithError(err).Info("Delivery cancelled while waiting")
			return finish(StateCancelled, err)
		}
	}
}

// Snapshot 返回正在运行的通道，按下次尝试时间排序
func (c *Controller) Snapshot() []LaneStatus {
	c.mu.Lock()
	out := make([]LaneStatus, 0, len(c.lanes))
	for _, st := range c.lanes {
		out = append(out, *st)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].NextAttempt.Equal(out[j].NextAttempt) {
			if out[i].Lane.TaskID == out[j].Lane.TaskID {
				return out[i].Lane.TargetID < out[j].Lane.TargetID
			}
			return out[i].Lane.TaskID < out[j].Lane.TaskID
		}
		return out[i].NextAttempt.Before(out[j].NextAttempt)
	})
	return out
}

func (c *Controller) attempt(ctx context.Context, send SendFunc) (int64, error) {
	if c.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.policy.AttemptTimeout)
		defer cancel()
	}
	return send(ctx)
}

func (c *Controller) notify(ctx context.Context, kind notify.Kind, lane LaneKey, messageID, attempts int, err error) {
	if c.notifier == nil {
		return
	}
	n := notify.Notification{
		Kind:      kind,
		TaskID:    lane.TaskID,
		Target:    lane.TargetID,
		MessageID: messageID,
		Attempts:  attempts,
		Reason:    err.Error(),
	}
	if nerr := c.notifier.Notify(ctx, n); nerr != nil {
		logger.Lane(lane.TaskID, lane.TargetID, messageID).WithError(nerr).Warn("Failed to send notification")
	}
}

func (c *Controller) track(lane LaneKey, messageID int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.lanes[c.seq] = &LaneStatus{Lane: lane, MessageID: messageID, State: StateIdle}
	return c.seq
}

func (c *Controller) untrack(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lanes, id)
}

func (c *Controller) update(id uint64, state State, attempts int, next time.Time, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.lanes[id]
	if !ok {
		return
	}
	st.State = state
	st.Attempts = attempts
	st.NextAttempt = next
	if err != nil {
		st.LastError = err.Error()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
