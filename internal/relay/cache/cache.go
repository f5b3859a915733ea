// Package cache holds processed message content for the lifetime of one
// inbound message.
//
// Every key is computed at most once while it is cached: concurrent callers
// for the same key wait on the in-flight computation and share its result.
// Failed computations are never stored. Entries are grouped by source message
// and dropped together by Release once the message has been fully delivered.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go_relay/internal/relay/models"

	"golang.org/x/sync/singleflight"
)

// SharedScope marks keys whose result does not depend on a particular task.
const SharedScope int64 = 0

// Key identifies one transform result.
type Key struct {
	MessageID    int
	ChatID       int64
	TaskID       int64
	SettingsHash string
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d:%d:%s", k.ChatID, k.MessageID, k.TaskID, k.SettingsHash)
}

func (k Key) message() models.MessageKey {
	return models.MessageKey{ChatID: k.ChatID, MessageID: k.MessageID}
}

// TaskKey builds the key for a task's fully processed content.
func TaskKey(msg *models.InboundMessage, task *models.Task) Key {
	return Key{
		MessageID:    msg.MessageID,
		ChatID:       msg.ChatID,
		TaskID:       task.ID,
		SettingsHash: string(task.NormalizedMode()) + ":" + task.Settings.TransformHash(),
	}
}

// SharedKey builds a task independent key, used for media artifacts.
func SharedKey(msg *models.InboundMessage, hash string) Key {
	return Key{
		MessageID:    msg.MessageID,
		ChatID:       msg.ChatID,
		TaskID:       SharedScope,
		SettingsHash: hash,
	}
}

// Result is a cached transform output. Unchanged is the "no transform needed"
// sentinel; it is cached like any other result.
type Result struct {
	Content   *models.Content
	Filename  string
	Unchanged bool
	CreatedAt time.Time
}

// ComputeFunc produces the value for a key.
type ComputeFunc func(ctx context.Context) (Result, error)

// Stats 缓存计数
type Stats struct {
	Messages int
	Entries  int
	Computes int64
	Hits     int64
	Failures int64
}

// Cache is the media processing cache.
type Cache struct {
	mu      sync.RWMutex
	entries map[models.MessageKey]map[Key]Result

	group   singleflight.Group
	timeout time.Duration
	now     func() time.Time

	computes atomic.Int64
	hits     atomic.Int64
	failures atomic.Int64
}

// New creates a cache. timeout bounds every computation; zero disables it.
// Computations outlive the caller that started them, so a zero timeout
// leaves a stuck provider running until it returns.
func New(timeout time.Duration) *Cache {
	return &Cache{
		entries: make(map[models.MessageKey]map[Key]Result),
		timeout: timeout,
		now:     time.Now,
	}
}

// GetOrCompute returns the cached result for key or runs fn once to produce it.
func (c *Cache) GetOrCompute(ctx context.Context, key Key, fn ComputeFunc) (Result, error) {
	if r, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return r, nil
	}

	ch := c.group.DoChan(key.String(), func() (interface{}, error) {
		// 另一个调用者可能刚写入结果
		if r, ok := c.lookup(key); ok {
			c.hits.Add(1)
			return r, nil
		}

		// 计算结果由所有等待者共享，不随发起者取消
		computeCtx := context.WithoutCancel(ctx)
		if c.timeout > 0 {
			var cancel context.CancelFunc
			computeCtx, cancel = context.WithTimeout(computeCtx, c.timeout)
			defer cancel()
		}

		c.computes.Add(1)
		r, err := fn(computeCtx)
		if err != nil {
			c.failures.Add(1)
			return Result{}, err
		}

		r.CreatedAt = c.now()
		c.store(key, r)
		return r, nil
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		return res.Val.(Result), nil
	}
}

// Release drops every entry that belongs to the given source message.
func (c *Cache) Release(msg models.MessageKey) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries[msg])
	delete(c.entries, msg)
	return n
}

// Len returns the number of cached entries across all messages.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, bucket := range c.entries {
		n += len(bucket)
	}
	return n
}

// Stats 返回缓存统计
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	messages := len(c.entries)
	entries := 0
	for _, bucket := range c.entries {
		entries += len(bucket)
	}
	c.mu.RUnlock()

	return Stats{
		Messages: messages,
		Entries:  entries,
		Computes: c.computes.Load(),
		Hits:     c.hits.Load(),
		Failures: c.failures.Load(),
	}
}

func (c *Cache) lookup(key Key) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bucket, ok := c.entries[key.message()]
	if !ok {
		return Result{}, false
	}
	r, ok := bucket[key]
	return r, ok
}

func (c *Cache) store(key Key, r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := key.message()
	bucket, ok := c.entries[msg]
	if !ok {
		bucket = make(map[Key]Result)
		c.entries[msg] = bucket
	}
	if _, exists := bucket[key]; exists {
		// 先写入者胜出
		return
	}
	bucket[key] = r
}
