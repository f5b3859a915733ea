package forward

import (
	"sync"
	"time"

	"go_relay/internal/relay/models"
)

// seenCache 记录窗口期内已处理的入站消息
type seenCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	values    map[models.MessageKey]time.Time
	lastSweep time.Time
}

func newSeenCache(ttl time.Duration) *seenCache {
	if ttl <= 0 {
		return nil
	}
	return &seenCache{
		ttl:    ttl,
		now:    time.Now,
		values: make(map[models.MessageKey]time.Time),
	}
}

// MarkSeen 首次出现返回 true；窗口期内重复出现返回 false
func (c *seenCache) MarkSeen(key models.MessageKey) bool {
	if c == nil {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweep(now)

	if expires, ok := c.values[key]; ok && now.Before(expires) {
		return false
	}
	c.values[key] = now.Add(c.ttl)
	return true
}

// Forget 移除记录，使消息可以被再次处理
func (c *seenCache) Forget(key models.MessageKey) {
	if c == nil {
		return
	}

	c.mu.Lock()
	delete(c.values, key)
	c.mu.Unlock()
}

func (c *seenCache) Len() int {
	if c == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.values)
}

// sweep 每个 TTL 周期最多清理一次过期记录
func (c *seenCache) sweep(now time.Time) {
	if now.Sub(c.lastSweep) < c.ttl {
		return
	}
	for key, expires := range c.values {
		if !now.Before(expires) {
			delete(c.values, key)
		}
	}
	c.lastSweep = now
}
