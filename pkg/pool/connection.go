package pool

import (
	"sync"
	"time"
)

// PooledConnection 对单个原始资源的元数据包装
//
// 空闲时由池独占持有，借出后由调用方独占持有，绝不共享。
type PooledConnection[R comparable] struct {
	resource  R
	createdAt time.Time

	mu         sync.Mutex
	lastUsedAt time.Time
	useCount   int64
	healthy    bool
	inUse      bool
}

func newPooledConnection[R comparable](res R) *PooledConnection[R] {
	now := time.Now()
	return &PooledConnection[R]{
		resource:   res,
		createdAt:  now,
		lastUsedAt: now,
		healthy:    true,
	}
}

// Resource 返回原始资源
func (c *PooledConnection[R]) Resource() R {
	return c.resource
}

// CreatedAt 返回创建时间
func (c *PooledConnection[R]) CreatedAt() time.Time {
	return c.createdAt
}

// LastUsedAt 返回最近一次使用时间
func (c *PooledConnection[R]) LastUsedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsedAt
}

// UseCount 返回累计借出次数
func (c *PooledConnection[R]) UseCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.useCount
}

// Age 返回自创建以来经过的时间
func (c *PooledConnection[R]) Age() time.Duration {
	return time.Since(c.createdAt)
}

// IdleTime 返回自最近一次使用以来经过的时间
func (c *PooledConnection[R]) IdleTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastUsedAt)
}

// IsHealthy 返回健康标记
func (c *PooledConnection[R]) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

// isInUse 返回借出标记
func (c *PooledConnection[R]) isInUse() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inUse
}

// markUnhealthy 标记为不健康，归还时将被销毁
func (c *PooledConnection[R]) markUnhealthy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy = false
}

// checkOut 借出：刷新使用时间并累加使用计数
func (c *PooledConnection[R]) checkOut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inUse = true
	c.lastUsedAt = time.Now()
	c.useCount++
}

// checkIn 归还：刷新使用时间
// 返回 false 表示该连接并未借出（重复归还）
func (c *PooledConnection[R]) checkIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inUse {
		return false
	}
	c.inUse = false
	c.lastUsedAt = time.Now()
	return true
}
