package mapping

import (
	"sync"
	"time"
)

// Cache 映射表缓存接口
type Cache interface {
	// Get 获取缓存数据
	Get(key string) (map[string]string, bool)

	// Set 设置缓存数据
	Set(key string, table map[string]string)

	// Delete 删除指定缓存
	Delete(key string)

	// Clear 清空所有缓存
	Clear()

	// Stats 获取缓存统计
	Stats() *CacheStats
}

// MemoryCache 内存缓存实现
type MemoryCache struct {
	mu          sync.Mutex
	data        map[string]*CacheEntry
	config      *CacheConfig
	hitCount    int64
	missCount   int64
	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// NewMemoryCache 创建内存缓存
func NewMemoryCache(config *CacheConfig) *MemoryCache {
	if config == nil {
		config = DefaultCacheConfig()
	}

	cache := &MemoryCache{
		data:        make(map[string]*CacheEntry),
		config:      config,
		stopCleanup: make(chan struct{}),
	}

	// 启动定期清理
	go cache.startCleanup()

	return cache
}

// Get 获取缓存数据，返回副本
func (c *MemoryCache) Get(key string) (map[string]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.data[key]
	if !exists {
		c.missCount++
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		c.missCount++
		delete(c.data, key)
		return nil, false
	}

	entry.HitCount++
	c.hitCount++

	return copyTable(entry.Table), true
}

// Set 设置缓存数据
func (c *MemoryCache) Set(key string, table map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists && len(c.data) >= c.config.MaxSize {
		c.evictOldest()
	}

	now := time.Now()
	c.data[key] = &CacheEntry{
		Table:     copyTable(table),
		ExpiresAt: now.Add(c.config.TTL),
		CreatedAt: now,
	}
}

// Delete 删除指定缓存
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
}

// Clear 清空所有缓存
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = make(map[string]*CacheEntry)
	c.hitCount = 0
	c.missCount = 0
}

// Stats 获取缓存统计
func (c *MemoryCache) Stats() *CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	totalRequests := c.hitCount + c.missCount
	hitRate := 0.0
	if totalRequests > 0 {
		hitRate = float64(c.hitCount) / float64(totalRequests)
	}

	return &CacheStats{
		Size:      len(c.data),
		HitCount:  c.hitCount,
		MissCount: c.missCount,
		HitRate:   hitRate,
		TTL:       c.config.TTL,
	}
}

// Cleanup 清理过期缓存
func (c *MemoryCache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.data {
		if now.After(entry.ExpiresAt) {
			delete(c.data, key)
		}
	}
}

// Close 关闭缓存，停止清理协程
func (c *MemoryCache) Close() {
	c.closeOnce.Do(func() { close(c.stopCleanup) })
}

// ==================== 私有方法 ====================

// startCleanup 启动定期清理
func (c *MemoryCache) startCleanup() {
	ticker := time.NewTicker(c.config.CleanupTime)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Cleanup()
		case <-c.stopCleanup:
			return
		}
	}
}

// evictOldest 淘汰最老的缓存条目
func (c *MemoryCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.data {
		if oldestKey == "" || entry.CreatedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.CreatedAt
		}
	}

	if oldestKey != "" {
		delete(c.data, oldestKey)
	}
}

func copyTable(table map[string]string) map[string]string {
	result := make(map[string]string, len(table))
	for k, v := range table {
		result[k] = v
	}
	return result
}
