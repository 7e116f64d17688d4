package mapping

import (
	"errors"
	"time"
)

var (
	// ErrMappingNotFound 映射不存在
	ErrMappingNotFound = errors.New("mapping not found")
	// ErrModelNameEmpty 模型名称为空
	ErrModelNameEmpty = errors.New("模型名称不能为空")
	// ErrModelNameTooLong 模型名称过长
	ErrModelNameTooLong = errors.New("模型名称不能超过200个字符")
	// ErrInvalidModelName 无效的模型名称
	ErrInvalidModelName = errors.New("模型名称只能包含字母、数字以及 . _ - / : @")
)

// UpsertMappingRequest 创建或更新映射请求
type UpsertMappingRequest struct {
	TargetModel string `json:"target_model" binding:"required,max=200"`
}

// ==================== 缓存相关类型 ====================

// CacheEntry 缓存条目
type CacheEntry struct {
	Table     map[string]string `json:"table"`
	ExpiresAt time.Time         `json:"expires_at"`
	CreatedAt time.Time         `json:"created_at"`
	HitCount  int64             `json:"hit_count"`
}

// CacheStats 缓存统计信息
type CacheStats struct {
	Size      int           `json:"size"`       // 当前缓存条目数
	HitCount  int64         `json:"hit_count"`  // 缓存命中次数
	MissCount int64         `json:"miss_count"` // 缓存未命中次数
	HitRate   float64       `json:"hit_rate"`   // 缓存命中率
	TTL       time.Duration `json:"ttl"`        // TTL 设置
}

// CacheConfig 缓存配置
type CacheConfig struct {
	TTL         time.Duration `yaml:"ttl"`          // 默认: 5分钟
	MaxSize     int           `yaml:"max_size"`     // 默认: 100
	CleanupTime time.Duration `yaml:"cleanup_time"` // 默认: 10分钟
}

// DefaultCacheConfig 默认缓存配置
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		TTL:         5 * time.Minute,
		MaxSize:     100,
		CleanupTime: 10 * time.Minute,
	}
}
