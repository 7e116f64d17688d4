package balancer

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ==================== 接口定义 ====================

// FailureDetector 上游 Key 故障检测器接口
type FailureDetector interface {
	// IsFailure 检测错误和响应是否表示 Key 或上游故障
	IsFailure(err error, resp *http.Response) bool

	// FailureTypeOf 确定故障类型
	FailureTypeOf(err error, resp *http.Response) FailureType

	// RecordFailure 记录 Key 故障
	RecordFailure(key string, failureType FailureType)

	// RecordSuccess 记录 Key 成功
	RecordSuccess(key string)

	// IsAvailable 检查 Key 是否可用 (不在冷却期)
	IsAvailable(key string) bool

	// CooldownRemaining 剩余冷却时间，不在冷却期时为 0
	CooldownRemaining(key string) time.Duration

	// Stats 获取 Key 故障统计
	Stats(key string) FailureStats

	// Forget 删除不再使用的 Key 的状态
	Forget(key string)
}

// ==================== 类型定义 ====================

// FailureType 故障类型枚举
type FailureType string

const (
	TimeoutFailure    FailureType = "timeout"
	ConnectionFailure FailureType = "connection"
	ServerError       FailureType = "server_error"
	RateLimitFailure  FailureType = "rate_limit"
	AuthFailure       FailureType = "auth"
	UnknownFailure    FailureType = "unknown"
)

// keyState 单个 Key 的运行状态
type keyState struct {
	consecutiveFailures int
	totalFailures       int64
	totalRequests       int64
	lastFailureTime     time.Time
	lastSuccessTime     time.Time
	cooldownUntil       time.Time
	failureTypes        map[FailureType]int64
}

// FailureStats 故障统计信息
type FailureStats struct {
	Key                 string                `json:"key"` // 已脱敏
	ConsecutiveFailures int                   `json:"consecutive_failures"`
	TotalFailures       int64                 `json:"total_failures"`
	TotalRequests       int64                 `json:"total_requests"`
	FailureRate         float64               `json:"failure_rate"`
	LastFailureTime     time.Time             `json:"last_failure_time"`
	LastSuccessTime     time.Time             `json:"last_success_time"`
	CooldownUntil       time.Time             `json:"cooldown_until"`
	IsInCooldown        bool                  `json:"is_in_cooldown"`
	FailureTypes        map[FailureType]int64 `json:"failure_types"`
	TimeToRecovery      time.Duration         `json:"time_to_recovery"`
}

// FailureDetectorConfig 故障检测器配置
type FailureDetectorConfig struct {
	FailureThreshold int           // 连续故障阈值，默认 3 次
	CooldownDuration time.Duration // 冷却时长，默认 1 分钟
}

// DefaultFailureDetectorConfig 默认故障检测配置
func DefaultFailureDetectorConfig() FailureDetectorConfig {
	return FailureDetectorConfig{
		FailureThreshold: 3,
		CooldownDuration: time.Minute,
	}
}

// ==================== 默认实现 ====================

// DefaultFailureDetector 默认故障检测器实现
type DefaultFailureDetector struct {
	states map[string]*keyState
	config FailureDetectorConfig
	mutex  sync.Mutex
	now    func() time.Time
}

// NewFailureDetector 创建新的故障检测器
func NewFailureDetector(config FailureDetectorConfig) *DefaultFailureDetector {
	// 确保关键配置项有合法的默认值
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.CooldownDuration <= 0 {
		config.CooldownDuration = time.Minute
	}

	return &DefaultFailureDetector{
		states: make(map[string]*keyState),
		config: config,
		now:    time.Now,
	}
}

// IsFailure 检测错误和响应是否表示故障
// 调用方取消的请求不算 Key 的故障
func (d *DefaultFailureDetector) IsFailure(err error, resp *http.Response) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}

	if resp != nil {
		switch {
		case resp.StatusCode >= 500 && resp.StatusCode < 600:
			return true
		case resp.StatusCode == http.StatusTooManyRequests:
			return true
		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
			// Key 无效或被吊销，换下一个 Key 有意义
			return true
		}
	}

	return false
}

// FailureTypeOf 根据错误和响应确定故障类型
func (d *DefaultFailureDetector) FailureTypeOf(err error, resp *http.Response) FailureType {
	if err != nil {
		if isTimeoutError(err) {
			return TimeoutFailure
		}
		if isConnectionError(err) {
			return ConnectionFailure
		}
		return UnknownFailure
	}

	if resp != nil {
		switch {
		case resp.StatusCode >= 500 && resp.StatusCode < 600:
			return ServerError
		case resp.StatusCode == http.StatusTooManyRequests:
			return RateLimitFailure
		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
			return AuthFailure
		}
	}

	return UnknownFailure
}

// RecordFailure 记录 Key 故障，连续故障达到阈值时进入冷却
func (d *DefaultFailureDetector) RecordFailure(key string, failureType FailureType) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	state := d.getOrCreateState(key)
	now := d.now()

	state.consecutiveFailures++
	state.totalFailures++
	state.totalRequests++
	state.lastFailureTime = now
	state.failureTypes[failureType]++

	if state.consecutiveFailures >= d.config.FailureThreshold && !now.Before(state.cooldownUntil) {
		state.cooldownUntil = now.Add(d.config.CooldownDuration)
	}
}

// RecordSuccess 记录 Key 成功，重置连续故障计数
func (d *DefaultFailureDetector) RecordSuccess(key string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	state := d.getOrCreateState(key)

	state.consecutiveFailures = 0
	state.totalRequests++
	state.lastSuccessTime = d.now()
	state.cooldownUntil = time.Time{}
}

// IsAvailable 检查 Key 是否可用
func (d *DefaultFailureDetector) IsAvailable(key string) bool {
	return d.CooldownRemaining(key) == 0
}

// CooldownRemaining 剩余冷却时间
func (d *DefaultFailureDetector) CooldownRemaining(key string) time.Duration {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	state, exists := d.states[key]
	if !exists {
		return 0
	}

	remaining := state.cooldownUntil.Sub(d.now())
	if remaining <= 0 {
		return 0
	}
	return remaining
}

// Stats 获取 Key 故障统计
func (d *DefaultFailureDetector) Stats(key string) FailureStats {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	stats := FailureStats{
		Key:          MaskKey(key),
		FailureTypes: make(map[FailureType]int64),
	}

	state, exists := d.states[key]
	if !exists {
		return stats
	}

	stats.ConsecutiveFailures = state.consecutiveFailures
	stats.TotalFailures = state.totalFailures
	stats.TotalRequests = state.totalRequests
	stats.LastFailureTime = state.lastFailureTime
	stats.LastSuccessTime = state.lastSuccessTime

	// 计算故障率
	if state.totalRequests > 0 {
		stats.FailureRate = float64(state.totalFailures) / float64(state.totalRequests) * 100
	}

	// 计算恢复时间
	if remaining := state.cooldownUntil.Sub(d.now()); remaining > 0 {
		stats.IsInCooldown = true
		stats.CooldownUntil = state.cooldownUntil
		stats.TimeToRecovery = remaining
	}

	for ft, count := range state.failureTypes {
		stats.FailureTypes[ft] = count
	}

	return stats
}

// Forget 删除 Key 状态
func (d *DefaultFailureDetector) Forget(key string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	delete(d.states, key)
}

// ==================== 私有方法 ====================

func (d *DefaultFailureDetector) getOrCreateState(key string) *keyState {
	state, exists := d.states[key]
	if !exists {
		state = &keyState{
			failureTypes: make(map[FailureType]int64),
		}
		d.states[key] = state
	}
	return state
}

// isTimeoutError 检查是否为超时错误
func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	for _, keyword := range []string{"timeout", "deadline exceeded", "timed out"} {
		if strings.Contains(errMsg, keyword) {
			return true
		}
	}

	return false
}

// isConnectionError 检查是否为连接错误
func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	connectionKeywords := []string{
		"connection refused", "connection reset", "connection aborted",
		"network is unreachable", "host is unreachable",
		"no route to host", "broken pipe", "eof",
	}
	for _, keyword := range connectionKeywords {
		if strings.Contains(errMsg, keyword) {
			return true
		}
	}

	return false
}

// MaskKey Key 脱敏，只保留前 6 位与后 4 位
func MaskKey(key string) string {
	if len(key) <= 10 {
		return strings.Repeat("*", len(key))
	}
	return key[:6] + "..." + key[len(key)-4:]
}
