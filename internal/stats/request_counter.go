package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// RequestCounter 请求计数器
// 使用内存计数器 + 时间窗口滑动统计实现
type RequestCounter struct {
	totalRequests     int64 // 总请求数（原子操作）
	streamingRequests int64 // 流式请求数
	upstreamFailures  int64 // 上游失败次数（所有 Key 都失败或上游返回错误）
	inputTokens       int64 // 累计输入 token
	outputTokens      int64 // 累计输出 token

	// 时间窗口统计（用于 QPS 计算）
	windowMutex    sync.RWMutex
	currentWindow  *timeWindow
	previousWindow *timeWindow
	windowDuration time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// timeWindow 时间窗口
type timeWindow struct {
	count     int64
	startTime time.Time
}

// NewRequestCounter 创建请求计数器
func NewRequestCounter(windowDuration time.Duration) *RequestCounter {
	if windowDuration == 0 {
		windowDuration = 60 * time.Second // 默认 60 秒窗口
	}

	counter := &RequestCounter{
		windowDuration: windowDuration,
		currentWindow: &timeWindow{
			startTime: time.Now(),
		},
		previousWindow: &timeWindow{
			startTime: time.Now().Add(-windowDuration),
		},
		stop: make(chan struct{}),
	}

	// 启动后台协程，定期滚动时间窗口
	go counter.rotateWindows()

	return counter
}

// Increment 增加请求计数
func (rc *RequestCounter) Increment() {
	atomic.AddInt64(&rc.totalRequests, 1)

	rc.windowMutex.Lock()
	rc.currentWindow.count++
	rc.windowMutex.Unlock()
}

// IncrementStreaming 记录一次流式请求
func (rc *RequestCounter) IncrementStreaming() {
	atomic.AddInt64(&rc.streamingRequests, 1)
}

// RecordUpstreamFailure 记录一次上游失败
func (rc *RequestCounter) RecordUpstreamFailure() {
	atomic.AddInt64(&rc.upstreamFailures, 1)
}

// AddTokens 累加 token 用量
func (rc *RequestCounter) AddTokens(input, output int) {
	if input > 0 {
		atomic.AddInt64(&rc.inputTokens, int64(input))
	}
	if output > 0 {
		atomic.AddInt64(&rc.outputTokens, int64(output))
	}
}

// GetTotal 获取总请求数
func (rc *RequestCounter) GetTotal() int64 {
	return atomic.LoadInt64(&rc.totalRequests)
}

// GetQPS 获取当前 QPS（每秒请求数）
// 基于滑动时间窗口计算
func (rc *RequestCounter) GetQPS() float64 {
	rc.windowMutex.RLock()
	defer rc.windowMutex.RUnlock()

	now := time.Now()

	currentElapsed := now.Sub(rc.currentWindow.startTime).Seconds()
	if currentElapsed == 0 {
		currentElapsed = 1 // 避免除零
	}

	currentQPS := float64(rc.currentWindow.count) / currentElapsed

	// 如果当前窗口时间很短，结合上一个窗口的数据
	if currentElapsed < rc.windowDuration.Seconds() {
		prevWeight := (rc.windowDuration.Seconds() - currentElapsed) / rc.windowDuration.Seconds()
		prevQPS := float64(rc.previousWindow.count) / rc.windowDuration.Seconds()

		return currentQPS*(1-prevWeight) + prevQPS*prevWeight
	}

	return currentQPS
}

// Close 停止窗口滚动协程
func (rc *RequestCounter) Close() {
	rc.stopOnce.Do(func() { close(rc.stop) })
}

// rotateWindows 定期滚动时间窗口
func (rc *RequestCounter) rotateWindows() {
	ticker := time.NewTicker(rc.windowDuration)
	defer ticker.Stop()

	for {
		select {
		case <-rc.stop:
			return
		case <-ticker.C:
		}

		rc.windowMutex.Lock()
		rc.previousWindow = rc.currentWindow
		rc.currentWindow = &timeWindow{
			startTime: time.Now(),
		}
		rc.windowMutex.Unlock()
	}
}

// GetStats 获取统计信息
func (rc *RequestCounter) GetStats() RequestStats {
	return RequestStats{
		Total:            rc.GetTotal(),
		Streaming:        atomic.LoadInt64(&rc.streamingRequests),
		UpstreamFailures: atomic.LoadInt64(&rc.upstreamFailures),
		InputTokens:      atomic.LoadInt64(&rc.inputTokens),
		OutputTokens:     atomic.LoadInt64(&rc.outputTokens),
		CurrentQPS:       rc.GetQPS(),
	}
}

// RequestStats 请求统计信息
type RequestStats struct {
	Total            int64   `json:"total"`
	Streaming        int64   `json:"streaming"`
	UpstreamFailures int64   `json:"upstream_failures"`
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	CurrentQPS       float64 `json:"current_qps"`
}
