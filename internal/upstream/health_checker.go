package upstream

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HealthChecker 上游健康检查器
type HealthChecker struct {
	client  *http.Client
	timeout time.Duration
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout == 0 {
		timeout = 5 * time.Second // 默认 5 秒超时
	}

	return &HealthChecker{
		client: &http.Client{
			Timeout: timeout,
		},
		timeout: timeout,
	}
}

// HealthCheckResult 健康检查结果
type HealthCheckResult struct {
	Healthy        bool      `json:"healthy"`
	URL            string    `json:"url"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	StatusCode     int       `json:"status_code,omitempty"`
	Error          string    `json:"error,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
}

// ModelsURL 由 Chat Completions 地址推导出 models 列表地址
// https://host/v1/chat/completions -> https://host/v1/models
func ModelsURL(chatURL string) string {
	base := strings.TrimSuffix(chatURL, "/")
	base = strings.TrimSuffix(base, "/chat/completions")
	return base + "/models"
}

// Check 通过 GET <base>/models 验证上游与 Key 可用
// 网络错误不作为 error 返回，而是记录在结果里
func (hc *HealthChecker) Check(ctx context.Context, chatURL, apiKey string) *HealthCheckResult {
	startTime := time.Now()
	result := &HealthCheckResult{
		URL:       ModelsURL(chatURL),
		CheckedAt: startTime,
	}

	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, result.URL, nil)
	if err != nil {
		result.Error = fmt.Sprintf("创建请求失败: %v", err)
		return result
	}

	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := hc.client.Do(req)
	result.ResponseTimeMs = time.Since(startTime).Milliseconds()
	if err != nil {
		result.Error = fmt.Sprintf("请求失败: %v", err)
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode

	// 2xx 状态码视为健康
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result.Healthy = true
	} else {
		result.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}

	return result
}
