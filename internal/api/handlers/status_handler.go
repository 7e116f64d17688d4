package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/Mieluoxxx/nova-proxy/internal/balancer"
	"github.com/Mieluoxxx/nova-proxy/internal/events"
	"github.com/Mieluoxxx/nova-proxy/internal/models"
	"github.com/Mieluoxxx/nova-proxy/internal/stats"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ServiceName 服务名
const ServiceName = "nova-proxy"

const recentEventLimit = 10

// StatusHandler 状态信息处理器
type StatusHandler struct {
	version        string
	upstreamURL    string
	defaultModel   string
	pool           *balancer.KeyPool
	mappings       MappingTable
	requestCounter *stats.RequestCounter
	eventService   *events.Service
	startedAt      time.Time
}

// NewStatusHandler 创建状态处理器
func NewStatusHandler(version, upstreamURL, defaultModel string, pool *balancer.KeyPool, mappings MappingTable, requestCounter *stats.RequestCounter, eventService *events.Service) *StatusHandler {
	return &StatusHandler{
		version:        version,
		upstreamURL:    upstreamURL,
		defaultModel:   defaultModel,
		pool:           pool,
		mappings:       mappings,
		requestCounter: requestCounter,
		eventService:   eventService,
		startedAt:      time.Now(),
	}
}

// SystemStatus 系统状态响应
// Key 只以脱敏形式出现
type SystemStatus struct {
	Service      string             `json:"service"`
	Version      string             `json:"version"`
	Uptime       string             `json:"uptime"`
	UpstreamURL  string             `json:"upstream_url"`
	DefaultModel string             `json:"default_model"`
	KeyCount     int                `json:"key_count"`
	Keys         balancer.PoolStats `json:"keys"`
	ModelMap     map[string]string  `json:"model_map"`
	Requests     stats.RequestStats `json:"requests"`
	RecentEvents []Event            `json:"recent_events"`
}

// Event 事件日志
type Event struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// Health 存活检查
// GET /health
func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": ServiceName,
	})
}

// GetStatus 获取运行状态
// GET /status?event_type=failover&event_level=warning
func (h *StatusHandler) GetStatus(c *gin.Context) {
	poolStats := h.pool.Stats()

	status := SystemStatus{
		Service:      ServiceName,
		Version:      h.version,
		Uptime:       time.Since(h.startedAt).Round(time.Second).String(),
		UpstreamURL:  h.upstreamURL,
		DefaultModel: h.defaultModel,
		KeyCount:     poolStats.KeyCount,
		Keys:         poolStats,
		ModelMap:     h.modelMap(c.Request.Context()),
		RecentEvents: h.recentEvents(c.Query("event_type"), c.Query("event_level")),
	}
	if h.requestCounter != nil {
		status.Requests = h.requestCounter.GetStats()
	}

	c.JSON(http.StatusOK, status)
}

func (h *StatusHandler) modelMap(ctx context.Context) map[string]string {
	if h.mappings == nil {
		return map[string]string{}
	}
	table, err := h.mappings.Table(ctx)
	if err != nil {
		logrus.WithError(err).Warn("⚠️  [状态] 读取模型映射失败")
		return map[string]string{}
	}
	return table
}

// recentEvents 最近事件（最多 10 条），可按类型和级别过滤
func (h *StatusHandler) recentEvents(eventType, level string) []Event {
	recentEvents := make([]Event, 0)
	if h.eventService == nil {
		return recentEvents
	}

	var (
		data []models.SystemEvent
		err  error
	)
	switch {
	case eventType != "":
		data, err = h.eventService.GetEventsByType(eventType, recentEventLimit)
	case level != "":
		data, err = h.eventService.GetEventsByLevel(level, recentEventLimit)
	default:
		data, err = h.eventService.GetRecentEvents(recentEventLimit)
	}
	if err != nil {
		logrus.WithError(err).Warn("⚠️  [状态] 读取事件失败")
		return recentEvents
	}

	for _, evt := range data {
		// 同时指定类型和级别时，级别在内存中过滤
		if level != "" && evt.Level != level {
			continue
		}
		recentEvents = append(recentEvents, Event{
			Timestamp: evt.CreatedAt.Format(time.RFC3339),
			Type:      evt.Type,
			Level:     evt.Level,
			Message:   evt.Message,
		})
	}
	return recentEvents
}
