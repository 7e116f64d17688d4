package handlers

import (
	"fmt"
	"net/http"

	"github.com/Mieluoxxx/nova-proxy/internal/balancer"
	"github.com/Mieluoxxx/nova-proxy/internal/config"
	"github.com/Mieluoxxx/nova-proxy/internal/events"
	"github.com/Mieluoxxx/nova-proxy/internal/models"
	"github.com/Mieluoxxx/nova-proxy/internal/upstream"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// UpstreamHandler 上游管理处理器
type UpstreamHandler struct {
	cfg     *config.Config
	pool    *balancer.KeyPool
	checker *upstream.HealthChecker
	events  *events.Service
}

// NewUpstreamHandler 创建上游管理处理器
func NewUpstreamHandler(cfg *config.Config, pool *balancer.KeyPool, checker *upstream.HealthChecker, eventService *events.Service) *UpstreamHandler {
	return &UpstreamHandler{
		cfg:     cfg,
		pool:    pool,
		checker: checker,
		events:  eventService,
	}
}

// UpdateKeysRequest 更新 Key 列表请求
type UpdateKeysRequest struct {
	Keys []string `json:"nvidia_keys" binding:"required"`
}

// HealthCheck 用下一个可用 Key 探测上游 models 接口
// GET /api/upstream/health
func (h *UpstreamHandler) HealthCheck(c *gin.Context) {
	key, err := h.pool.Next()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "未配置上游 API Key"})
		return
	}

	result := h.checker.Check(c.Request.Context(), h.cfg.UpstreamURL, key)

	level := models.EventLevelInfo
	message := fmt.Sprintf("上游健康检查通过 (%dms)", result.ResponseTimeMs)
	if !result.Healthy {
		level = models.EventLevelWarning
		message = "上游健康检查失败: " + result.Error
	}
	h.events.Record(models.EventTypeHealthCheck, level, message, map[string]interface{}{
		"url":         result.URL,
		"status_code": result.StatusCode,
		"key":         balancer.MaskKey(key),
	})

	status := http.StatusOK
	if !result.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, result)
}

// UpdateKeys 替换上游 Key 列表，写回配置文件并立即生效
// PUT /api/upstream/keys
func (h *UpstreamHandler) UpdateKeys(c *gin.Context) {
	var req UpdateKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	keys := config.CleanKeys(req.Keys)
	if err := h.cfg.UpdateKeys(keys); err != nil {
		logrus.WithError(err).Error("❌ [配置] 保存 Key 列表失败")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	h.pool.SetKeys(keys)

	logrus.WithField("count", len(keys)).Info("🔑 [配置] 已更新上游 Key 列表")
	h.events.Record(models.EventTypeConfigChange, models.EventLevelInfo,
		fmt.Sprintf("上游 Key 列表已更新，共 %d 个", len(keys)), nil)

	masked := make([]string, 0, len(keys))
	for _, key := range keys {
		masked = append(masked, balancer.MaskKey(key))
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"key_count": len(keys),
		"keys":      masked,
	})
}
