package handlers

import (
	"errors"
	"net/http"

	"github.com/Mieluoxxx/nova-proxy/internal/events"
	"github.com/Mieluoxxx/nova-proxy/internal/mapping"
	"github.com/Mieluoxxx/nova-proxy/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// MappingHandler 映射处理器
type MappingHandler struct {
	service *mapping.Service
	events  *events.Service
}

// NewMappingHandler 创建映射处理器实例
func NewMappingHandler(service *mapping.Service, eventService *events.Service) *MappingHandler {
	return &MappingHandler{service: service, events: eventService}
}

// ListMappings 查询所有映射
// GET /api/mappings
func (h *MappingHandler) ListMappings(c *gin.Context) {
	mappings, err := h.service.List(c.Request.Context())
	if err != nil {
		c.JSON(h.handleMappingError(err), ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"mappings": mappings})
}

// GetMapping 根据源模型获取映射
// GET /api/mappings/:source
func (h *MappingHandler) GetMapping(c *gin.Context) {
	result, err := h.service.Get(c.Request.Context(), c.Param("source"))
	if err != nil {
		c.JSON(h.handleMappingError(err), ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// UpsertMapping 创建或更新映射
// PUT /api/mappings/:source
func (h *MappingHandler) UpsertMapping(c *gin.Context) {
	var req mapping.UpsertMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	result, err := h.service.Upsert(c.Request.Context(), c.Param("source"), req.TargetModel, models.MappingOriginAPI)
	if err != nil {
		c.JSON(h.handleMappingError(err), ErrorResponse{Error: err.Error()})
		return
	}

	logrus.WithFields(logrus.Fields{
		"source": result.SourceModel,
		"target": result.TargetModel,
	}).Info("🗺️  [映射] 已更新模型映射")
	h.events.Record(models.EventTypeMappingChange, models.EventLevelInfo,
		"映射 "+result.SourceModel+" -> "+result.TargetModel, nil)

	c.JSON(http.StatusOK, result)
}

// DeleteMapping 删除映射
// DELETE /api/mappings/:source
func (h *MappingHandler) DeleteMapping(c *gin.Context) {
	source := c.Param("source")
	if err := h.service.Delete(c.Request.Context(), source); err != nil {
		c.JSON(h.handleMappingError(err), ErrorResponse{Error: err.Error()})
		return
	}

	logrus.WithField("source", source).Info("🗺️  [映射] 已删除模型映射")
	h.events.Record(models.EventTypeMappingChange, models.EventLevelInfo, "删除映射 "+source, nil)

	c.Status(http.StatusNoContent)
}

// handleMappingError 处理映射相关的错误并返回对应的 HTTP 状态码
func (h *MappingHandler) handleMappingError(err error) int {
	switch {
	case errors.Is(err, mapping.ErrMappingNotFound):
		return http.StatusNotFound
	case errors.Is(err, mapping.ErrModelNameEmpty),
		errors.Is(err, mapping.ErrModelNameTooLong),
		errors.Is(err, mapping.ErrInvalidModelName):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
