package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Mieluoxxx/nova-proxy/internal/balancer"
	"github.com/Mieluoxxx/nova-proxy/internal/converter"
	"github.com/Mieluoxxx/nova-proxy/internal/events"
	"github.com/Mieluoxxx/nova-proxy/internal/models"
	"github.com/Mieluoxxx/nova-proxy/internal/stats"
	"github.com/Mieluoxxx/nova-proxy/internal/tokens"
	"github.com/Mieluoxxx/nova-proxy/internal/upstream"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// maxErrorBodySize 读取上游错误响应体的上限
const maxErrorBodySize = 64 << 10

// MappingTable 提供请求路径上使用的模型映射表
type MappingTable interface {
	Table(ctx context.Context) (map[string]string, error)
}

// ProxyOptions 转换时使用的默认值
type ProxyOptions struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// ProxyHandler 代理请求处理器
// 接收 Claude Messages 请求，转换为 OpenAI Chat Completions 发往上游，再把响应转换回来
type ProxyHandler struct {
	client   *upstream.Client
	mappings MappingTable
	options  ProxyOptions
	counter  *stats.RequestCounter
	events   *events.Service
}

// NewProxyHandler 创建代理处理器
// counter 与 eventService 可以为 nil
func NewProxyHandler(client *upstream.Client, mappings MappingTable, options ProxyOptions, counter *stats.RequestCounter, eventService *events.Service) *ProxyHandler {
	if options.MaxTokens <= 0 {
		options.MaxTokens = converter.DefaultMaxTokens
	}
	return &ProxyHandler{
		client:   client,
		mappings: mappings,
		options:  options,
		counter:  counter,
		events:   eventService,
	}
}

// Messages 处理 Claude Messages API 请求
func (h *ProxyHandler) Messages(c *gin.Context) {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondClaudeError(c, http.StatusBadRequest, ErrorTypeInvalidRequest, "无法读取请求体")
		return
	}

	claudeReq, err := converter.ParseClaudeRequest(bodyBytes)
	if err != nil {
		respondClaudeError(c, http.StatusBadRequest, ErrorTypeInvalidRequest, "无效的 JSON 格式")
		return
	}
	h.applyDefaults(claudeReq)

	openaiReq := converter.ConvertClaudeToOpenAI(claudeReq, h.modelTable(c.Request.Context()), h.options.DefaultModel)

	logger := logrus.WithFields(logrus.Fields{
		"model":  claudeReq.Model,
		"target": openaiReq.Model,
		"stream": openaiReq.Stream,
		"ip":     c.ClientIP(),
	})
	logger.Info("📥 [Messages] 收到请求")

	if openaiReq.Stream && h.counter != nil {
		h.counter.IncrementStreaming()
	}

	resp, result, err := h.client.ChatCompletions(c.Request.Context(), openaiReq)
	h.recordFailover(result)
	if err != nil {
		h.handleUpstreamError(c, logger, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		h.passthroughError(c, logger, resp)
		return
	}

	if openaiReq.Stream {
		h.streamResponse(c, logger, resp, claudeReq, openaiReq.Model)
		return
	}

	h.jsonResponse(c, logger, resp)
}

// MessagesCountTokens 计算 Claude 请求的 token 用量（本地估算）
func (h *ProxyHandler) MessagesCountTokens(c *gin.Context) {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondClaudeError(c, http.StatusBadRequest, ErrorTypeInvalidRequest, "无法读取请求体")
		return
	}

	if len(bodyBytes) == 0 {
		respondClaudeError(c, http.StatusBadRequest, ErrorTypeInvalidRequest, "请求体不能为空")
		return
	}

	claudeReq, err := converter.ParseClaudeRequest(bodyBytes)
	if err != nil {
		respondClaudeError(c, http.StatusBadRequest, ErrorTypeInvalidRequest, "无效的 JSON 格式")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"type": "message",
		"usage": gin.H{
			"input_tokens":                tokens.CountRequest(claudeReq),
			"output_tokens":               0,
			"cache_creation_input_tokens": 0,
			"cache_read_input_tokens":     0,
		},
	})
}

// applyDefaults 请求未指定 max_tokens / temperature 时使用配置中的默认值
func (h *ProxyHandler) applyDefaults(req *converter.ClaudeRequest) {
	if req.MaxTokens == nil {
		req.MaxTokens = converter.IntPtr(h.options.MaxTokens)
	}
	if req.Temperature == nil {
		req.Temperature = converter.Float64Ptr(h.options.Temperature)
	}
}

// modelTable 读取映射表，失败时退化为空表，不影响转发
func (h *ProxyHandler) modelTable(ctx context.Context) map[string]string {
	if h.mappings == nil {
		return nil
	}

	table, err := h.mappings.Table(ctx)
	if err != nil {
		logrus.WithError(err).Warn("⚠️  [Messages] 读取模型映射失败，按原模型名转发")
		return nil
	}
	return table
}

// handleUpstreamError 处理没有拿到上游响应的情况
func (h *ProxyHandler) handleUpstreamError(c *gin.Context, logger *logrus.Entry, err error) {
	switch {
	case errors.Is(err, balancer.ErrNoKeys):
		logger.Error("❌ [Messages] 未配置上游 API Key")
		respondClaudeError(c, http.StatusInternalServerError, ErrorTypeAPI, "未配置上游 API Key，请先在配置中添加 nvidia_keys")
	case errors.Is(err, context.Canceled):
		logger.Info("🔌 [Messages] 客户端已断开，取消上游请求")
	default:
		logger.WithError(err).Error("❌ [Messages] 请求上游失败")
		h.recordUpstreamFailure(err.Error(), 0)
		respondClaudeError(c, http.StatusBadGateway, ErrorTypeAPI, fmt.Sprintf("请求上游失败: %v", err))
	}
}

// passthroughError 以上游状态码返回 Claude 格式的错误
func (h *ProxyHandler) passthroughError(c *gin.Context, logger *logrus.Entry, resp *http.Response) {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	message := upstream.ErrorMessage(body)
	if message == "" {
		message = fmt.Sprintf("上游返回错误状态: %d", resp.StatusCode)
	}

	logger.WithFields(logrus.Fields{
		"status": resp.StatusCode,
		"error":  message,
	}).Warn("⚠️  [Messages] 上游返回错误响应")
	h.recordUpstreamFailure(message, resp.StatusCode)

	respondClaudeError(c, resp.StatusCode, claudeErrorType(resp.StatusCode), message)
}

// jsonResponse 非流式响应：解析一次，转换后返回
func (h *ProxyHandler) jsonResponse(c *gin.Context, logger *logrus.Entry, resp *http.Response) {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.WithError(err).Error("❌ [响应失败] 读取上游响应体失败")
		respondClaudeError(c, http.StatusBadGateway, ErrorTypeAPI, "读取上游响应失败")
		return
	}

	var openaiResp converter.OpenAIResponse
	if err := json.Unmarshal(respBody, &openaiResp); err != nil {
		logger.WithError(err).WithField("preview", upstream.ErrorMessage(respBody)).Error("❌ [解析失败] 上游响应不是合法 JSON")
		respondClaudeError(c, http.StatusBadGateway, ErrorTypeAPI, "解析上游响应失败")
		return
	}

	claudeResp, err := converter.ConvertOpenAIToClaude(&openaiResp)
	if err != nil {
		logger.WithError(err).Error("❌ [转换失败] OpenAI→Claude")
		respondClaudeError(c, http.StatusBadGateway, ErrorTypeAPI, err.Error())
		return
	}

	if h.counter != nil {
		h.counter.AddTokens(claudeResp.Usage.InputTokens, claudeResp.Usage.OutputTokens)
	}

	c.JSON(http.StatusOK, claudeResp)
	logger.WithFields(logrus.Fields{
		"input_tokens":  claudeResp.Usage.InputTokens,
		"output_tokens": claudeResp.Usage.OutputTokens,
		"blocks":        len(claudeResp.Content),
	}).Info("✅ [完成] 非流式响应转换成功")
}

// streamResponse 流式响应：每个连接一个 StreamTranslator，边读边写边 flush
func (h *ProxyHandler) streamResponse(c *gin.Context, logger *logrus.Entry, resp *http.Response, claudeReq *converter.ClaudeRequest, model string) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		logger.Error("❌ [流式转发失败] ResponseWriter 不支持流式传输")
		respondClaudeError(c, http.StatusInternalServerError, ErrorTypeAPI, "不支持流式传输")
		return
	}

	ctx := c.Request.Context()
	translator := converter.NewStreamTranslator(model)
	convertedReader := converter.ConvertStream(ctx, resp.Body, translator, converter.NewMessageID())
	// 提前返回时关闭管道，让转换协程退出
	defer convertedReader.Close()

	c.Header("Content-Type", "text/event-stream; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	flusher.Flush()

	startTime := time.Now()
	buffer := make([]byte, 4096)
	totalBytes := 0
	for {
		n, readErr := convertedReader.Read(buffer)
		if n > 0 {
			totalBytes += n
			if _, writeErr := c.Writer.Write(buffer[:n]); writeErr != nil {
				logger.WithError(writeErr).Warn("⚠️  [流式转发] 写入客户端失败")
				return
			}
			flusher.Flush()
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				logger.Info("🔌 [流式转发] 客户端已断开")
				return
			}
			logger.WithError(readErr).Error("❌ [流式转发] 上游流中断")
			h.events.Record(models.EventTypeStreamError, models.EventLevelError, "上游流中断: "+readErr.Error(), map[string]interface{}{
				"model": model,
				"bytes": totalBytes,
			})
			return
		}
	}

	if h.counter != nil {
		h.counter.AddTokens(tokens.CountRequest(claudeReq), translator.OutputTokens())
	}

	logger.WithFields(logrus.Fields{
		"bytes":    totalBytes,
		"duration": time.Since(startTime).String(),
	}).Info("✅ [完成] 流式响应转换完成")
}

// recordFailover 有失败尝试时记录一次故障转移事件
func (h *ProxyHandler) recordFailover(result *balancer.FailoverResult) {
	if result == nil || len(result.FailedAttempts) == 0 {
		return
	}

	attempts := make([]map[string]interface{}, 0, len(result.FailedAttempts))
	for _, attempt := range result.FailedAttempts {
		entry := map[string]interface{}{
			"key":          attempt.Key,
			"failure_type": string(attempt.FailureType),
			"status_code":  attempt.StatusCode,
		}
		if attempt.Error != nil {
			entry["error"] = attempt.Error.Error()
		}
		attempts = append(attempts, entry)
	}

	message := fmt.Sprintf("%d 个 Key 请求失败，共尝试 %d 次", len(result.FailedAttempts), result.AttemptCount)
	if result.Key != "" {
		message += "，最终使用 " + result.Key
	}

	logrus.WithField("attempts", result.AttemptCount).Warn("🔁 [故障转移] " + message)
	h.events.Record(models.EventTypeFailover, models.EventLevelWarning, message, map[string]interface{}{
		"attempts": attempts,
	})
}

func (h *ProxyHandler) recordUpstreamFailure(message string, status int) {
	if h.counter != nil {
		h.counter.RecordUpstreamFailure()
	}
	h.events.Record(models.EventTypeUpstreamError, models.EventLevelError, message, map[string]interface{}{
		"status_code": status,
		"url":         h.client.URL(),
	})
}
