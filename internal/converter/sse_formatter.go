package converter

import (
	"encoding/json"
	"fmt"
)

// FormatSSEEvent 格式化 Claude SSE 事件
// 生成标准 SSE 格式: event: xxx\ndata: {...}\n\n
func FormatSSEEvent(eventType string, data interface{}) (string, error) {
	// 序列化数据为 JSON
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event data: %w", err)
	}

	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, string(jsonData)), nil
}

// MessageStartEvent 构造 message_start 事件
// 由传输层在喂入第一个 chunk 之前发送，StreamTranslator 本身不会发送
func MessageStartEvent(messageID, model string) (string, error) {
	return FormatSSEEvent(EventTypeMessageStart, ClaudeMessageStart{
		Type: EventTypeMessageStart,
		Message: ClaudeMessageMetadata{
			ID:         messageID,
			Type:       ClaudeTypeMessage,
			Role:       ClaudeRoleAssistant,
			Model:      model,
			Content:    []ClaudeContentBlock{},
			StopReason: nil,
			Usage:      ClaudeUsage{},
		},
	})
}

// ErrorEvent 构造流中途出错时发送的 error 事件
func ErrorEvent(errorType, message string) (string, error) {
	return FormatSSEEvent(EventTypeError, ClaudeErrorResponse{
		Type: EventTypeError,
		Error: ClaudeErrorDetail{
			Type:    errorType,
			Message: message,
		},
	})
}
