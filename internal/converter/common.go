package converter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ========================
// 默认值
// ========================

const (
	// DefaultMaxTokens 请求未携带 max_tokens 时使用的值
	DefaultMaxTokens = 4096
	// DefaultTemperature 请求未携带 temperature 时使用的值
	DefaultTemperature = 0.7
)

// ========================
// ID 生成
// ========================

// NewMessageID 生成 Claude 消息 ID: msg_<32位hex>
func NewMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewToolUseID 生成 Claude tool_use ID: toolu_<24位hex>
func NewToolUseID() string {
	return "toolu_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// ========================
// 停止原因转换
// ========================

// ConvertFinishReasonToStopReason 转换 OpenAI finish_reason 为 Claude stop_reason
func ConvertFinishReasonToStopReason(finishReason string) string {
	switch finishReason {
	case "stop":
		return StopReasonEndTurn
	case "length":
		return StopReasonMaxTokens
	case "tool_calls":
		return StopReasonToolUse
	default:
		return StopReasonEndTurn
	}
}

// ========================
// 文本内容提取
// ========================

// ExtractTextFromContent 从 any 类型的 content 中提取文本
// 支持 string 或 []any 类型
func ExtractTextFromContent(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		// 提取所有文本块并合并
		var texts []string
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				if m["type"] == "text" {
					if text, ok := m["text"].(string); ok {
						texts = append(texts, text)
					}
				}
			}
		}
		return strings.Join(texts, "")
	default:
		return ""
	}
}

// StringifyToolResult 把 tool_result 的 content 转成字符串
// 字符串原样返回；块数组取 text 块以换行拼接；null 或缺省返回空串；其余返回紧凑 JSON
func StringifyToolResult(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw)
	}

	switch v := decoded.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		var texts []string
		for _, item := range v {
			switch part := item.(type) {
			case string:
				texts = append(texts, part)
			case map[string]any:
				if part["type"] == ContentTypeText {
					if text, ok := part["text"].(string); ok {
						texts = append(texts, text)
					}
				}
			}
		}
		if len(texts) > 0 {
			return strings.Join(texts, "\n")
		}
	}

	compact, err := json.Marshal(decoded)
	if err != nil {
		return string(raw)
	}
	return string(compact)
}

// ========================
// 错误处理工具
// ========================

var (
	// ErrInvalidRequestBody 请求体不是 JSON 对象
	ErrInvalidRequestBody = errors.New("request body is not a JSON object")
	// ErrNoChoices 上游响应缺少 choices
	ErrNoChoices = errors.New("upstream response has no choices")
	// ErrInvalidToolArguments tool_call 的 arguments 不是合法 JSON
	ErrInvalidToolArguments = errors.New("tool call arguments are not valid JSON")
)

// ConversionError 转换错误类型
type ConversionError struct {
	Stage   string // 转换阶段：request, response, streaming
	Message string
	Err     error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("转换失败 [%s]: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("转换失败 [%s]: %s", e.Stage, e.Message)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// NewConversionError 创建转换错误
func NewConversionError(stage, message string, err error) error {
	return &ConversionError{
		Stage:   stage,
		Message: message,
		Err:     err,
	}
}

func asUnmarshalTypeError(err error, target **json.UnmarshalTypeError) bool {
	return errors.As(err, target)
}

// ========================
// 常量定义
// ========================

const (
	OpenAIToolTypeFunction = "function"

	// OpenAI 角色
	OpenAIRoleSystem    = "system"
	OpenAIRoleAssistant = "assistant"
	OpenAIRoleTool      = "tool"

	// Claude 相关常量
	ClaudeTypeMessage   = "message"
	ClaudeRoleAssistant = "assistant"
	ClaudeRoleUser      = "user"

	// Content Block Types
	ContentTypeText       = "text"
	ContentTypeImage      = "image"
	ContentTypeToolUse    = "tool_use"
	ContentTypeToolResult = "tool_result"
	ContentTypeImageURL   = "image_url"

	// Claude Stream Event Types
	EventTypeMessageStart      = "message_start"
	EventTypeContentBlockStart = "content_block_start"
	EventTypeContentBlockDelta = "content_block_delta"
	EventTypeContentBlockStop  = "content_block_stop"
	EventTypeMessageDelta      = "message_delta"
	EventTypeMessageStop       = "message_stop"
	EventTypeError             = "error"

	// Delta Types
	DeltaTypeTextDelta      = "text_delta"
	DeltaTypeInputJSONDelta = "input_json_delta"

	// Stop Reasons
	StopReasonEndTurn   = "end_turn"
	StopReasonMaxTokens = "max_tokens"
	StopReasonToolUse   = "tool_use"
)
