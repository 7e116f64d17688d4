package converter

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Claude Types - Claude Messages API 请求和响应类型定义

// ClaudeRequest Claude Messages API 请求
// 可选字段使用指针，缺省时由转换器填充默认值
type ClaudeRequest struct {
	Model         string            `json:"model"`
	System        SystemPrompt      `json:"system,omitempty"`
	Messages      []ClaudeMessage   `json:"messages"`
	MaxTokens     *int              `json:"max_tokens,omitempty"`
	Temperature   *float64          `json:"temperature,omitempty"`
	TopP          *float64          `json:"top_p,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
	StopSequences []string          `json:"stop_sequences,omitempty"`
	Tools         []ClaudeTool      `json:"tools,omitempty"`
	ToolChoice    *ClaudeToolChoice `json:"tool_choice,omitempty"`
}

// ParseClaudeRequest 宽松解析 Claude 请求
// 只有请求体不是 JSON 对象时才返回错误；字段类型不匹配时跳过该字段
func ParseClaudeRequest(body []byte) (*ClaudeRequest, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, NewConversionError("request", "请求体必须是 JSON 对象", ErrInvalidRequestBody)
	}

	var req ClaudeRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		// encoding/json 遇到类型不匹配会跳过该字段并继续解析，这里按尽力而为处理
		var typeErr *json.UnmarshalTypeError
		if !asUnmarshalTypeError(err, &typeErr) {
			return nil, NewConversionError("request", "请求体解析失败", err)
		}
	}

	return &req, nil
}

// SystemPrompt system 字段，可以是字符串或 text 块数组
type SystemPrompt struct {
	Text   string
	Blocks []ClaudeContentBlock
}

// UnmarshalJSON 支持字符串与块数组两种形式，其他形式视为空
func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	*s = SystemPrompt{}

	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		s.Text = text
		return nil
	}

	s.Blocks = decodeBlocks(data)
	return nil
}

// MarshalJSON 按原始形式输出
func (s SystemPrompt) MarshalJSON() ([]byte, error) {
	if len(s.Blocks) > 0 {
		return json.Marshal(s.Blocks)
	}
	return json.Marshal(s.Text)
}

// Flatten 展平为纯文本，块数组中的 text 块以换行拼接
func (s SystemPrompt) Flatten() string {
	if len(s.Blocks) == 0 {
		return s.Text
	}

	parts := make([]string, 0, len(s.Blocks))
	for _, block := range s.Blocks {
		if block.Type != ContentTypeText {
			continue
		}
		if block.Text != nil {
			parts = append(parts, *block.Text)
		} else {
			parts = append(parts, "")
		}
	}
	return strings.Join(parts, "\n")
}

// ClaudeMessage Claude 消息
type ClaudeMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent 消息内容，字符串或内容块数组
type MessageContent struct {
	Text   *string
	Blocks []ClaudeContentBlock
}

// TextContent 构造字符串形式的内容
func TextContent(text string) MessageContent {
	return MessageContent{Text: &text}
}

// BlockContent 构造块数组形式的内容
func BlockContent(blocks ...ClaudeContentBlock) MessageContent {
	return MessageContent{Blocks: blocks}
}

// UnmarshalJSON 字符串、块数组、单个块对象都可以接受
func (m *MessageContent) UnmarshalJSON(data []byte) error {
	*m = MessageContent{}

	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		m.Text = &text
		return nil
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var block ClaudeContentBlock
		if err := json.Unmarshal(trimmed, &block); err == nil {
			m.Blocks = []ClaudeContentBlock{block}
		}
		return nil
	}

	m.Blocks = decodeBlocks(data)
	return nil
}

// MarshalJSON 按原始形式输出
func (m MessageContent) MarshalJSON() ([]byte, error) {
	if m.Text != nil {
		return json.Marshal(*m.Text)
	}
	if m.Blocks == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(m.Blocks)
}

// ClaudeContentBlock Claude 内容块
// 支持多种类型: text, image, tool_use, tool_result
type ClaudeContentBlock struct {
	Type string `json:"type"`

	// text 类型
	Text *string `json:"text,omitempty"`

	// image 类型
	Source *ClaudeImageSource `json:"source,omitempty"`

	// tool_use 类型
	ID    *string         `json:"id,omitempty"`
	Name  *string         `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result 类型，content 可以是字符串或块数组
	ToolUseID *string         `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// ClaudeImageSource 图片来源
type ClaudeImageSource struct {
	Type      string `json:"type"`       // base64 | url
	MediaType string `json:"media_type"` // image/jpeg, image/png, etc.
	Data      string `json:"data"`       // base64 string
	URL       string `json:"url,omitempty"`
}

// ClaudeTool Claude 工具定义
type ClaudeTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ClaudeToolChoice Claude 工具选择
type ClaudeToolChoice struct {
	Type string  `json:"type"` // auto | any | tool | none
	Name *string `json:"name,omitempty"`
}

// ClaudeResponse Claude Messages API 非流式响应
type ClaudeResponse struct {
	ID           string               `json:"id"`
	Type         string               `json:"type"`
	Role         string               `json:"role"`
	Model        string               `json:"model"`
	Content      []ClaudeContentBlock `json:"content"`
	StopReason   string               `json:"stop_reason"`
	StopSequence *string              `json:"stop_sequence"`
	Usage        ClaudeUsage          `json:"usage"`
}

// ClaudeUsage token 用量
type ClaudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ClaudeErrorResponse Claude 错误响应
type ClaudeErrorResponse struct {
	Type  string            `json:"type"`
	Error ClaudeErrorDetail `json:"error"`
}

// ClaudeErrorDetail 错误详情
type ClaudeErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Claude Stream Types - 流式事件负载

// ClaudeMessageStart message_start 事件
type ClaudeMessageStart struct {
	Type    string                `json:"type"`
	Message ClaudeMessageMetadata `json:"message"`
}

// ClaudeMessageMetadata message_start 中携带的消息骨架
type ClaudeMessageMetadata struct {
	ID           string               `json:"id"`
	Type         string               `json:"type"`
	Role         string               `json:"role"`
	Model        string               `json:"model"`
	Content      []ClaudeContentBlock `json:"content"`
	StopReason   *string              `json:"stop_reason"`
	StopSequence *string              `json:"stop_sequence"`
	Usage        ClaudeUsage          `json:"usage"`
}

// ClaudeContentBlockStart content_block_start 事件
type ClaudeContentBlockStart struct {
	Type         string             `json:"type"`
	Index        int                `json:"index"`
	ContentBlock ClaudeContentBlock `json:"content_block"`
}

// ClaudeContentBlockDelta content_block_delta 事件
type ClaudeContentBlockDelta struct {
	Type  string      `json:"type"`
	Index int         `json:"index"`
	Delta ClaudeDelta `json:"delta"`
}

// ClaudeDelta 增量内容
type ClaudeDelta struct {
	Type        string `json:"type"` // text_delta | input_json_delta
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// ClaudeContentBlockStop content_block_stop 事件
type ClaudeContentBlockStop struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// ClaudeMessageDelta message_delta 事件
type ClaudeMessageDelta struct {
	Type  string                 `json:"type"`
	Delta ClaudeMessageDeltaData `json:"delta"`
	Usage ClaudeDeltaUsage       `json:"usage"`
}

// ClaudeMessageDeltaData message_delta 中的 delta
type ClaudeMessageDeltaData struct {
	StopReason   *string `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

// ClaudeDeltaUsage message_delta 中的用量，只携带输出 token
type ClaudeDeltaUsage struct {
	OutputTokens int `json:"output_tokens"`
}

// ClaudeMessageStop message_stop 事件
type ClaudeMessageStop struct {
	Type string `json:"type"`
}

// OpenAI Types - OpenAI Chat Completions API 请求和响应类型定义

// OpenAIRequest OpenAI Chat Completions API 请求
type OpenAIRequest struct {
	Model       string          `json:"model"`
	Messages    []OpenAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stream      bool            `json:"stream"`
	Stop        []string        `json:"stop,omitempty"`
	Tools       []OpenAITool    `json:"tools,omitempty"`
	ToolChoice  interface{}     `json:"tool_choice,omitempty"` // string or object
}

// OpenAIMessage OpenAI 消息
// Content 为 string、[]OpenAIContentBlock 或 nil（携带 tool_calls 的 assistant 消息）
type OpenAIMessage struct {
	Role       string           `json:"role"`
	Content    interface{}      `json:"content"`
	ToolCalls  []OpenAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"` // for tool role
}

// OpenAIContentBlock OpenAI 内容块
type OpenAIContentBlock struct {
	Type     string          `json:"type"`
	Text     *string         `json:"text,omitempty"`
	ImageURL *OpenAIImageURL `json:"image_url,omitempty"`
}

// OpenAIImageURL 图片 URL
type OpenAIImageURL struct {
	URL string `json:"url"` // data URI or HTTP URL
}

// OpenAIToolCall OpenAI 工具调用
type OpenAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"` // always "function"
	Function OpenAIFunctionCall `json:"function"`
}

// OpenAIFunctionCall OpenAI 函数调用
type OpenAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

// OpenAITool OpenAI 工具定义
type OpenAITool struct {
	Type     string            `json:"type"` // always "function"
	Function OpenAIFunctionDef `json:"function"`
}

// OpenAIFunctionDef OpenAI 函数定义
type OpenAIFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// OpenAIResponse OpenAI Chat Completions 非流式响应
type OpenAIResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   *OpenAIUsage   `json:"usage,omitempty"`
}

// OpenAIChoice 响应中的候选
type OpenAIChoice struct {
	Index        int                   `json:"index"`
	Message      OpenAIResponseMessage `json:"message"`
	FinishReason string                `json:"finish_reason"`
}

// OpenAIResponseMessage 响应消息
// 部分上游会把 arguments 直接返回为对象，这里保留原始 JSON
type OpenAIResponseMessage struct {
	Role      string                   `json:"role"`
	Content   interface{}              `json:"content"`
	ToolCalls []OpenAIResponseToolCall `json:"tool_calls,omitempty"`
}

// OpenAIResponseToolCall 响应中的工具调用
type OpenAIResponseToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// OpenAIUsage token 用量
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Helper functions

// StringPtr 返回字符串指针
func StringPtr(s string) *string {
	return &s
}

// Float64Ptr 返回 float64 指针
func Float64Ptr(f float64) *float64 {
	return &f
}

// IntPtr 返回 int 指针
func IntPtr(i int) *int {
	return &i
}

// decodeBlocks 逐个解析块数组，无法解析的元素直接跳过
func decodeBlocks(data []byte) []ClaudeContentBlock {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}

	blocks := make([]ClaudeContentBlock, 0, len(raw))
	for _, item := range raw {
		var block ClaudeContentBlock
		if err := json.Unmarshal(item, &block); err != nil {
			continue
		}
		blocks = append(blocks, block)
	}
	return blocks
}
