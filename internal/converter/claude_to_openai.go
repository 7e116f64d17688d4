package converter

import (
	"encoding/json"
	"fmt"
)

// ConvertClaudeToOpenAI 将 Claude Messages API 请求转换为 OpenAI Chat Completions API 请求
// 纯函数且不会失败：缺省或格式不对的可选字段一律使用默认值
func ConvertClaudeToOpenAI(req *ClaudeRequest, modelMapping map[string]string, defaultModel string) *OpenAIRequest {
	if req == nil {
		req = &ClaudeRequest{}
	}

	openaiReq := &OpenAIRequest{
		Model:       resolveModel(req.Model, modelMapping, defaultModel),
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
		Stop:        req.StopSequences,
	}
	if req.MaxTokens != nil {
		openaiReq.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		openaiReq.Temperature = *req.Temperature
	}

	openaiReq.Messages = convertMessages(req.Messages, req.System)

	// 转换 tools
	if len(req.Tools) > 0 {
		openaiReq.Tools = convertTools(req.Tools)
	}

	// 转换 tool_choice
	if req.ToolChoice != nil && len(openaiReq.Tools) > 0 {
		openaiReq.ToolChoice = convertToolChoice(req.ToolChoice)
	}

	return openaiReq
}

// resolveModel 映射表优先，其次原模型名，最后默认模型
func resolveModel(model string, modelMapping map[string]string, defaultModel string) string {
	if target, ok := modelMapping[model]; ok {
		return target
	}
	if model != "" {
		return model
	}
	return defaultModel
}

// convertMessages 转换消息数组
func convertMessages(claudeMessages []ClaudeMessage, system SystemPrompt) []OpenAIMessage {
	messages := make([]OpenAIMessage, 0, len(claudeMessages)+1)

	// 如果有 system 参数，添加为第一条消息
	if text := system.Flatten(); text != "" {
		messages = append(messages, OpenAIMessage{
			Role:    OpenAIRoleSystem,
			Content: text,
		})
	}

	for _, msg := range claudeMessages {
		messages = append(messages, convertSingleMessage(msg)...)
	}

	return messages
}

// convertSingleMessage 转换单条消息，一条 Claude 消息可能展开成多条 OpenAI 消息
// text/image 先累积为 parts，遇到工具块时先把已累积的 parts 落地，保证输出顺序与原顺序一致
func convertSingleMessage(msg ClaudeMessage) []OpenAIMessage {
	if msg.Content.Text != nil {
		return []OpenAIMessage{{Role: msg.Role, Content: *msg.Content.Text}}
	}

	var (
		messages []OpenAIMessage
		parts    []OpenAIContentBlock
	)

	flush := func() {
		if len(parts) == 0 {
			return
		}
		messages = append(messages, OpenAIMessage{Role: msg.Role, Content: parts})
		parts = nil
	}

	for _, block := range msg.Content.Blocks {
		switch block.Type {
		case ContentTypeText:
			text := ""
			if block.Text != nil {
				text = *block.Text
			}
			parts = append(parts, OpenAIContentBlock{Type: ContentTypeText, Text: StringPtr(text)})

		case ContentTypeImage:
			if part, ok := convertImageBlock(block); ok {
				parts = append(parts, part)
			}

		case ContentTypeToolUse:
			flush()
			messages = append(messages, convertToolUseBlock(block))

		case ContentTypeToolResult:
			flush()
			messages = append(messages, convertToolResultBlock(block))
		}
	}
	flush()

	return messages
}

// convertImageBlock 转换 base64 图片为 data URI，其他来源跳过
func convertImageBlock(block ClaudeContentBlock) (OpenAIContentBlock, bool) {
	if block.Source == nil || block.Source.Type != "base64" {
		return OpenAIContentBlock{}, false
	}

	dataURI := fmt.Sprintf("data:%s;base64,%s", block.Source.MediaType, block.Source.Data)
	return OpenAIContentBlock{
		Type:     ContentTypeImageURL,
		ImageURL: &OpenAIImageURL{URL: dataURI},
	}, true
}

// convertToolUseBlock tool_use 块转换为独立的 assistant 消息
func convertToolUseBlock(block ClaudeContentBlock) OpenAIMessage {
	call := OpenAIToolCall{
		Type: OpenAIToolTypeFunction,
		Function: OpenAIFunctionCall{
			Arguments: serializeToolInput(block.Input),
		},
	}
	if block.ID != nil {
		call.ID = *block.ID
	}
	if block.Name != nil {
		call.Function.Name = *block.Name
	}

	return OpenAIMessage{
		Role:      OpenAIRoleAssistant,
		Content:   nil,
		ToolCalls: []OpenAIToolCall{call},
	}
}

// serializeToolInput 把 input 对象序列化为紧凑 JSON 字符串，缺省为 {}
func serializeToolInput(input json.RawMessage) string {
	if len(input) == 0 {
		return "{}"
	}

	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil || decoded == nil {
		return "{}"
	}

	args, err := json.Marshal(decoded)
	if err != nil {
		return "{}"
	}
	return string(args)
}

// convertToolResultBlock tool_result 块转换为 tool 角色消息
func convertToolResultBlock(block ClaudeContentBlock) OpenAIMessage {
	msg := OpenAIMessage{
		Role:    OpenAIRoleTool,
		Content: StringifyToolResult(block.Content),
	}
	if block.ToolUseID != nil {
		msg.ToolCallID = *block.ToolUseID
	}
	return msg
}

// convertTools 转换工具定义
func convertTools(claudeTools []ClaudeTool) []OpenAITool {
	openaiTools := make([]OpenAITool, 0, len(claudeTools))

	for _, tool := range claudeTools {
		params := tool.InputSchema
		if len(params) == 0 || string(params) == "null" {
			params = json.RawMessage("{}")
		}

		openaiTools = append(openaiTools, OpenAITool{
			Type: OpenAIToolTypeFunction,
			Function: OpenAIFunctionDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}

	return openaiTools
}

// convertToolChoice 转换 tool_choice
func convertToolChoice(choice *ClaudeToolChoice) any {
	switch choice.Type {
	case "auto":
		return "auto"
	case "any":
		return "required"
	case "none":
		return "none"
	case "tool":
		if choice.Name != nil {
			return map[string]any{
				"type": OpenAIToolTypeFunction,
				"function": map[string]string{
					"name": *choice.Name,
				},
			}
		}
	}

	return "auto"
}
