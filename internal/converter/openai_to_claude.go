package converter

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ConvertOpenAIToClaude 将 OpenAI Chat Completions API 响应转换为 Claude Messages API 响应
// stop_reason 固定为 end_turn；choices 为空属于调用方前置条件错误
func ConvertOpenAIToClaude(resp *OpenAIResponse) (*ClaudeResponse, error) {
	if resp == nil {
		return nil, NewConversionError("response", "响应为空", ErrNoChoices)
	}

	if len(resp.Choices) == 0 {
		return nil, NewConversionError("response", "响应中没有choices", ErrNoChoices)
	}

	// 取第一个 choice
	choice := resp.Choices[0]

	claudeResp := &ClaudeResponse{
		ID:         NewMessageID(),
		Type:       ClaudeTypeMessage,
		Role:       ClaudeRoleAssistant,
		Model:      resp.Model,
		StopReason: StopReasonEndTurn,
	}
	if resp.Usage != nil {
		claudeResp.Usage = ClaudeUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	content, err := convertResponseContent(choice.Message)
	if err != nil {
		return nil, NewConversionError("response", "转换内容失败", err)
	}
	claudeResp.Content = content

	return claudeResp, nil
}

// convertResponseContent 转换响应内容
func convertResponseContent(msg OpenAIResponseMessage) ([]ClaudeContentBlock, error) {
	content := make([]ClaudeContentBlock, 0, 1+len(msg.ToolCalls))

	// 处理文本内容
	if textContent := ExtractTextFromContent(msg.Content); textContent != "" {
		content = append(content, ClaudeContentBlock{
			Type: ContentTypeText,
			Text: StringPtr(textContent),
		})
	}

	// 处理 tool_calls
	for _, toolCall := range msg.ToolCalls {
		block, err := convertToolCallToToolUse(toolCall)
		if err != nil {
			return nil, fmt.Errorf("转换 tool_call %s 失败: %w", toolCall.ID, err)
		}
		content = append(content, block)
	}

	return content, nil
}

// convertToolCallToToolUse 转换 tool_call 为 tool_use
// arguments 为字符串时按 JSON 解析；已经是结构化值时原样透传
func convertToolCallToToolUse(toolCall OpenAIResponseToolCall) (ClaudeContentBlock, error) {
	input, err := decodeToolArguments(toolCall.Function.Arguments)
	if err != nil {
		return ClaudeContentBlock{}, err
	}

	return ClaudeContentBlock{
		Type:  ContentTypeToolUse,
		ID:    StringPtr(toolCall.ID),
		Name:  StringPtr(toolCall.Function.Name),
		Input: input,
	}, nil
}

func decodeToolArguments(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}"), nil
	}

	if trimmed[0] != '"' {
		return json.RawMessage(trimmed), nil
	}

	var args string
	if err := json.Unmarshal(trimmed, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToolArguments, err)
	}
	if len(bytes.TrimSpace([]byte(args))) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid([]byte(args)) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidToolArguments, args)
	}

	return json.RawMessage(args), nil
}
