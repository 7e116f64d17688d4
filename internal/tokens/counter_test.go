package tokens

import (
	"encoding/json"
	"testing"

	"github.com/Mieluoxxx/nova-proxy/internal/converter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"single char", "a", 1},
		{"english", "abcdef", 2},
		{"chinese", "你好世界", 2},
		{"mixed", "hi你好", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateTokens(tt.text))
		})
	}
}

func TestCountText(t *testing.T) {
	assert.Zero(t, CountText(""))
	assert.Positive(t, CountText("hello world"))
	assert.Greater(t, CountText("the quick brown fox jumps over the lazy dog"), CountText("fox"))
}

func TestCountRequest_Nil(t *testing.T) {
	assert.Zero(t, CountRequest(nil))
}

func TestCountRequest_EmptyRequestHasOverhead(t *testing.T) {
	assert.Equal(t, requestOverhead, CountRequest(&converter.ClaudeRequest{}))
}

func TestCountRequest_GrowsWithContent(t *testing.T) {
	body := `{
		"model": "claude-sonnet-4",
		"system": "You are a helpful assistant.",
		"messages": [{"role": "user", "content": "What is the weather in Paris?"}]
	}`
	req, err := converter.ParseClaudeRequest([]byte(body))
	require.NoError(t, err)
	base := CountRequest(req)
	assert.Greater(t, base, requestOverhead)

	// 增加工具定义和工具调用后 token 数增加
	req.Tools = []converter.ClaudeTool{{
		Name:        "get_weather",
		Description: "Get the current weather for a city",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`),
	}}
	withTools := CountRequest(req)
	assert.Greater(t, withTools, base)

	req.Messages = append(req.Messages, converter.ClaudeMessage{
		Role: "assistant",
		Content: converter.BlockContent(converter.ClaudeContentBlock{
			Type:  converter.ContentTypeToolUse,
			ID:    converter.StringPtr("toolu_1"),
			Name:  converter.StringPtr("get_weather"),
			Input: json.RawMessage(`{"city":"Paris"}`),
		}),
	}, converter.ClaudeMessage{
		Role: "user",
		Content: converter.BlockContent(converter.ClaudeContentBlock{
			Type:      converter.ContentTypeToolResult,
			ToolUseID: converter.StringPtr("toolu_1"),
			Content:   json.RawMessage(`"Sunny, 22 degrees"`),
		}),
	})
	assert.Greater(t, CountRequest(req), withTools)
}

func TestCountRequest_ImagesIgnored(t *testing.T) {
	text := &converter.ClaudeRequest{Messages: []converter.ClaudeMessage{{
		Role:    "user",
		Content: converter.BlockContent(converter.ClaudeContentBlock{Type: converter.ContentTypeText, Text: converter.StringPtr("describe")}),
	}}}
	withImage := &converter.ClaudeRequest{Messages: []converter.ClaudeMessage{{
		Role: "user",
		Content: converter.BlockContent(
			converter.ClaudeContentBlock{Type: converter.ContentTypeText, Text: converter.StringPtr("describe")},
			converter.ClaudeContentBlock{Type: converter.ContentTypeImage, Source: &converter.ClaudeImageSource{Type: "base64", MediaType: "image/png", Data: "iVBORw0KGgo="}},
		),
	}}}

	assert.Equal(t, CountRequest(text), CountRequest(withImage))
}
