package converter

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sseEvent 解析后的 SSE 事件，测试用
type sseEvent struct {
	Name string
	Data map[string]any
}

func parseSSEEvents(t *testing.T, frames []string) []sseEvent {
	t.Helper()

	events := make([]sseEvent, 0, len(frames))
	for _, frame := range frames {
		require.True(t, strings.HasSuffix(frame, "\n\n"), "帧必须以空行结尾: %q", frame)

		lines := strings.Split(strings.TrimSuffix(frame, "\n\n"), "\n")
		require.Len(t, lines, 2, "帧格式错误: %q", frame)
		require.True(t, strings.HasPrefix(lines[0], "event: "))
		require.True(t, strings.HasPrefix(lines[1], "data: "))

		ev := sseEvent{Name: strings.TrimPrefix(lines[0], "event: ")}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &ev.Data))
		// 负载中的 type 必须与事件名一致
		require.Equal(t, ev.Name, ev.Data["type"])
		events = append(events, ev)
	}
	return events
}

func eventNames(events []sseEvent) []string {
	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.Name)
	}
	return names
}

func translateAll(translator *StreamTranslator, chunks ...string) []string {
	var frames []string
	for _, chunk := range chunks {
		frames = append(frames, translator.TranslateChunk([]byte(chunk))...)
	}
	return frames
}

func TestStreamTranslator_TextSequence(t *testing.T) {
	translator := NewStreamTranslator("glm-4")

	frames := translateAll(translator,
		`{"choices":[{"delta":{"content":"Hi"}}]}`,
		`{"choices":[{"delta":{"content":" there"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
	)
	events := parseSSEEvents(t, frames)

	assert.Equal(t, []string{
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, eventNames(events))

	block := events[0].Data["content_block"].(map[string]any)
	assert.Equal(t, "text", block["type"])
	assert.Equal(t, "", block["text"])
	assert.EqualValues(t, 0, events[0].Data["index"])

	assert.Equal(t, "Hi", events[1].Data["delta"].(map[string]any)["text"])
	assert.Equal(t, " there", events[2].Data["delta"].(map[string]any)["text"])
	assert.Equal(t, "text_delta", events[2].Data["delta"].(map[string]any)["type"])

	delta := events[4].Data["delta"].(map[string]any)
	assert.Equal(t, "end_turn", delta["stop_reason"])
	assert.EqualValues(t, 0, events[4].Data["usage"].(map[string]any)["output_tokens"])

	assert.True(t, translator.Finished())
}

func TestStreamTranslator_TextThenToolCall(t *testing.T) {
	translator := NewStreamTranslator("glm-4")

	frames := translateAll(translator,
		`{"choices":[{"delta":{"content":"Let me look"}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"lookup","arguments":""}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"q\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"go\"}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}],"usage":{"completion_tokens":17}}`,
	)
	events := parseSSEEvents(t, frames)

	assert.Equal(t, []string{
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, eventNames(events))

	// 文本块关闭后才打开工具块
	toolStart := events[3].Data
	assert.EqualValues(t, 0, toolStart["index"])
	block := toolStart["content_block"].(map[string]any)
	assert.Equal(t, "tool_use", block["type"])
	assert.Equal(t, "call_1", block["id"])
	assert.Equal(t, "lookup", block["name"])
	assert.Equal(t, map[string]any{}, block["input"])

	// 参数片段原样透传
	first := events[4].Data["delta"].(map[string]any)
	assert.Equal(t, "input_json_delta", first["type"])
	assert.Equal(t, `{"q":`, first["partial_json"])
	assert.Equal(t, `"go"}`, events[5].Data["delta"].(map[string]any)["partial_json"])
	assert.EqualValues(t, 0, events[5].Data["index"])

	assert.Equal(t, "tool_use", events[7].Data["delta"].(map[string]any)["stop_reason"])
	assert.EqualValues(t, 17, events[7].Data["usage"].(map[string]any)["output_tokens"])
	assert.Equal(t, 17, translator.OutputTokens())
	assert.True(t, translator.Finished())
}

func TestStreamTranslator_ToolCallWithoutID(t *testing.T) {
	translator := NewStreamTranslator("m")
	translator.newToolID = func() string { return "toolu_generated" }

	events := parseSSEEvents(t, translateAll(translator,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"name":"lookup","arguments":"{}"}}]}}]}`,
	))

	require.Len(t, events, 2)
	assert.Equal(t, "content_block_start", events[0].Name)
	assert.Equal(t, "toolu_generated", events[0].Data["content_block"].(map[string]any)["id"])
	assert.Equal(t, "{}", events[1].Data["delta"].(map[string]any)["partial_json"])
}

func TestStreamTranslator_MultipleToolCalls(t *testing.T) {
	translator := NewStreamTranslator("m")

	events := parseSSEEvents(t, translateAll(translator,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"a","arguments":"{}"}}]}}]}`,
		// 同一调用重复携带 name 视为延续
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"a","arguments":""}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_b","function":{"name":"b","arguments":"{}"}}]}}]}`,
		`{"choices":[{"finish_reason":"tool_calls"}]}`,
	))

	assert.Equal(t, []string{
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, eventNames(events))
	assert.EqualValues(t, 0, events[0].Data["index"])
	assert.EqualValues(t, 0, events[3].Data["index"])
	assert.Equal(t, "call_b", events[3].Data["content_block"].(map[string]any)["id"])
}

func TestStreamTranslator_ToolThenText(t *testing.T) {
	translator := NewStreamTranslator("m")

	events := parseSSEEvents(t, translateAll(translator,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"a"}}]}}]}`,
		`{"choices":[{"delta":{"content":"after"}}]}`,
	))

	assert.Equal(t, []string{
		"content_block_start",
		"content_block_stop",
		"content_block_start",
		"content_block_delta",
	}, eventNames(events))
	assert.Equal(t, "text", events[2].Data["content_block"].(map[string]any)["type"])
}

// 文本 → 工具 → 文本，所有块事件都使用索引 0
func TestStreamTranslator_BlockIndexAlwaysZero(t *testing.T) {
	translator := NewStreamTranslator("m")

	events := parseSSEEvents(t, translateAll(translator,
		`{"choices":[{"delta":{"content":"Hi"}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"lookup","arguments":"{}"}}]}}]}`,
		`{"choices":[{"delta":{"content":"done"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
	))

	assert.Equal(t, []string{
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, eventNames(events))

	for _, ev := range events {
		if strings.HasPrefix(ev.Name, "content_block_") {
			assert.EqualValues(t, 0, ev.Data["index"], ev.Name)
		}
	}
}

// 同一个 chunk 同时有文本与工具调用时先处理文本
func TestStreamTranslator_TextAndToolInSameChunk(t *testing.T) {
	translator := NewStreamTranslator("m")

	events := parseSSEEvents(t, translateAll(translator,
		`{"choices":[{"delta":{"content":"x","tool_calls":[{"index":0,"id":"c","function":{"name":"f","arguments":"{}"}}]},"finish_reason":"tool_calls"}]}`,
	))

	assert.Equal(t, []string{
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, eventNames(events))
}

func TestStreamTranslator_ArgumentsWithoutOpenBlockDropped(t *testing.T) {
	translator := NewStreamTranslator("m")

	frames := translateAll(translator,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"orphan\":true}"}}]}}]}`,
	)
	assert.Empty(t, frames)
}

func TestStreamTranslator_MalformedChunks(t *testing.T) {
	malformed := []string{
		``,
		`not json`,
		`[]`,
		`"string"`,
		`42`,
		`{}`,
		`{"choices":null}`,
		`{"choices":{}}`,
		`{"choices":[]}`,
		`{"choices":["x"]}`,
		`{"choices":[{"delta":"bad"}]}`,
		`{"choices":[{"delta":{"content":null}}]}`,
		`{"choices":[{"delta":{"content":""}}]}`,
		`{"choices":[{"finish_reason":null}]}`,
		`{"choices":[{"delta":{"tool_calls":"bad"}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"function":"bad"}]}}]}`,
	}

	translator := NewStreamTranslator("m")
	for _, chunk := range malformed {
		assert.Empty(t, translator.TranslateChunk([]byte(chunk)), "chunk=%q", chunk)
	}
	assert.False(t, translator.Finished())

	// 坏 chunk 不影响后续正常处理
	events := parseSSEEvents(t, translateAll(translator, `{"choices":[{"delta":{"content":"ok"}}]}`))
	assert.Equal(t, []string{"content_block_start", "content_block_delta"}, eventNames(events))
	assert.EqualValues(t, 0, events[0].Data["index"])
}

func TestStreamTranslator_FinishMapping(t *testing.T) {
	tests := map[string]string{
		"stop":           "end_turn",
		"length":         "max_tokens",
		"tool_calls":     "tool_use",
		"content_filter": "end_turn",
	}

	for finishReason, want := range tests {
		t.Run(finishReason, func(t *testing.T) {
			translator := NewStreamTranslator("m")
			events := parseSSEEvents(t, translateAll(translator,
				`{"choices":[{"delta":{},"finish_reason":"`+finishReason+`"}]}`,
			))

			// 没有打开的块时不发送 content_block_stop
			require.Equal(t, []string{"message_delta", "message_stop"}, eventNames(events))
			assert.Equal(t, want, events[0].Data["delta"].(map[string]any)["stop_reason"])
		})
	}
}

func TestStreamTranslator_Finish(t *testing.T) {
	t.Run("关闭打开的块", func(t *testing.T) {
		translator := NewStreamTranslator("m")
		translateAll(translator, `{"choices":[{"delta":{"content":"partial"}}]}`)

		events := parseSSEEvents(t, translator.Finish())
		assert.Equal(t, []string{"content_block_stop", "message_delta", "message_stop"}, eventNames(events))
		assert.Equal(t, "end_turn", events[1].Data["delta"].(map[string]any)["stop_reason"])
	})

	t.Run("已结束时不重复发送", func(t *testing.T) {
		translator := NewStreamTranslator("m")
		translateAll(translator, `{"choices":[{"finish_reason":"stop"}]}`)

		assert.Empty(t, translator.Finish())
		assert.Empty(t, translator.TranslateChunk([]byte(`{"choices":[{"delta":{"content":"late"}}]}`)))
	})
}

// 任意 chunk 序列下，start/stop 始终配对，且同时最多只有一个打开的块
func TestStreamTranslator_BlockInvariant(t *testing.T) {
	chunks := []string{
		`{"choices":[{"delta":{"content":"a"}}]}`,
		`garbage`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"f","arguments":"{"}}]}}]}`,
		`{"choices":[{"delta":{"content":"b"}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":1,"function":{"arguments":"}"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"c2","function":{"name":"g"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":2,"id":"c3","function":{"name":"h"}}]}}]}`,
		`{"choices":[{"delta":{"content":"c"}}]}`,
	}

	translator := NewStreamTranslator("m")
	var frames []string
	for _, chunk := range chunks {
		frames = append(frames, translator.TranslateChunk([]byte(chunk))...)
	}
	frames = append(frames, translator.Finish()...)

	open := false
	for _, ev := range parseSSEEvents(t, frames) {
		switch ev.Name {
		case "content_block_start":
			require.False(t, open, "上一个块尚未关闭")
			require.EqualValues(t, 0, ev.Data["index"])
			open = true
		case "content_block_delta":
			require.True(t, open)
			require.EqualValues(t, 0, ev.Data["index"])
		case "content_block_stop":
			require.True(t, open, "stop 必须对应打开的块")
			require.EqualValues(t, 0, ev.Data["index"])
			open = false
		}
	}
	assert.False(t, open)
	assert.True(t, translator.Finished())
}

func TestMessageStartEvent(t *testing.T) {
	frame, err := MessageStartEvent("msg_abc", "glm-4")
	require.NoError(t, err)

	events := parseSSEEvents(t, []string{frame})
	require.Len(t, events, 1)

	msg := events[0].Data["message"].(map[string]any)
	assert.Equal(t, "msg_abc", msg["id"])
	assert.Equal(t, "message", msg["type"])
	assert.Equal(t, "assistant", msg["role"])
	assert.Equal(t, "glm-4", msg["model"])
	assert.Equal(t, []any{}, msg["content"])
	assert.Nil(t, msg["stop_reason"])
	assert.Equal(t, map[string]any{"input_tokens": float64(0), "output_tokens": float64(0)}, msg["usage"])
}

func TestErrorEvent(t *testing.T) {
	frame, err := ErrorEvent("overloaded_error", "busy")
	require.NoError(t, err)
	assert.Equal(t, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"busy\"}}\n\n", frame)
}

func TestFormatSSEEvent(t *testing.T) {
	frame, err := FormatSSEEvent("message_stop", ClaudeMessageStop{Type: "message_stop"})
	require.NoError(t, err)
	assert.Equal(t, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n", frame)
}
