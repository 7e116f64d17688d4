package converter

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// streamBlockIndex 流式内容块索引
// 同一时刻只有一个打开的块，所有块都使用索引 0
const streamBlockIndex = 0

// blockType 当前打开的内容块类型
type blockType int

const (
	blockNone blockType = iota
	blockText
	blockToolUse
)

func (b blockType) String() string {
	switch b {
	case blockText:
		return ContentTypeText
	case blockToolUse:
		return ContentTypeToolUse
	default:
		return "none"
	}
}

// StreamTranslator 把 OpenAI 流式 chunk 逐个折叠成 Claude SSE 事件
//
// 每个客户端连接独享一个实例，必须按到达顺序串行调用 TranslateChunk，不能并发使用。
// 任意时刻最多只有一个内容块处于打开状态，新块打开前会先关闭旧块，
// 每个块的 start / delta / stop 都使用索引 0。
type StreamTranslator struct {
	model string

	// 状态管理
	blockType        blockType
	currentToolID    string
	currentToolIndex int64 // 上游 tool_calls[].index
	finished         bool
	outputTokens     int

	newToolID func() string
}

// NewStreamTranslator 创建流式转换器，model 为解析后的上游模型名
func NewStreamTranslator(model string) *StreamTranslator {
	return &StreamTranslator{
		model:     model,
		newToolID: NewToolUseID,
	}
}

// Model 返回上游模型名，供传输层构造 message_start
func (t *StreamTranslator) Model() string {
	return t.model
}

// OutputTokens 结束 chunk 中上游报告的输出 token 数，未报告时为 0
func (t *StreamTranslator) OutputTokens() int {
	return t.outputTokens
}

// Finished 是否已经发出 message_stop
func (t *StreamTranslator) Finished() bool {
	return t.finished
}

// TranslateChunk 处理一个上游 chunk（单条 data: 行的 JSON 负载），返回零个或多个 SSE 事件
// 非法 JSON、非对象、缺少 choices[0] 的 chunk 不产生事件，也不改变状态
// 同一 chunk 内按 文本 → 工具调用 → finish_reason 的顺序处理
func (t *StreamTranslator) TranslateChunk(chunk []byte) []string {
	if t.finished || !gjson.ValidBytes(chunk) {
		return nil
	}

	root := gjson.ParseBytes(chunk)
	if !root.IsObject() {
		return nil
	}

	choices := root.Get("choices")
	if !choices.IsArray() {
		return nil
	}
	choice := choices.Get("0")
	if !choice.IsObject() {
		return nil
	}

	var events []string

	if delta := choice.Get("delta"); delta.IsObject() {
		events = t.appendText(events, delta.Get("content"))
		events = t.appendToolCall(events, delta.Get("tool_calls.0"))
	}

	if finishReason := choice.Get("finish_reason"); hasValue(finishReason) {
		outputTokens := root.Get("usage.completion_tokens").Int()
		events = t.appendFinish(events, finishReason.String(), int(outputTokens))
	}

	return events
}

// Finish 上游在没有 finish_reason 的情况下结束时调用
// 关闭打开的块并补发 message_delta(end_turn) 与 message_stop；已结束时不做任何事
func (t *StreamTranslator) Finish() []string {
	if t.finished {
		return nil
	}
	return t.appendFinish(nil, "", 0)
}

// appendText 处理文本增量
func (t *StreamTranslator) appendText(events []string, content gjson.Result) []string {
	if !hasValue(content) {
		return events
	}

	if t.blockType != blockText {
		events = t.closeBlock(events)
		events = t.openBlock(events, blockText, ClaudeContentBlock{
			Type: ContentTypeText,
			Text: StringPtr(""),
		})
	}

	return t.emit(events, EventTypeContentBlockDelta, ClaudeContentBlockDelta{
		Type:  EventTypeContentBlockDelta,
		Index: streamBlockIndex,
		Delta: ClaudeDelta{
			Type: DeltaTypeTextDelta,
			Text: content.String(),
		},
	})
}

// appendToolCall 处理工具调用增量，只看 tool_calls[0]
// arguments 片段原样透传为 input_json_delta，不做缓冲与校验
func (t *StreamTranslator) appendToolCall(events []string, toolCall gjson.Result) []string {
	if !toolCall.IsObject() {
		return events
	}
	function := toolCall.Get("function")
	if !function.IsObject() {
		return events
	}

	if name := function.Get("name").String(); name != "" && t.isNewToolCall(toolCall) {
		events = t.closeBlock(events)

		t.currentToolID = toolCall.Get("id").String()
		if t.currentToolID == "" {
			t.currentToolID = t.newToolID()
		}
		t.currentToolIndex = toolCall.Get("index").Int()

		events = t.openBlock(events, blockToolUse, ClaudeContentBlock{
			Type:  ContentTypeToolUse,
			ID:    StringPtr(t.currentToolID),
			Name:  StringPtr(name),
			Input: json.RawMessage("{}"),
		})
	}

	// 没有打开的 tool_use 块时参数片段无处归属，直接丢弃
	arguments := function.Get("arguments")
	if t.blockType != blockToolUse || !hasValue(arguments) {
		return events
	}

	return t.emit(events, EventTypeContentBlockDelta, ClaudeContentBlockDelta{
		Type:  EventTypeContentBlockDelta,
		Index: streamBlockIndex,
		Delta: ClaudeDelta{
			Type:        DeltaTypeInputJSONDelta,
			PartialJSON: arguments.String(),
		},
	})
}

// isNewToolCall 带 name 的增量是否开启了一个新的工具调用
// 部分上游会在每个分片里重复 name，同 id（或无 id 时同 index）视为同一调用的延续
func (t *StreamTranslator) isNewToolCall(toolCall gjson.Result) bool {
	if t.blockType != blockToolUse {
		return true
	}
	if id := toolCall.Get("id").String(); id != "" {
		return id != t.currentToolID
	}
	if index := toolCall.Get("index"); index.Exists() {
		return index.Int() != t.currentToolIndex
	}
	return false
}

// appendFinish 关闭打开的块，发送 message_delta 与 message_stop
func (t *StreamTranslator) appendFinish(events []string, finishReason string, outputTokens int) []string {
	events = t.closeBlock(events)

	stopReason := ConvertFinishReasonToStopReason(finishReason)
	events = t.emit(events, EventTypeMessageDelta, ClaudeMessageDelta{
		Type: EventTypeMessageDelta,
		Delta: ClaudeMessageDeltaData{
			StopReason: &stopReason,
		},
		Usage: ClaudeDeltaUsage{OutputTokens: outputTokens},
	})
	events = t.emit(events, EventTypeMessageStop, ClaudeMessageStop{Type: EventTypeMessageStop})

	t.finished = true
	t.outputTokens = outputTokens
	return events
}

// openBlock 打开新块，调用前必须保证没有打开的块
func (t *StreamTranslator) openBlock(events []string, typ blockType, block ClaudeContentBlock) []string {
	t.blockType = typ

	return t.emit(events, EventTypeContentBlockStart, ClaudeContentBlockStart{
		Type:         EventTypeContentBlockStart,
		Index:        streamBlockIndex,
		ContentBlock: block,
	})
}

// closeBlock 关闭当前打开的块，没有打开的块时不做任何事
func (t *StreamTranslator) closeBlock(events []string) []string {
	if t.blockType == blockNone {
		return events
	}

	events = t.emit(events, EventTypeContentBlockStop, ClaudeContentBlockStop{
		Type:  EventTypeContentBlockStop,
		Index: streamBlockIndex,
	})
	t.blockType = blockNone
	t.currentToolID = ""
	return events
}

func (t *StreamTranslator) emit(events []string, eventType string, payload any) []string {
	event, err := FormatSSEEvent(eventType, payload)
	if err != nil {
		return events
	}
	return append(events, event)
}

// hasValue 字段存在、非 null 且非空串
func hasValue(r gjson.Result) bool {
	return r.Exists() && r.Type != gjson.Null && r.String() != ""
}
