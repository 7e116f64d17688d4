package tokens

import (
	"sync"
	"unicode/utf8"

	"github.com/Mieluoxxx/nova-proxy/internal/converter"
	"github.com/sirupsen/logrus"
	"github.com/tiktoken-go/tokenizer"
)

// requestOverhead 请求格式本身的固定开销
const requestOverhead = 3

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

// getCodec 懒加载 o200k_base 编码器，加载失败时返回 nil
func getCodec() tokenizer.Codec {
	codecOnce.Do(func() {
		enc, err := tokenizer.Get(tokenizer.O200kBase)
		if err != nil {
			logrus.WithError(err).Warn("⚠️  [Token] 加载 tokenizer 失败，改用字符估算")
			return
		}
		codec = enc
	})
	return codec
}

// CountText 统计文本的 token 数
// tokenizer 不可用或编码失败时退回字符估算
func CountText(text string) int {
	if text == "" {
		return 0
	}

	if enc := getCodec(); enc != nil {
		if count, err := enc.Count(text); err == nil {
			return count
		}
	}
	return EstimateTokens(text)
}

// CountRequest 估算 Claude 请求的输入 token 数
// 统计 system、各消息的角色与文本、工具调用参数、工具结果以及工具定义；图片不计入
func CountRequest(req *converter.ClaudeRequest) int {
	if req == nil {
		return 0
	}

	total := CountText(req.System.Flatten())

	for _, msg := range req.Messages {
		total += CountText(msg.Role)

		if msg.Content.Text != nil {
			total += CountText(*msg.Content.Text)
			continue
		}

		for _, block := range msg.Content.Blocks {
			total += countBlock(block)
		}
	}

	for _, tool := range req.Tools {
		total += CountText(tool.Name)
		total += CountText(tool.Description)
		total += CountText(string(tool.InputSchema))
	}

	return total + requestOverhead
}

func countBlock(block converter.ClaudeContentBlock) int {
	switch block.Type {
	case converter.ContentTypeText:
		if block.Text != nil {
			return CountText(*block.Text)
		}
	case converter.ContentTypeToolUse:
		count := CountText(string(block.Input))
		if block.Name != nil {
			count += CountText(*block.Name)
		}
		return count
	case converter.ContentTypeToolResult:
		return CountText(converter.StringifyToolResult(block.Content))
	}
	return 0
}

// EstimateTokens 估算文本的token数量
// 基于经验公式：英文约4字符=1token，中文约1.5字符=1token
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	charCount := utf8.RuneCountInString(text)
	chineseCount := 0
	for _, r := range text {
		if r >= 0x4e00 && r <= 0x9fa5 {
			chineseCount++
		}
	}

	englishChars := charCount - chineseCount
	tokens := (chineseCount*2 + englishChars) / 3

	// 至少返回1个token（如果有内容的话）
	if tokens == 0 && charCount > 0 {
		return 1
	}

	return tokens
}
