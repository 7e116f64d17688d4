package converter

import (
	"bufio"
	"io"
	"strings"
)

// DoneSentinel OpenAI 流结束标记
const DoneSentinel = "[DONE]"

// maxSSELineSize 单行最大长度，工具参数较大时单个 data 行可能很长
const maxSSELineSize = 4 * 1024 * 1024

// SSEParser SSE (Server-Sent Events) 事件解析器
// 按行读取，空行为事件分隔，兼容 \r\n 换行与多行 data
type SSEParser struct {
	scanner *bufio.Scanner
}

// NewSSEParser 创建 SSE 解析器
func NewSSEParser(r io.Reader) *SSEParser {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineSize)
	return &SSEParser{
		scanner: scanner,
	}
}

// ParseEvent 解析下一个 SSE 事件，返回拼接后的 data 内容
// 流结束返回 io.EOF；只有注释或 event: 行、没有 data 的事件会被跳过
func (p *SSEParser) ParseEvent() (string, error) {
	var (
		data    strings.Builder
		hasData bool
	)

	for p.scanner.Scan() {
		line := strings.TrimRight(p.scanner.Text(), "\r")

		if line == "" {
			if hasData {
				return data.String(), nil
			}
			continue
		}

		// 注释行
		if strings.HasPrefix(line, ":") {
			continue
		}

		// 忽略 event:, id:, retry: 等字段
		field, value, found := strings.Cut(line, ":")
		if !found || field != "data" {
			continue
		}
		value = strings.TrimPrefix(value, " ")

		if hasData {
			data.WriteByte('\n')
		}
		data.WriteString(value)
		hasData = true
	}

	if err := p.scanner.Err(); err != nil {
		return "", err
	}

	// 最后一个事件后面没有空行
	if hasData {
		return data.String(), nil
	}
	return "", io.EOF
}
