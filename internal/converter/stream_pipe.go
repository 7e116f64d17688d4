package converter

import (
	"context"
	"errors"
	"io"
)

// ConvertStream 转换 OpenAI 流式响应为 Claude 流式响应
// 先写 message_start，再把每个 data 负载交给 translator；遇到 [DONE] 或 EOF 时补齐收尾事件。
// 上游读取失败时写出 error 事件，并让返回的 Reader 以该错误结束。
// 调用方必须关闭返回的 ReadCloser，提前关闭会让转换协程在下一次写入时退出。
func ConvertStream(ctx context.Context, openaiStream io.Reader, translator *StreamTranslator, messageID string) io.ReadCloser {
	// 创建管道用于零拷贝传输
	pipeReader, pipeWriter := io.Pipe()

	go func() {
		err := pumpStream(ctx, openaiStream, translator, messageID, pipeWriter)
		// CloseWithError(nil) 等价于 Close
		pipeWriter.CloseWithError(err)
	}()

	return pipeReader
}

func pumpStream(ctx context.Context, openaiStream io.Reader, translator *StreamTranslator, messageID string, w io.Writer) error {
	start, err := MessageStartEvent(messageID, translator.Model())
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, start); err != nil {
		return err
	}

	parser := NewSSEParser(openaiStream)
	for {
		// 检查上下文取消
		if err := ctx.Err(); err != nil {
			return err
		}

		data, err := parser.ParseEvent()
		if errors.Is(err, io.EOF) || data == DoneSentinel {
			return writeEvents(w, translator.Finish())
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if event, fmtErr := ErrorEvent("api_error", "上游流读取失败: "+err.Error()); fmtErr == nil {
				_, _ = io.WriteString(w, event)
			}
			return err
		}

		if err := writeEvents(w, translator.TranslateChunk([]byte(data))); err != nil {
			return err
		}
	}
}

func writeEvents(w io.Writer, events []string) error {
	for _, event := range events {
		if _, err := io.WriteString(w, event); err != nil {
			return err
		}
	}
	return nil
}
