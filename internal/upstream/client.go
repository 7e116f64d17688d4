package upstream

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Mieluoxxx/nova-proxy/internal/balancer"
	"github.com/Mieluoxxx/nova-proxy/internal/converter"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const userAgent = "nova-proxy/1.0"

// Client OpenAI 兼容上游客户端
// 每次请求通过 FailoverExecutor 选择 Key，遇到限流、5xx 或连接错误时换下一个 Key
type Client struct {
	url         string
	httpClient  *http.Client
	executor    *balancer.FailoverExecutor
	idleTimeout time.Duration
}

// NewClient 创建上游客户端
// timeout 限制等待响应头的时间，以及响应体两次读到数据之间的最长间隔；
// 持续有数据到达的长流不受限制。timeout 为 0 时不设超时。
func NewClient(url string, executor *balancer.FailoverExecutor, timeout time.Duration) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	return &Client{
		url:         url,
		httpClient:  &http.Client{Transport: transport},
		executor:    executor,
		idleTimeout: timeout,
	}
}

// URL 上游 Chat Completions 地址
func (c *Client) URL() string {
	return c.url
}

// ChatCompletions 发送 Chat Completions 请求
// 请求绑定 ctx，客户端断开时上游请求随之取消。返回的响应体已按需解压，由调用方关闭。
// 上游返回错误状态码时不会转换为 error，调用方可以透传。
func (c *Client) ChatCompletions(ctx context.Context, req *converter.OpenAIRequest) (*http.Response, *balancer.FailoverResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal upstream request: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"url":    c.url,
		"model":  req.Model,
		"stream": req.Stream,
		"bytes":  len(body),
	}).Debug("➡️  [转发] 发送上游请求")

	resp, result, err := c.executor.Do(ctx, func(ctx context.Context, key string) (*http.Response, error) {
		// 每次尝试单独可取消，空闲超时时只断开这一次上游连接
		attemptCtx, cancel := context.WithCancel(ctx)
		httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			cancel()
			return nil, err
		}

		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+key)
		httpReq.Header.Set("User-Agent", userAgent)
		if req.Stream {
			httpReq.Header.Set("Accept", "text/event-stream")
		} else {
			httpReq.Header.Set("Accept", "application/json")
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			cancel()
			return nil, err
		}
		resp.Body = newIdleTimeoutBody(resp.Body, c.idleTimeout, cancel)
		return resp, nil
	})
	if err != nil {
		return nil, result, err
	}

	if err := decompressIfNeeded(resp); err != nil {
		resp.Body.Close()
		return nil, result, fmt.Errorf("failed to decompress upstream response: %w", err)
	}

	return resp, result, nil
}

// IsEventStream 响应是否为 SSE
func IsEventStream(resp *http.Response) bool {
	return strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/event-stream")
}

// ErrorMessage 从上游错误响应体中提取可读的错误信息
// 兼容 {"error":{"message":..}}、{"error":".."}、{"message":..}、{"detail":..} 几种常见形态
func ErrorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "error", "message", "detail"} {
			if value := gjson.GetBytes(body, path); value.Type == gjson.String && value.String() != "" {
				return value.String()
			}
		}
	}

	preview := strings.TrimSpace(string(body))
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	return preview
}

// gzipBody 解压后的响应体，关闭时同时关闭原始连接
type gzipBody struct {
	*gzip.Reader
	raw io.Closer
}

func (b *gzipBody) Close() error {
	b.Reader.Close()
	return b.raw.Close()
}

type peekedBody struct {
	io.Reader
	io.Closer
}

// decompressIfNeeded 如果响应是 gzip 压缩则解压缩
// 以 Content-Encoding 或 gzip 魔数判断，部分上游压缩后不带 Content-Encoding
func decompressIfNeeded(resp *http.Response) error {
	if resp == nil || resp.Body == nil || resp.Uncompressed {
		return nil
	}

	buffered := bufio.NewReader(resp.Body)
	isGzipped := strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip")
	if !isGzipped {
		if magic, err := buffered.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
			isGzipped = true
		}
	}

	if !isGzipped {
		resp.Body = peekedBody{Reader: buffered, Closer: resp.Body}
		return nil
	}

	reader, err := gzip.NewReader(buffered)
	if err != nil {
		return err
	}

	logrus.Debug("🗜️  [响应] 上游响应已解压缩")
	resp.Body = &gzipBody{Reader: reader, raw: resp.Body}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}
