package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// ErrUpstreamIdle 上游在超时时间内没有再发送任何数据
var ErrUpstreamIdle = errors.New("upstream idle timeout")

// idleTimeoutBody 响应体读取的空闲超时
// 每次读到数据后重新计时，超过 timeout 没有新数据时取消该次请求，
// 阻塞中的 Read 随之返回 ErrUpstreamIdle。关闭时同时释放请求上下文。
type idleTimeoutBody struct {
	io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	cancel  context.CancelFunc
	expired atomic.Bool
}

// newIdleTimeoutBody timeout <= 0 时只负责在关闭时释放上下文
func newIdleTimeoutBody(body io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleTimeoutBody {
	b := &idleTimeoutBody{
		ReadCloser: body,
		timeout:    timeout,
		cancel:     cancel,
	}
	if timeout > 0 {
		b.timer = time.AfterFunc(timeout, func() {
			b.expired.Store(true)
			cancel()
		})
	}
	return b
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if b.expired.Load() {
		return n, fmt.Errorf("%w: no data for %s", ErrUpstreamIdle, b.timeout)
	}
	if n > 0 && b.timer != nil {
		b.timer.Reset(b.timeout)
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	if b.timer != nil {
		b.timer.Stop()
	}
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
