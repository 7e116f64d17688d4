package balancer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrAllKeysFailed 所有尝试过的 Key 都失败
var ErrAllKeysFailed = errors.New("all upstream keys failed")

// AttemptFunc 使用指定 Key 发起一次上游请求
type AttemptFunc func(ctx context.Context, key string) (*http.Response, error)

// FailoverConfig 故障转移配置
type FailoverConfig struct {
	MaxRetries int // 首次失败后最多再换几个 Key，默认 2
}

// FailoverResult 故障转移结果
type FailoverResult struct {
	Key            string           // 最终使用的 Key，已脱敏
	AttemptCount   int              // 尝试次数
	FailedAttempts []FailureAttempt // 失败的尝试
}

// FailureAttempt 故障转移尝试记录
type FailureAttempt struct {
	Key         string      // 已脱敏
	FailureType FailureType // 故障类型
	StatusCode  int         // 上游状态码，传输层错误时为 0
	Error       error       // 错误信息
}

// FailoverExecutor 故障转移执行器
type FailoverExecutor struct {
	pool            *KeyPool
	failureDetector FailureDetector
	config          FailoverConfig
}

// NewFailoverExecutor 创建故障转移执行器
func NewFailoverExecutor(pool *KeyPool, failureDetector FailureDetector, config FailoverConfig) *FailoverExecutor {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	return &FailoverExecutor{
		pool:            pool,
		failureDetector: failureDetector,
		config:          config,
	}
}

// Do 按轮询顺序选择 Key 执行请求，遇到故障换下一个 Key
//
// 返回的响应由调用方负责关闭。最后一次尝试得到的是故障响应（如 5xx）时仍然返回该响应，
// 由调用方把上游错误透传给客户端；最后一次是传输层错误时返回 ErrAllKeysFailed。
// 调用方上下文取消时立即返回，不计入 Key 故障。
func (f *FailoverExecutor) Do(ctx context.Context, attempt AttemptFunc) (*http.Response, *FailoverResult, error) {
	result := &FailoverResult{
		FailedAttempts: []FailureAttempt{},
	}

	// 尝试次数不超过 Key 数量，避免同一个 Key 在一次请求里被反复使用
	maxAttempts := f.config.MaxRetries + 1
	if n := f.pool.Len(); n < maxAttempts {
		maxAttempts = n
	}
	if maxAttempts == 0 {
		return nil, result, ErrNoKeys
	}

	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		key, err := f.pool.Next()
		if err != nil {
			return nil, result, err
		}

		result.Key = MaskKey(key)
		result.AttemptCount++

		resp, err := attempt(ctx, key)
		if ctxErr := ctx.Err(); ctxErr != nil {
			closeBody(resp)
			return nil, result, ctxErr
		}

		if f.failureDetector == nil || !f.failureDetector.IsFailure(err, resp) {
			if err != nil {
				return nil, result, err
			}
			if f.failureDetector != nil {
				f.failureDetector.RecordSuccess(key)
			}
			return resp, result, nil
		}

		failureType := f.failureDetector.FailureTypeOf(err, resp)
		f.failureDetector.RecordFailure(key, failureType)

		failed := FailureAttempt{
			Key:         MaskKey(key),
			FailureType: failureType,
			Error:       err,
		}
		if resp != nil {
			failed.StatusCode = resp.StatusCode
			if err == nil {
				failed.Error = fmt.Errorf("upstream returned status %d", resp.StatusCode)
			}
		}
		result.FailedAttempts = append(result.FailedAttempts, failed)

		// 最后一次尝试的故障响应交给调用方透传
		if i == maxAttempts-1 && resp != nil {
			return resp, result, nil
		}

		closeBody(resp)
		lastErr = failed.Error
	}

	return nil, result, fmt.Errorf("%w: %v", ErrAllKeysFailed, lastErr)
}

// closeBody 丢弃并关闭响应体，便于连接复用
func closeBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()
}
