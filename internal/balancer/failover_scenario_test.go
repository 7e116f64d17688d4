package balancer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newKeyAwareServer 按 Authorization 中的 Key 决定返回状态码
func newKeyAwareServer(t *testing.T, statusByKey map[string]int) (*httptest.Server, *sync.Map) {
	t.Helper()

	hits := &sync.Map{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		counter, _ := hits.LoadOrStore(key, new(int64))
		atomic.AddInt64(counter.(*int64), 1)

		status, ok := statusByKey[key]
		if !ok {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(server.Close)

	return server, hits
}

func httpAttempt(url string) AttemptFunc {
	return func(ctx context.Context, key string) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(`{}`))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+key)
		return http.DefaultClient.Do(req)
	}
}

func hitCount(hits *sync.Map, key string) int64 {
	counter, ok := hits.Load(key)
	if !ok {
		return 0
	}
	return atomic.LoadInt64(counter.(*int64))
}

// 一个 Key 持续返回 503，多次请求后进入冷却，之后不再被选中
func TestFailoverScenario_BrokenKeyCoolsDown(t *testing.T) {
	server, hits := newKeyAwareServer(t, map[string]int{
		"key-broken-0001": http.StatusServiceUnavailable,
	})

	clock := newFakeClock()
	detector := createTestDetector(clock)
	pool := NewKeyPool([]string{"key-broken-0001", "key-healthy-002"}, detector)
	executor := NewFailoverExecutor(pool, detector, FailoverConfig{MaxRetries: 1})

	for i := 0; i < 10; i++ {
		resp, _, err := executor.Do(context.Background(), httpAttempt(server.URL))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	// 轮询到坏 Key 的次数达到阈值后被冷却
	assert.Equal(t, int64(3), hitCount(hits, "key-broken-0001"))
	assert.Equal(t, int64(10), hitCount(hits, "key-healthy-002"))
	assert.False(t, detector.IsAvailable("key-broken-0001"))

	// 冷却结束后重新尝试
	clock.Advance(2 * time.Minute)
	for i := 0; i < 2; i++ {
		resp, _, err := executor.Do(context.Background(), httpAttempt(server.URL))
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, int64(4), hitCount(hits, "key-broken-0001"))
}

// 上游不可达时返回 ErrAllKeysFailed
func TestFailoverScenario_UpstreamDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	detector := createTestDetector(newFakeClock())
	pool := NewKeyPool([]string{"key-one-000001", "key-two-000002"}, detector)
	executor := NewFailoverExecutor(pool, detector, FailoverConfig{MaxRetries: 3})

	_, result, err := executor.Do(context.Background(), httpAttempt(url))
	assert.ErrorIs(t, err, ErrAllKeysFailed)
	assert.Equal(t, 2, result.AttemptCount)
	for _, attempt := range result.FailedAttempts {
		assert.Equal(t, ConnectionFailure, attempt.FailureType)
	}
}

func TestFailoverScenario_HighConcurrency(t *testing.T) {
	server, hits := newKeyAwareServer(t, nil)

	keys := []string{"key-c-00000001", "key-c-00000002", "key-c-00000003"}
	detector := NewFailureDetector(DefaultFailureDetectorConfig())
	executor := NewFailoverExecutor(NewKeyPool(keys, detector), detector, FailoverConfig{MaxRetries: 2})

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, _, err := executor.Do(context.Background(), httpAttempt(server.URL))
			if err != nil {
				t.Error(err)
				return
			}
			resp.Body.Close()
		}()
	}
	wg.Wait()

	for _, key := range keys {
		assert.Equal(t, int64(10), hitCount(hits, key))
	}
}
