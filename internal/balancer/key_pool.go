package balancer

import (
	"errors"
	"sync"
	"time"
)

// ErrNoKeys 没有配置上游 Key
var ErrNoKeys = errors.New("no upstream API keys configured")

// ==================== 统计信息 ====================

// PoolStats Key 池统计信息
type PoolStats struct {
	KeyCount        int              `json:"key_count"`
	AvailableKeys   int              `json:"available_keys"`
	TotalSelections int64            `json:"total_selections"` // 总选择次数
	KeyCounts       map[string]int64 `json:"key_counts"`       // 各 Key 选择次数，Key 已脱敏
	LastSelection   time.Time        `json:"last_selection"`   // 最后选择时间
	Keys            []FailureStats   `json:"keys"`
}

// ==================== 轮询 Key 池 ====================

// KeyPool 轮询选择上游 Key
// 冷却中的 Key 会被跳过；全部冷却时选择最早恢复的那个，保证请求仍能发出
type KeyPool struct {
	mutex    sync.Mutex
	keys     []string
	next     int
	detector FailureDetector

	totalSelections int64
	keyCounts       map[string]int64
	lastSelection   time.Time
}

// NewKeyPool 创建 Key 池，detector 为 nil 时不做冷却判断
func NewKeyPool(keys []string, detector FailureDetector) *KeyPool {
	return &KeyPool{
		keys:      append([]string(nil), keys...),
		detector:  detector,
		keyCounts: make(map[string]int64),
	}
}

// Len Key 数量
func (p *KeyPool) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return len(p.keys)
}

// Next 按轮询顺序选出下一个 Key
func (p *KeyPool) Next() (string, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.keys) == 0 {
		return "", ErrNoKeys
	}

	selected := -1
	for i := 0; i < len(p.keys); i++ {
		idx := (p.next + i) % len(p.keys)
		if p.detector == nil || p.detector.IsAvailable(p.keys[idx]) {
			selected = idx
			break
		}
	}

	if selected < 0 {
		selected = p.soonestRecoveredLocked()
	}

	p.next = (selected + 1) % len(p.keys)

	key := p.keys[selected]
	p.totalSelections++
	p.keyCounts[key]++
	p.lastSelection = time.Now()

	return key, nil
}

// soonestRecoveredLocked 所有 Key 都在冷却时，返回剩余冷却时间最短的下标
func (p *KeyPool) soonestRecoveredLocked() int {
	best := p.next % len(p.keys)
	bestRemaining := p.detector.CooldownRemaining(p.keys[best])

	for i := 1; i < len(p.keys); i++ {
		idx := (p.next + i) % len(p.keys)
		if remaining := p.detector.CooldownRemaining(p.keys[idx]); remaining < bestRemaining {
			best, bestRemaining = idx, remaining
		}
	}
	return best
}

// SetKeys 替换 Key 列表并重置轮询位置，移除的 Key 同时清理其故障状态
func (p *KeyPool) SetKeys(keys []string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	kept := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		kept[key] = struct{}{}
	}
	for _, old := range p.keys {
		if _, ok := kept[old]; ok {
			continue
		}
		delete(p.keyCounts, old)
		if p.detector != nil {
			p.detector.Forget(old)
		}
	}

	p.keys = append([]string(nil), keys...)
	p.next = 0
}

// Stats 获取统计信息，Key 均已脱敏
func (p *KeyPool) Stats() PoolStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	stats := PoolStats{
		KeyCount:        len(p.keys),
		TotalSelections: p.totalSelections,
		KeyCounts:       make(map[string]int64, len(p.keyCounts)),
		LastSelection:   p.lastSelection,
		Keys:            make([]FailureStats, 0, len(p.keys)),
	}

	for key, count := range p.keyCounts {
		stats.KeyCounts[MaskKey(key)] = count
	}

	for _, key := range p.keys {
		if p.detector == nil {
			stats.AvailableKeys++
			stats.Keys = append(stats.Keys, FailureStats{Key: MaskKey(key)})
			continue
		}
		keyStats := p.detector.Stats(key)
		if !keyStats.IsInCooldown {
			stats.AvailableKeys++
		}
		stats.Keys = append(stats.Keys, keyStats)
	}

	return stats
}
