// Package sliding 提供基于时间桶的滑动窗口统计，
// 用于计算最近一段时间内的平均耗时与成功率。
package sliding

import (
	"fmt"
	"sync"
	"time"

	"github.com/lk2023060901/xpool/pkg/conc"
	"github.com/lk2023060901/xpool/pkg/config"
)

// WindowConfig 滑动窗口配置
type WindowConfig struct {
	// 窗口大小
	WindowSize time.Duration `mapstructure:"window_size" json:"window_size"`
	// 桶数量
	BucketCount int `mapstructure:"bucket_count" json:"bucket_count"`
}

// DefaultWindowConfig 默认配置
func DefaultWindowConfig() *WindowConfig {
	return &WindowConfig{
		WindowSize:  60 * time.Second,
		BucketCount: 60,
	}
}

// bucket 时间桶
type bucket struct {
	count        int64
	totalLatency time.Duration
	successCnt   int64
	failureCnt   int64
	timestamp    time.Time
}

// Window 滑动窗口统计器
type Window struct {
	config *WindowConfig

	mu      sync.RWMutex
	buckets []bucket
	current int

	rotation *conc.Pool[struct{}]
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewWindow 创建滑动窗口统计器并启动桶轮转任务
func NewWindow(cfg *WindowConfig) (*Window, error) {
	merged, err := config.MergeConfig(DefaultWindowConfig(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to merge window config: %w", err)
	}
	if merged.WindowSize <= 0 || merged.BucketCount <= 0 {
		return nil, fmt.Errorf("sliding: window_size and bucket_count must be positive")
	}

	w := &Window{
		config:   merged,
		buckets:  make([]bucket, merged.BucketCount),
		rotation: conc.NewPool[struct{}](1),
		stopCh:   make(chan struct{}),
	}

	now := time.Now()
	for i := range w.buckets {
		w.buckets[i].timestamp = now
	}

	w.startRotation(merged.WindowSize / time.Duration(merged.BucketCount))
	return w, nil
}

// startRotation 启动桶轮转任务
func (w *Window) startRotation(interval time.Duration) {
	w.rotation.Submit(func() (struct{}, error) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.rotate()
			case <-w.stopCh:
				return struct{}{}, nil
			}
		}
	})
}

// rotate 轮转到下一个桶
func (w *Window) rotate() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.current = (w.current + 1) % len(w.buckets)
	w.buckets[w.current] = bucket{timestamp: time.Now()}
}

// Record 记录一次调用
func (w *Window) Record(latency time.Duration, success bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	b := &w.buckets[w.current]
	b.count++
	b.totalLatency += latency
	if success {
		b.successCnt++
	} else {
		b.failureCnt++
	}
}

// Stats 窗口统计结果
type Stats struct {
	// 窗口内总调用数
	TotalCount int64 `json:"total_count"`
	// 窗口内成功数
	SuccessCount int64 `json:"success_count"`
	// 窗口内失败数
	FailureCount int64 `json:"failure_count"`
	// 平均耗时
	AvgLatency time.Duration `json:"avg_latency"`
	// 成功率 (0-100)
	SuccessRate float64 `json:"success_rate"`
}

// GetStats 聚合窗口内所有有效桶
func (w *Window) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var stats Stats
	var totalLatency time.Duration

	windowStart := time.Now().Add(-w.config.WindowSize)
	for _, b := range w.buckets {
		if b.timestamp.Before(windowStart) || b.count == 0 {
			continue
		}
		stats.TotalCount += b.count
		stats.SuccessCount += b.successCnt
		stats.FailureCount += b.failureCnt
		totalLatency += b.totalLatency
	}

	if stats.TotalCount > 0 {
		stats.AvgLatency = totalLatency / time.Duration(stats.TotalCount)
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalCount) * 100
	}
	return stats
}

// AvgLatency 窗口内平均耗时
func (w *Window) AvgLatency() time.Duration {
	return w.GetStats().AvgLatency
}

// Stop 停止桶轮转，幂等
func (w *Window) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.rotation.Release()
	})
}
