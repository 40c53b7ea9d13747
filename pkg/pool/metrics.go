package pool

import (
	"time"

	"github.com/lk2023060901/xpool/pkg/breaker"
)

// Metrics 连接池状态的不可变快照，由 Stats 重新计算
type Metrics struct {
	// 当前已知资源总数（含创建中的预留槽位）
	Total int `json:"total"`
	// 已借出未归还的资源数，不含创建中的预留槽位
	Active int `json:"active"`
	// 空闲队列中的资源数
	Idle int `json:"idle"`
	// 正在等待借出的调用数
	Pending int `json:"pending"`

	// 累计借出成功次数
	Acquired int64 `json:"acquired"`
	// 累计归还次数
	Released int64 `json:"released"`
	// 累计借出超时次数
	Timeouts int64 `json:"timeouts"`
	// 累计借出失败次数（不含熔断拒绝）
	Errors int64 `json:"errors"`

	// 滑动窗口内的平均借出耗时
	AvgAcquireLatency time.Duration `json:"avg_acquire_latency"`

	// 池的衍生状态
	PoolState State `json:"pool_state"`
	// 熔断器当前状态
	CircuitState breaker.State `json:"circuit_state"`
}

// Stats 返回当前指标快照
func (p *Pool[R]) Stats() Metrics {
	p.mu.Lock()
	total := p.total
	started := p.started
	closed := p.closed
	active := 0
	for _, pc := range p.conns {
		if pc.isInUse() {
			active++
		}
	}
	p.mu.Unlock()

	idle := len(p.idle)
	circuit := p.breaker.State()

	m := Metrics{
		Total:        total,
		Active:       active,
		Idle:         idle,
		Pending:      int(p.pending.Load()),
		Acquired:     p.acquired.Load(),
		Released:     p.released.Load(),
		Timeouts:     p.timeouts.Load(),
		Errors:       p.failures.Load(),
		CircuitState: circuit,
	}
	if p.window != nil {
		m.AvgAcquireLatency = p.window.AvgLatency()
	}
	m.PoolState = deriveState(started, closed, circuit, total, idle, p.config.MaxSize)
	return m
}

// deriveState 根据池和熔断器状态推导整体状态
func deriveState(started, closed bool, circuit breaker.State, total, idle, maxSize int) State {
	switch {
	case closed:
		return StateClosed
	case !started:
		return StateUnstarted
	case circuit == breaker.StateOpen:
		return StateDegraded
	case total >= maxSize && idle == 0:
		return StateSaturated
	default:
		return StateHealthy
	}
}
