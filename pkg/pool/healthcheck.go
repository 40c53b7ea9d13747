package pool

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// healthLoop 后台健康检查循环，Close 时通过 stopCh 退出
func (p *Pool[R]) healthLoop() {
	ticker := time.NewTicker(p.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.runHealthCheck(context.Background())
		case <-p.stopCh:
			return
		}
	}
}

// runHealthCheck 单轮健康检查
//
// 非阻塞地抽干空闲队列，对每个资源在锁外重新校验：
// 健康的放回队列，其余销毁；之后若总量低于 MinSize，
// 尽力补建到最小水位。工厂失败只记录日志，循环永不崩溃。
// 这是唯一主动淘汰无人借出的空闲资源的路径。
func (p *Pool[R]) runHealthCheck(ctx context.Context) {
	var drained []*PooledConnection[R]

drain:
	for {
		select {
		case pc := <-p.idle:
			drained = append(drained, pc)
		default:
			break drain
		}
	}

	evicted := 0
	for _, pc := range drained {
		if p.validateConn(ctx, pc) {
			p.enqueue(ctx, pc)
			continue
		}
		p.destroyConn(ctx, pc)
		evicted++
		if p.prom != nil {
			p.prom.RecordHealthCheckFailure()
		}
	}

	created := 0
	for {
		p.mu.Lock()
		need := !p.closed && p.total < p.config.MinSize
		p.mu.Unlock()
		if !need {
			break
		}

		pc, err := p.createConn(ctx)
		if err != nil {
			if !errors.Is(err, errAtCapacity) {
				p.log.Warn("health check replenish failed", "error", err)
			}
			break
		}
		p.enqueue(ctx, pc)
		created++
	}

	if evicted > 0 || created > 0 {
		p.log.Debug("health check completed",
			"checked", len(drained),
			"evicted", evicted,
			"created", created)
	}
	p.observe()
}
