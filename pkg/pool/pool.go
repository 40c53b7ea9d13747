// Package pool 实现通用的进程内异步资源池：
// 有硬上限的资源总量、借出前的过期/健康校验、熔断器背压，
// 以及一个周期性重验空闲资源并补足最小水位的后台任务。
//
// 所有簿记（空闲队列、全量资源表、计数器）在一把互斥锁下串行化；
// 工厂、校验器、销毁器等可能阻塞的 I/O 一律在锁外执行。
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/xpool/pkg/breaker"
	"github.com/lk2023060901/xpool/pkg/conc"
	"github.com/lk2023060901/xpool/pkg/config"
	"github.com/lk2023060901/xpool/pkg/logger"
	"github.com/lk2023060901/xpool/pkg/metrics/sliding"
	"go.uber.org/atomic"
)

// Pool 通用资源连接池
type Pool[R comparable] struct {
	config *Config
	name   string
	log    logger.Logger

	factory   Factory[R]
	validator Validator[R]
	disposer  Disposer[R]

	// mu 保护 conns、total、started、closed
	mu      sync.Mutex
	conns   map[R]*PooledConnection[R]
	total   int // 已知资源数 + 创建中的预留槽位
	started bool
	closed  bool

	// 空闲队列，容量等于 MaxSize，阻塞等待者按 FIFO 唤醒
	idle chan *PooledConnection[R]

	breaker *breaker.Breaker
	window  *sliding.Window
	prom    *PoolMetrics

	pending  atomic.Int64
	acquired atomic.Int64
	released atomic.Int64
	timeouts atomic.Int64
	failures atomic.Int64

	stopCh      chan struct{}
	healthCheck *conc.Future[struct{}]
}

// New 创建连接池，创建后处于未启动状态，需调用 Start
func New[R comparable](
	cfg *Config,
	factory Factory[R],
	validator Validator[R],
	disposer Disposer[R],
	opts ...Option[R],
) (*Pool[R], error) {
	merged, err := config.MergeConfig(DefaultConfig(), cfg)
	if err != nil {
		return nil, err
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, ErrNilFactory
	}

	brk, err := breaker.New(&breaker.Config{
		FailureThreshold: merged.CircuitFailureThreshold,
		RecoveryTimeout:  merged.CircuitRecoveryTimeout,
		HalfOpenMaxCalls: merged.CircuitHalfOpenMaxCalls,
	})
	if err != nil {
		return nil, err
	}

	p := &Pool[R]{
		config:    merged,
		name:      "pool",
		log:       logger.Default().Named("xpool"),
		factory:   factory,
		validator: validator,
		disposer:  disposer,
		conns:     make(map[R]*PooledConnection[R]),
		idle:      make(chan *PooledConnection[R], merged.MaxSize),
		breaker:   brk,
		stopCh:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithFields("pool", p.name)

	return p, nil
}

// Start 预热 MinSize 个资源并启动后台健康检查
//
// 单个资源在重试用尽后仍创建失败只记录日志，不阻止启动。
func (p *Pool[R]) Start(ctx context.Context) error {
	window, err := sliding.NewWindow(nil)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		window.Stop()
		return ErrPoolClosed
	}
	if p.started {
		p.mu.Unlock()
		window.Stop()
		return ErrAlreadyStarted
	}
	p.window = window
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.config.MinSize; i++ {
		pc, err := p.createConn(ctx)
		if err != nil {
			p.log.Warn("warm-up connection failed",
				"index", i, "error", err)
			continue
		}
		p.enqueue(ctx, pc)
	}

	p.healthCheck = conc.Go(func() (struct{}, error) {
		p.healthLoop()
		return struct{}{}, nil
	})

	p.log.Info("pool started",
		"min_size", p.config.MinSize,
		"max_size", p.config.MaxSize,
		"warmed", len(p.idle))
	p.observe()
	return nil
}

// Acquire 借出一个资源
//
// 失败返回 ErrPoolClosed、ErrCircuitOpen、ErrAcquireTimeout
// 或包装后的工厂错误。排队等待阶段受 AcquireTimeout 约束；
// 工厂与校验器的耗时不计入该超时，由回调自身控制。
func (p *Pool[R]) Acquire(ctx context.Context) (R, error) {
	var zero R

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, ErrPoolClosed
	}
	if !p.started {
		p.mu.Unlock()
		return zero, ErrPoolNotStarted
	}
	p.mu.Unlock()

	start := time.Now()

	// 熔断器背压：打开时快速失败，不触发工厂、不排队
	if !p.breaker.Allow() {
		latency := time.Since(start)
		p.window.Record(latency, false)
		if p.prom != nil {
			p.prom.RecordAcquire(latency, ErrCircuitOpen)
		}
		return zero, ErrCircuitOpen
	}

	pc, err := p.acquireConn(ctx)

	latency := time.Since(start)
	p.window.Record(latency, err == nil)
	if p.prom != nil {
		p.prom.RecordAcquire(latency, err)
	}

	if err != nil {
		if errors.Is(err, ErrAcquireTimeout) {
			p.timeouts.Inc()
		}
		// 调用方取消和池关闭不算后端故障，不上报熔断器；
		// 但 Allow 已消耗的半开试探名额必须归还，
		// 否则被放弃的试探会永久占满名额
		if p.countsAsFailure(err) {
			p.failures.Inc()
			p.breaker.RecordFailure()
		} else {
			p.breaker.Abandon()
		}
		p.observe()
		return zero, err
	}

	p.breaker.RecordSuccess()
	p.acquired.Inc()
	pc.checkOut()
	p.observe()
	return pc.Resource(), nil
}

// countsAsFailure 判断错误是否作为池故障上报熔断器
func (p *Pool[R]) countsAsFailure(err error) bool {
	if errors.Is(err, ErrPoolClosed) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// acquireConn 等待空闲资源或新建资源
func (p *Pool[R]) acquireConn(ctx context.Context) (*PooledConnection[R], error) {
	p.pending.Inc()
	defer p.pending.Dec()

	timer := time.NewTimer(p.config.AcquireTimeout)
	defer timer.Stop()

	select {
	case pc := <-p.idle:
		return p.checkout(ctx, pc)

	case <-timer.C:
		// 等待超时：容量未满则同步新建，已满则失败
		pc, err := p.createConn(ctx)
		if err != nil {
			if errors.Is(err, errAtCapacity) {
				return nil, ErrAcquireTimeout
			}
			return nil, err
		}
		return pc, nil

	case <-ctx.Done():
		// 中途取消：放弃等待，不预留槽位
		return nil, errors.Wrap(ctx.Err(), "xpool: acquire abandoned")

	case <-p.stopCh:
		return nil, ErrPoolClosed
	}
}

// checkout 校验取到的空闲资源；不合格则销毁并恰好补建一个
//
// 调用方拿到的资源保证未超过 MaxLifetime 和 MaxIdleTime。
func (p *Pool[R]) checkout(ctx context.Context, pc *PooledConnection[R]) (*PooledConnection[R], error) {
	if p.validateConn(ctx, pc) {
		return pc, nil
	}

	p.destroyConn(ctx, pc)

	replacement, err := p.createConn(ctx)
	if err != nil {
		if errors.Is(err, errAtCapacity) {
			// 刚释放的槽位被并发抢占
			return nil, ErrAcquireTimeout
		}
		return nil, err
	}
	return replacement, nil
}

// validateConn 综合校验：生命周期、空闲时间、健康标记、注入的校验器
// 校验器在锁外执行
func (p *Pool[R]) validateConn(ctx context.Context, pc *PooledConnection[R]) bool {
	if !pc.IsHealthy() {
		return false
	}
	if pc.Age() >= p.config.MaxLifetime {
		p.log.Debug("connection exceeded max lifetime", "age", pc.Age())
		return false
	}
	if pc.IdleTime() >= p.config.MaxIdleTime {
		p.log.Debug("connection exceeded max idle time", "idle", pc.IdleTime())
		return false
	}
	if p.validator != nil {
		if err := p.validator(ctx, pc.Resource()); err != nil {
			p.log.Debug("connection failed validation", "error", err)
			return false
		}
	}
	return true
}

// createConn 预留槽位后在锁外调用工厂，带有界重试
//
// 池已达最大容量时返回 errAtCapacity。
func (p *Pool[R]) createConn(ctx context.Context) (*PooledConnection[R], error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if p.total >= p.config.MaxSize {
		p.mu.Unlock()
		return nil, errAtCapacity
	}
	p.total++
	p.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= p.config.RetryAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(p.config.RetryDelay):
			case <-ctx.Done():
				p.releaseSlot()
				return nil, errors.Wrap(ctx.Err(), "xpool: creation cancelled")
			case <-p.stopCh:
				p.releaseSlot()
				return nil, ErrPoolClosed
			}
		}

		res, err := p.factory(ctx)
		if err != nil {
			lastErr = err
			p.log.Warn("factory failed",
				"attempt", attempt,
				"max_attempts", p.config.RetryAttempts,
				"error", err)
			continue
		}

		pc := newPooledConnection(res)
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.releaseSlot()
			p.dispose(ctx, res)
			return nil, ErrPoolClosed
		}
		p.conns[res] = pc
		p.mu.Unlock()
		return pc, nil
	}

	p.releaseSlot()
	return nil, errors.Wrap(lastErr, "xpool: factory failed after retries")
}

// releaseSlot 归还一个预留槽位
func (p *Pool[R]) releaseSlot() {
	p.mu.Lock()
	p.total--
	p.mu.Unlock()
}

// destroyConn 从池中移除连接并在锁外销毁底层资源
func (p *Pool[R]) destroyConn(ctx context.Context, pc *PooledConnection[R]) {
	p.mu.Lock()
	delete(p.conns, pc.resource)
	p.total--
	p.mu.Unlock()

	p.dispose(ctx, pc.resource)
	if p.prom != nil {
		p.prom.RecordDestroyed()
	}
}

// dispose 调用注入的销毁器，错误只记录日志
func (p *Pool[R]) dispose(ctx context.Context, res R) {
	if p.disposer == nil {
		return
	}
	if err := p.disposer(ctx, res); err != nil {
		p.log.Warn("disposer failed", "error", err)
	}
}

// enqueue 将连接放回空闲队列
//
// 池已关闭时不入队：连接仍在资源表里，由 Close 统一处置，
// 避免 Close 抽干队列之后又混入已销毁的引用。
func (p *Pool[R]) enqueue(ctx context.Context, pc *PooledConnection[R]) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	select {
	case p.idle <- pc:
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		// 队列容量等于 MaxSize，正常情况下到不了这里
		p.log.Error("idle queue full, destroying connection")
		p.destroyConn(ctx, pc)
	}
}

// Release 归还资源
//
// 未知资源和重复归还只记录日志，绝不报错。过期或被标记为
// 不健康的资源就地销毁；销毁后若总量低于 MinSize，同步补建
// 一个放回空闲队列。Release 不会阻塞等待队列。
func (p *Pool[R]) Release(res R) {
	p.mu.Lock()
	if p.closed {
		// Close 统一处置所有已知资源，这里只清除借出标记，
		// 让 Close 的优雅排水尽快结束
		pc, ok := p.conns[res]
		p.mu.Unlock()
		if ok {
			pc.checkIn()
		}
		return
	}
	pc, ok := p.conns[res]
	p.mu.Unlock()

	if !ok {
		p.log.Warn("release of unknown resource ignored")
		return
	}
	if !pc.checkIn() {
		p.log.Warn("duplicate release ignored")
		return
	}

	p.released.Inc()
	ctx := context.Background()

	if pc.Age() >= p.config.MaxLifetime || !pc.IsHealthy() {
		p.destroyConn(ctx, pc)

		p.mu.Lock()
		needReplacement := p.total < p.config.MinSize
		p.mu.Unlock()

		if needReplacement {
			replacement, err := p.createConn(ctx)
			if err != nil {
				if !errors.Is(err, errAtCapacity) {
					p.log.Warn("replacement creation failed", "error", err)
				}
			} else {
				p.enqueue(ctx, replacement)
			}
		}
		p.observe()
		return
	}

	p.enqueue(ctx, pc)
	p.observe()
}

// MarkUnhealthy 将某个已借出的资源标记为不健康，
// 归还时将被销毁而不是放回空闲队列
func (p *Pool[R]) MarkUnhealthy(res R) {
	p.mu.Lock()
	pc, ok := p.conns[res]
	p.mu.Unlock()
	if ok {
		pc.markUnhealthy()
	}
}

// Close 关闭连接池，幂等，终态
//
// 先停止后台任务，然后优雅排水：等待所有借出中的资源被归还，
// ctx 取消或到期即放弃等待转为强制关闭。随后销毁所有已知资源
// （销毁不受 ctx 取消影响）。传入带期限的 ctx 可限定排水时长。
func (p *Pool[R]) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stopCh)
	if p.healthCheck != nil {
		p.healthCheck.Await()
	}
	if p.window != nil {
		p.window.Stop()
	}

	p.awaitReturns(ctx)

	p.mu.Lock()
	// 关闭标记已置位，enqueue 不再入队，这里一次性抽干空闲队列
	// 并接管全部已知资源，之后不可能再有悬挂引用
drain:
	for {
		select {
		case <-p.idle:
		default:
			break drain
		}
	}
	remaining := make([]*PooledConnection[R], 0, len(p.conns))
	for _, pc := range p.conns {
		remaining = append(remaining, pc)
	}
	p.conns = make(map[R]*PooledConnection[R])
	p.total = 0
	p.mu.Unlock()

	disposeCtx := context.WithoutCancel(ctx)
	for _, pc := range remaining {
		p.dispose(disposeCtx, pc.resource)
	}

	p.log.Info("pool closed", "disposed", len(remaining))
	p.observe()
	return nil
}

// awaitReturns 等待所有借出中的资源归还，ctx 结束后放弃等待
func (p *Pool[R]) awaitReturns(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for p.checkedOut() > 0 {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			p.log.Warn("close forced with resources still checked out",
				"checked_out", p.checkedOut())
			return
		}
	}
}

// checkedOut 当前借出未归还的资源数
func (p *Pool[R]) checkedOut() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, pc := range p.conns {
		if pc.isInUse() {
			n++
		}
	}
	return n
}

// observe 刷新 Prometheus 侧的状态指标
func (p *Pool[R]) observe() {
	if p.prom == nil {
		return
	}
	p.mu.Lock()
	total := p.total
	active := 0
	for _, pc := range p.conns {
		if pc.isInUse() {
			active++
		}
	}
	p.mu.Unlock()

	idle := len(p.idle)
	p.prom.UpdatePoolStats(p.config.MaxSize, total, active, idle, int(p.pending.Load()))
	p.prom.SetCircuitState(p.breaker.State())
}
