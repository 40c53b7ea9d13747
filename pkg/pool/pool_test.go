package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/lk2023060901/xpool/pkg/breaker"
	"github.com/lk2023060901/xpool/pkg/logger"
)

// testConn 测试用资源
type testConn struct {
	id int
}

// testBackend 可编程的工厂/校验器/销毁器
type testBackend struct {
	mu       sync.Mutex
	nextID   int
	created  []*testConn
	disposed []*testConn

	failFactory  atomic.Bool
	failValidate atomic.Bool

	// blockFactory 为真时工厂阻塞在 factoryGate 上，
	// 用于制造“创建中”的中间状态
	blockFactory atomic.Bool
	factoryGate  chan struct{}
}

func newTestBackend() *testBackend {
	return &testBackend{}
}

func (b *testBackend) factory(ctx context.Context) (*testConn, error) {
	if b.failFactory.Load() {
		return nil, assert.AnError
	}
	if b.blockFactory.Load() {
		<-b.factoryGate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	c := &testConn{id: b.nextID}
	b.created = append(b.created, c)
	return c, nil
}

func (b *testBackend) validator(ctx context.Context, c *testConn) error {
	if b.failValidate.Load() {
		return assert.AnError
	}
	return nil
}

func (b *testBackend) disposer(ctx context.Context, c *testConn) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disposed = append(b.disposed, c)
	return nil
}

func (b *testBackend) factoryCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.created)
}

func (b *testBackend) disposedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.disposed)
}

func (b *testBackend) wasDisposed(c *testConn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.disposed {
		if d == c {
			return true
		}
	}
	return false
}

// testConfig 小而快的默认测试配置，健康检查间隔拉长以便手动触发
func testConfig() *Config {
	return &Config{
		MinSize:                 2,
		MaxSize:                 4,
		MaxIdleTime:             time.Minute,
		MaxLifetime:             time.Hour,
		AcquireTimeout:          50 * time.Millisecond,
		HealthCheckInterval:     time.Hour,
		RetryAttempts:           1,
		RetryDelay:              time.Millisecond,
		CircuitFailureThreshold: 100,
		CircuitRecoveryTimeout:  time.Minute,
		CircuitHalfOpenMaxCalls: 1,
	}
}

func newTestPool(t *testing.T, cfg *Config, b *testBackend) *Pool[*testConn] {
	t.Helper()
	p, err := New(cfg, b.factory, b.validator, b.disposer,
		WithLogger[*testConn](logger.NewNoop()),
		WithName[*testConn]("test"))
	require.NoError(t, err)
	return p
}

func startTestPool(t *testing.T, cfg *Config, b *testBackend) *Pool[*testConn] {
	t.Helper()
	p := newTestPool(t, cfg, b)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Close(ctx)
	})
	return p
}

func TestNewValidation(t *testing.T) {
	b := newTestBackend()

	t.Run("nil factory", func(t *testing.T) {
		_, err := New[*testConn](testConfig(), nil, b.validator, b.disposer)
		assert.ErrorIs(t, err, ErrNilFactory)
	})

	t.Run("min greater than max", func(t *testing.T) {
		cfg := testConfig()
		cfg.MinSize = 5
		cfg.MaxSize = 2
		_, err := New(cfg, b.factory, b.validator, b.disposer)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("zero values filled from defaults", func(t *testing.T) {
		p, err := New(&Config{}, b.factory, b.validator, b.disposer)
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().MaxSize, p.config.MaxSize)
	})
}

func TestStartWarmsMinSize(t *testing.T) {
	b := newTestBackend()
	p := startTestPool(t, testConfig(), b)

	assert.Equal(t, 2, b.factoryCalls())
	m := p.Stats()
	assert.Equal(t, 2, m.Total)
	assert.Equal(t, 2, m.Idle)
	assert.Equal(t, 0, m.Active)
	assert.Equal(t, StateHealthy, m.PoolState)
}

func TestStartFactoryFailureIsNonFatal(t *testing.T) {
	b := newTestBackend()
	b.failFactory.Store(true)
	p := startTestPool(t, testConfig(), b)

	m := p.Stats()
	assert.Equal(t, 0, m.Total)
	assert.Equal(t, 0, m.Idle)
}

func TestStartTwice(t *testing.T) {
	b := newTestBackend()
	p := startTestPool(t, testConfig(), b)
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)
}

func TestAcquireBeforeStart(t *testing.T) {
	b := newTestBackend()
	p := newTestPool(t, testConfig(), b)
	_, err := p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolNotStarted)
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	b := newTestBackend()
	p := startTestPool(t, testConfig(), b)
	ctx := context.Background()

	res, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NotNil(t, res)

	m := p.Stats()
	assert.Equal(t, 1, m.Active)
	assert.Equal(t, 1, m.Idle)
	assert.Equal(t, int64(1), m.Acquired)

	p.Release(res)
	m = p.Stats()
	assert.Equal(t, 0, m.Active)
	assert.Equal(t, 2, m.Idle)
	assert.Equal(t, int64(1), m.Released)
}

func TestAcquireTimeoutAtCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.MinSize = 2
	cfg.MaxSize = 2
	b := newTestBackend()
	p := startTestPool(t, cfg, b)
	ctx := context.Background()

	r1, err := p.Acquire(ctx)
	require.NoError(t, err)
	r2, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, r1, r2)

	// 池已满且无空闲，第三次借出超时
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrAcquireTimeout)
	assert.Equal(t, int64(1), p.Stats().Timeouts)
}

func TestBlockedAcquireWokenByRelease(t *testing.T) {
	cfg := testConfig()
	cfg.MinSize = 2
	cfg.MaxSize = 2
	cfg.AcquireTimeout = 2 * time.Second
	b := newTestBackend()
	p := startTestPool(t, cfg, b)
	ctx := context.Background()

	r1, err := p.Acquire(ctx)
	require.NoError(t, err)
	_, err = p.Acquire(ctx)
	require.NoError(t, err)

	got := make(chan *testConn, 1)
	go func() {
		res, err := p.Acquire(ctx)
		if err == nil {
			got <- res
		}
		close(got)
	}()

	// 等第三个调用方挂起后归还，它应在 AcquireTimeout 内拿到同一资源
	time.Sleep(20 * time.Millisecond)
	p.Release(r1)

	select {
	case res, ok := <-got:
		require.True(t, ok, "blocked acquire should succeed after release")
		assert.Same(t, r1, res)
	case <-time.After(cfg.AcquireTimeout):
		t.Fatal("blocked acquire was not woken by release")
	}
}

func TestTotalNeverExceedsMaxSize(t *testing.T) {
	cfg := testConfig()
	cfg.MinSize = 1
	cfg.MaxSize = 3
	cfg.AcquireTimeout = 10 * time.Millisecond
	b := newTestBackend()
	p := startTestPool(t, cfg, b)
	ctx := context.Background()

	var wg sync.WaitGroup
	var maxSeen atomic.Int64
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Acquire(ctx)
			if err != nil {
				return
			}
			m := p.Stats()
			if int64(m.Total) > maxSeen.Load() {
				maxSeen.Store(int64(m.Total))
			}
			time.Sleep(time.Millisecond)
			p.Release(res)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen.Load(), int64(cfg.MaxSize))
	m := p.Stats()
	assert.LessOrEqual(t, m.Total, cfg.MaxSize)
	assert.GreaterOrEqual(t, m.Total, 0)
}

func TestAcquireAfterClose(t *testing.T) {
	b := newTestBackend()
	p := startTestPool(t, testConfig(), b)
	ctx := context.Background()

	res, err := p.Acquire(ctx)
	require.NoError(t, err)

	// 资源未归还，用带期限的 ctx 强制关闭
	closeCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Close(closeCtx))

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrPoolClosed)

	// 关闭后的归还是静默 no-op
	p.Release(res)

	m := p.Stats()
	assert.Equal(t, 0, m.Total)
	assert.Equal(t, 0, m.Idle)
	assert.Equal(t, 0, m.Active)
	assert.Equal(t, StateClosed, m.PoolState)
}

func TestCloseDisposesAllKnownResources(t *testing.T) {
	b := newTestBackend()
	p := startTestPool(t, testConfig(), b)
	ctx := context.Background()

	// 一个借出中、一个空闲，关闭时都要被销毁
	_, err := p.Acquire(ctx)
	require.NoError(t, err)

	closeCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Close(closeCtx))
	assert.Equal(t, 2, b.disposedCount())

	// 幂等
	require.NoError(t, p.Close(closeCtx))
	assert.Equal(t, 2, b.disposedCount())
}

func TestCloseWaitsForCheckedOutResources(t *testing.T) {
	b := newTestBackend()
	p := startTestPool(t, testConfig(), b)

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = p.Close(context.Background())
		close(done)
	}()

	// 优雅排水进行中：借出的资源不会被提前销毁
	time.Sleep(30 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("close returned while a resource was still checked out")
	default:
	}
	assert.False(t, b.wasDisposed(res))

	p.Release(res)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close did not finish after the last release")
	}
	assert.True(t, b.wasDisposed(res))
}

func TestCloseForcedByContextDeadline(t *testing.T) {
	b := newTestBackend()
	p := startTestPool(t, testConfig(), b)

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	require.NoError(t, p.Close(ctx))

	// 等满期限后强制关闭，未归还的资源一并销毁
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.True(t, b.wasDisposed(res))
}

func TestEnqueueAfterCloseIsDropped(t *testing.T) {
	b := newTestBackend()
	p := startTestPool(t, testConfig(), b)
	ctx := context.Background()

	require.NoError(t, p.Close(ctx))

	// 与 Close 竞争的入队被丢弃，空闲队列不会混入已销毁的引用
	p.enqueue(ctx, newPooledConnection(&testConn{id: 99}))
	assert.Equal(t, 0, len(p.idle))
	assert.Equal(t, 0, p.Stats().Idle)
}

func TestReleaseUnknownResource(t *testing.T) {
	b := newTestBackend()
	p := startTestPool(t, testConfig(), b)

	// 不属于本池的资源：记录日志后忽略，绝不 panic
	p.Release(&testConn{id: 999})

	m := p.Stats()
	assert.Equal(t, 2, m.Total)
	assert.Equal(t, int64(0), m.Released)
}

func TestDoubleRelease(t *testing.T) {
	b := newTestBackend()
	p := startTestPool(t, testConfig(), b)
	ctx := context.Background()

	res, err := p.Acquire(ctx)
	require.NoError(t, err)

	p.Release(res)
	p.Release(res)

	m := p.Stats()
	assert.Equal(t, int64(1), m.Released)
	assert.Equal(t, 2, m.Idle)
}

func TestReleaseExpiredResourceIsDisposed(t *testing.T) {
	cfg := testConfig()
	cfg.MinSize = 1
	cfg.MaxSize = 2
	cfg.MaxLifetime = 30 * time.Millisecond
	b := newTestBackend()
	p := startTestPool(t, cfg, b)
	ctx := context.Background()

	res, err := p.Acquire(ctx)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	p.Release(res)

	assert.True(t, b.wasDisposed(res))

	// 低于最小水位，同步补建了一个
	m := p.Stats()
	assert.Equal(t, 1, m.Total)
	assert.Equal(t, 1, m.Idle)

	// 过期资源绝不会再被借出
	got, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, res, got)
}

func TestReleaseUnhealthyResourceIsDisposed(t *testing.T) {
	cfg := testConfig()
	cfg.MinSize = 1
	cfg.MaxSize = 2
	b := newTestBackend()
	p := startTestPool(t, cfg, b)
	ctx := context.Background()

	res, err := p.Acquire(ctx)
	require.NoError(t, err)

	p.MarkUnhealthy(res)
	p.Release(res)

	assert.True(t, b.wasDisposed(res))
	assert.Equal(t, 1, p.Stats().Total)
}

func TestAcquireEvictsStaleIdleResource(t *testing.T) {
	cfg := testConfig()
	cfg.MinSize = 1
	cfg.MaxSize = 2
	cfg.MaxIdleTime = 20 * time.Millisecond
	b := newTestBackend()
	p := startTestPool(t, cfg, b)
	ctx := context.Background()

	stale := b.created[0]
	time.Sleep(30 * time.Millisecond)

	// 空闲超限：销毁并恰好补建一个，调用方拿到新资源
	res, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, stale, res)
	assert.True(t, b.wasDisposed(stale))
	assert.Equal(t, 2, b.factoryCalls())
}

func TestCircuitOpensAfterSustainedFailures(t *testing.T) {
	cfg := testConfig()
	cfg.MinSize = 1
	cfg.MaxSize = 1
	cfg.AcquireTimeout = 5 * time.Millisecond
	cfg.CircuitFailureThreshold = 3
	b := newTestBackend()

	// 预热失败，之后每次借出都会等待超时并记为失败
	b.failFactory.Store(true)
	p := startTestPool(t, cfg, b)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := p.Acquire(ctx)
		require.Error(t, err)
	}
	assert.Equal(t, breaker.StateOpen, p.Stats().CircuitState)
	assert.Equal(t, StateDegraded, p.Stats().PoolState)

	// 熔断打开后快速失败：不调用工厂、不排队
	b.failFactory.Store(false)
	calls := b.factoryCalls()
	start := time.Now()
	_, err := p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, calls, b.factoryCalls())
	assert.Less(t, time.Since(start), cfg.AcquireTimeout)

	// 熔断拒绝同样计入滑动窗口，与 Prometheus 计数口径一致
	assert.Equal(t, int64(4), p.window.GetStats().FailureCount)
}

func TestCircuitRecoversAfterTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.MinSize = 1
	cfg.MaxSize = 1
	cfg.AcquireTimeout = 5 * time.Millisecond
	cfg.CircuitFailureThreshold = 2
	cfg.CircuitRecoveryTimeout = 50 * time.Millisecond
	cfg.CircuitHalfOpenMaxCalls = 1
	b := newTestBackend()

	b.failFactory.Store(true)
	p := startTestPool(t, cfg, b)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := p.Acquire(ctx)
		require.Error(t, err)
	}
	require.Equal(t, breaker.StateOpen, p.Stats().CircuitState)

	// 后端恢复，等待熔断恢复超时后试探成功，熔断闭合
	b.failFactory.Store(false)
	time.Sleep(60 * time.Millisecond)

	res, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, breaker.StateClosed, p.Stats().CircuitState)
	p.Release(res)
}

func TestHalfOpenSurvivesAbandonedTrial(t *testing.T) {
	cfg := testConfig()
	cfg.MinSize = 1
	cfg.MaxSize = 1
	cfg.AcquireTimeout = 5 * time.Millisecond
	cfg.CircuitFailureThreshold = 1
	cfg.CircuitRecoveryTimeout = 30 * time.Millisecond
	cfg.CircuitHalfOpenMaxCalls = 1
	b := newTestBackend()

	b.failFactory.Store(true)
	p := startTestPool(t, cfg, b)

	_, err := p.Acquire(context.Background())
	require.Error(t, err)
	require.Equal(t, breaker.StateOpen, p.Stats().CircuitState)

	// 后端恢复，等待熔断恢复超时
	b.failFactory.Store(false)
	time.Sleep(40 * time.Millisecond)

	// 唯一的半开试探被已取消的上下文放弃，试探名额必须归还
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Acquire(cancelled)
	require.ErrorIs(t, err, context.Canceled)

	// 名额未泄漏：后续借出照常试探，成功后熔断闭合
	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, breaker.StateClosed, p.Stats().CircuitState)
	p.Release(res)
}

func TestContextCancelledWaitDoesNotTripBreaker(t *testing.T) {
	cfg := testConfig()
	cfg.MinSize = 1
	cfg.MaxSize = 1
	cfg.AcquireTimeout = time.Second
	cfg.CircuitFailureThreshold = 1
	b := newTestBackend()
	p := startTestPool(t, cfg, b)

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(res)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// 调用方取消不算后端故障
	assert.Equal(t, breaker.StateClosed, p.Stats().CircuitState)
}

func TestHealthCheckEvictsAndReplenishes(t *testing.T) {
	cfg := testConfig()
	cfg.MinSize = 1
	cfg.MaxSize = 2
	b := newTestBackend()
	p := startTestPool(t, cfg, b)
	ctx := context.Background()

	first := b.created[0]

	// 唯一的空闲资源校验失败：销毁后总量低于 MinSize，恰好补建一个
	b.failValidate.Store(true)
	p.runHealthCheck(ctx)
	b.failValidate.Store(false)

	assert.True(t, b.wasDisposed(first))
	assert.Equal(t, 2, b.factoryCalls())

	m := p.Stats()
	assert.Equal(t, 1, m.Total)
	assert.Equal(t, 1, m.Idle)
}

func TestHealthCheckKeepsHealthyResources(t *testing.T) {
	b := newTestBackend()
	p := startTestPool(t, testConfig(), b)

	p.runHealthCheck(context.Background())

	assert.Equal(t, 0, b.disposedCount())
	assert.Equal(t, 2, b.factoryCalls())
	assert.Equal(t, 2, p.Stats().Idle)
}

func TestHealthCheckSurvivesFactoryFailure(t *testing.T) {
	cfg := testConfig()
	cfg.MinSize = 1
	cfg.MaxSize = 2
	b := newTestBackend()
	p := startTestPool(t, cfg, b)
	ctx := context.Background()

	b.failValidate.Store(true)
	b.failFactory.Store(true)
	p.runHealthCheck(ctx)

	// 工厂失败只记录日志，循环不崩溃，池为空但可恢复
	assert.Equal(t, 0, p.Stats().Total)

	b.failValidate.Store(false)
	b.failFactory.Store(false)
	p.runHealthCheck(ctx)
	assert.Equal(t, 1, p.Stats().Total)
}

func TestActiveExcludesPendingCreations(t *testing.T) {
	cfg := testConfig()
	cfg.MinSize = 1
	cfg.MaxSize = 2
	cfg.AcquireTimeout = 5 * time.Millisecond
	b := newTestBackend()
	p := startTestPool(t, cfg, b)
	ctx := context.Background()

	r1, err := p.Acquire(ctx)
	require.NoError(t, err)

	// 第二次借出等待超时后新建，工厂阻塞在闸门上
	b.factoryGate = make(chan struct{})
	b.blockFactory.Store(true)
	acquired := make(chan *testConn, 1)
	go func() {
		res, err := p.Acquire(ctx)
		if err == nil {
			acquired <- res
		}
		close(acquired)
	}()

	time.Sleep(30 * time.Millisecond)
	m := p.Stats()
	assert.Equal(t, 2, m.Total, "创建中的预留槽位计入总量")
	assert.Equal(t, 1, m.Active, "预留槽位不计入借出数")
	assert.Equal(t, 0, m.Idle)

	close(b.factoryGate)
	res, ok := <-acquired
	require.True(t, ok)
	p.Release(res)
	p.Release(r1)
}

func TestStatsSaturated(t *testing.T) {
	cfg := testConfig()
	cfg.MinSize = 1
	cfg.MaxSize = 1
	b := newTestBackend()
	p := startTestPool(t, cfg, b)

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSaturated, p.Stats().PoolState)
	p.Release(res)
	assert.Equal(t, StateHealthy, p.Stats().PoolState)
}

func TestStatsUnstarted(t *testing.T) {
	b := newTestBackend()
	p := newTestPool(t, testConfig(), b)
	assert.Equal(t, StateUnstarted, p.Stats().PoolState)
}

func TestUseCountAndTimestamps(t *testing.T) {
	cfg := testConfig()
	cfg.MinSize = 1
	cfg.MaxSize = 1
	b := newTestBackend()
	p := startTestPool(t, cfg, b)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := p.Acquire(ctx)
		require.NoError(t, err)
		p.Release(res)
	}

	p.mu.Lock()
	require.Len(t, p.conns, 1)
	var pc *PooledConnection[*testConn]
	for _, c := range p.conns {
		pc = c
	}
	p.mu.Unlock()

	assert.Equal(t, int64(3), pc.UseCount())
	assert.False(t, pc.LastUsedAt().Before(pc.CreatedAt()))
}
