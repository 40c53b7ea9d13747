package pool

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lk2023060901/xpool/pkg/breaker"
)

// PoolMetrics 连接池的 Prometheus 指标集合
type PoolMetrics struct {
	poolCapacity      prometheus.Gauge
	totalConnections  prometheus.Gauge
	activeConnections prometheus.Gauge
	idleConnections   prometheus.Gauge
	pendingAcquires   prometheus.Gauge
	circuitState      prometheus.Gauge

	acquireDuration     prometheus.Histogram
	acquiresTotal       prometheus.Counter
	acquireErrors       prometheus.Counter
	acquireTimeouts     prometheus.Counter
	circuitRejections   prometheus.Counter
	healthCheckFailures prometheus.Counter
	connsDestroyed      prometheus.Counter

	collectors []prometheus.Collector
}

// NewPoolMetrics 创建并注册连接池指标
// registerer 为 nil 时使用 prometheus.DefaultRegisterer
func NewPoolMetrics(namespace, subsystem, poolName string, registerer prometheus.Registerer) *PoolMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := prometheus.Labels{"pool": poolName}

	m := &PoolMetrics{
		poolCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "capacity",
			Help: "Maximum number of resources the pool may hold", ConstLabels: labels,
		}),
		totalConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "connections_total",
			Help: "Current number of resources known to the pool", ConstLabels: labels,
		}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "connections_active",
			Help: "Current number of checked-out resources", ConstLabels: labels,
		}),
		idleConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "connections_idle",
			Help: "Current number of idle resources", ConstLabels: labels,
		}),
		pendingAcquires: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "acquires_pending",
			Help: "Current number of callers waiting to acquire", ConstLabels: labels,
		}),
		circuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "circuit_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)", ConstLabels: labels,
		}),
		acquireDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "acquire_duration_seconds",
			Help:        "Acquire latency in seconds",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		acquiresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "acquires_total",
			Help: "Total acquire attempts", ConstLabels: labels,
		}),
		acquireErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "acquire_errors_total",
			Help: "Total failed acquires, excluding timeouts and circuit rejections", ConstLabels: labels,
		}),
		acquireTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "acquire_timeouts_total",
			Help: "Total acquires that timed out waiting for an idle resource", ConstLabels: labels,
		}),
		circuitRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "circuit_rejections_total",
			Help: "Total acquires rejected by the open circuit breaker", ConstLabels: labels,
		}),
		healthCheckFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "health_check_failures_total",
			Help: "Total idle resources evicted by the health check", ConstLabels: labels,
		}),
		connsDestroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "connections_destroyed_total",
			Help: "Total resources destroyed by the pool", ConstLabels: labels,
		}),
	}

	m.collectors = []prometheus.Collector{
		m.poolCapacity, m.totalConnections, m.activeConnections,
		m.idleConnections, m.pendingAcquires, m.circuitState,
		m.acquireDuration, m.acquiresTotal, m.acquireErrors,
		m.acquireTimeouts, m.circuitRejections,
		m.healthCheckFailures, m.connsDestroyed,
	}
	for _, c := range m.collectors {
		registerer.MustRegister(c)
	}
	return m
}

// UpdatePoolStats 刷新池的状态仪表
func (m *PoolMetrics) UpdatePoolStats(capacity, total, active, idle, pending int) {
	m.poolCapacity.Set(float64(capacity))
	m.totalConnections.Set(float64(total))
	m.activeConnections.Set(float64(active))
	m.idleConnections.Set(float64(idle))
	m.pendingAcquires.Set(float64(pending))
}

// RecordAcquire 记录一次借出结果
func (m *PoolMetrics) RecordAcquire(d time.Duration, err error) {
	m.acquiresTotal.Inc()
	m.acquireDuration.Observe(d.Seconds())

	switch {
	case err == nil:
	case errors.Is(err, ErrCircuitOpen):
		m.circuitRejections.Inc()
	case errors.Is(err, ErrAcquireTimeout):
		m.acquireTimeouts.Inc()
	default:
		m.acquireErrors.Inc()
	}
}

// RecordHealthCheckFailure 记录一次健康检查淘汰
func (m *PoolMetrics) RecordHealthCheckFailure() {
	m.healthCheckFailures.Inc()
}

// RecordDestroyed 记录一次资源销毁
func (m *PoolMetrics) RecordDestroyed() {
	m.connsDestroyed.Inc()
}

// SetCircuitState 更新熔断器状态仪表
func (m *PoolMetrics) SetCircuitState(s breaker.State) {
	m.circuitState.Set(float64(s))
}

// Unregister 取消注册所有指标
func (m *PoolMetrics) Unregister(registerer prometheus.Registerer) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	for _, c := range m.collectors {
		registerer.Unregister(c)
	}
}
