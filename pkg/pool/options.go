package pool

import (
	"github.com/lk2023060901/xpool/pkg/logger"
)

// Option 连接池选项
type Option[R comparable] func(*Pool[R])

// WithLogger 指定日志记录器，默认使用 logger.Default()
func WithLogger[R comparable](l logger.Logger) Option[R] {
	return func(p *Pool[R]) {
		if l != nil {
			p.log = l
		}
	}
}

// WithName 指定池名称，用于日志和指标标签
func WithName[R comparable](name string) Option[R] {
	return func(p *Pool[R]) {
		if name != "" {
			p.name = name
		}
	}
}

// WithMetrics 挂接 Prometheus 指标
func WithMetrics[R comparable](m *PoolMetrics) Option[R] {
	return func(p *Pool[R]) {
		p.prom = m
	}
}
