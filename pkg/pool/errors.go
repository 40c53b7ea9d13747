package pool

import "errors"

var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("xpool: invalid config")

	// ErrNilFactory 未提供资源工厂
	ErrNilFactory = errors.New("xpool: factory is required")

	// ErrPoolClosed 池已关闭，终态，之后的 Acquire 全部失败
	ErrPoolClosed = errors.New("xpool: pool is closed")

	// ErrPoolNotStarted 池尚未启动
	ErrPoolNotStarted = errors.New("xpool: pool not started")

	// ErrAlreadyStarted 池已经启动
	ErrAlreadyStarted = errors.New("xpool: pool already started")

	// ErrCircuitOpen 熔断器打开，调用方应退避后重试
	ErrCircuitOpen = errors.New("xpool: circuit breaker is open")

	// ErrAcquireTimeout 等待空闲资源超时且池已达最大容量
	ErrAcquireTimeout = errors.New("xpool: acquire timed out")

	// errAtCapacity 池已达最大容量，内部信号，不对外暴露
	errAtCapacity = errors.New("xpool: pool at max capacity")
)
