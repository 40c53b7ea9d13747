package pool

import "context"

// Factory 创建一个新资源，可能失败
// 工厂调用在池的互斥锁之外执行，自身的超时由回调方控制
type Factory[R comparable] func(ctx context.Context) (R, error)

// Validator 校验资源健康状态，返回非 nil 错误视为不健康
type Validator[R comparable] func(ctx context.Context, res R) error

// Disposer 释放资源底层的系统/网络状态
// 返回的错误只记录日志，永不向上传播
type Disposer[R comparable] func(ctx context.Context, res R) error

// State 池的衍生状态
type State string

const (
	// StateUnstarted 已创建但尚未 Start
	StateUnstarted State = "unstarted"
	// StateHealthy 正常服务
	StateHealthy State = "healthy"
	// StateDegraded 熔断器处于打开状态
	StateDegraded State = "degraded"
	// StateSaturated 已达最大容量且没有空闲资源
	StateSaturated State = "saturated"
	// StateClosed 已关闭，终态
	StateClosed State = "closed"
)
