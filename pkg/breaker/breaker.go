// Package breaker 实现三态熔断器（关闭/打开/半开），
// 用于在后端持续故障时快速失败，避免压垮故障依赖。
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/lk2023060901/xpool/pkg/config"
)

// State 熔断器状态
type State int32

const (
	// StateClosed 关闭状态，正常放行
	StateClosed State = iota
	// StateOpen 打开状态，全部快速失败
	StateOpen
	// StateHalfOpen 半开状态，放行有限次试探调用
	StateHalfOpen
)

// String 返回状态的可读名称
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// 连续失败多少次后打开熔断器
	FailureThreshold int `mapstructure:"failure_threshold" json:"failure_threshold"`

	// 打开后经过多久允许进入半开试探
	RecoveryTimeout time.Duration `mapstructure:"recovery_timeout" json:"recovery_timeout"`

	// 半开状态最多放行多少次试探调用
	HalfOpenMaxCalls int `mapstructure:"half_open_max_calls" json:"half_open_max_calls"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("%w: failure_threshold must be positive", ErrInvalidConfig)
	}
	if c.RecoveryTimeout <= 0 {
		return fmt.Errorf("%w: recovery_timeout must be positive", ErrInvalidConfig)
	}
	if c.HalfOpenMaxCalls <= 0 {
		return fmt.Errorf("%w: half_open_max_calls must be positive", ErrInvalidConfig)
	}
	return nil
}

// Counts 熔断器当前计数快照
type Counts struct {
	FailureCount  int       // 当前失败计数
	HalfOpenCalls int       // 半开状态已成功的试探次数
	LastFailure   time.Time // 最近一次失败时间
}

// Breaker 三态熔断器
//
// 所有状态读写都在同一把互斥锁下串行化，
// 两个并发调用不会各自独立完成 OPEN→HALF_OPEN 的翻转。
type Breaker struct {
	config *Config

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
	halfOpenAllowed int // 半开状态已放行的试探调用数
	halfOpenCalls   int // 半开状态已成功的试探调用数

	now func() time.Time // 测试注入
}

// New 创建熔断器
func New(cfg *Config) (*Breaker, error) {
	merged, err := config.MergeConfig(DefaultConfig(), cfg)
	if err != nil {
		return nil, err
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &Breaker{
		config: merged,
		state:  StateClosed,
		now:    time.Now,
	}, nil
}

// Allow 判断调用是否放行
//
// 关闭状态恒放行；打开状态在恢复超时到期前拒绝，到期后翻转为半开并放行本次调用；
// 半开状态最多放行 HalfOpenMaxCalls 次试探调用。
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if b.now().Sub(b.lastFailureTime) < b.config.RecoveryTimeout {
			return false
		}
		b.state = StateHalfOpen
		b.halfOpenCalls = 0
		b.halfOpenAllowed = 1 // 本次调用即第一个试探
		return true

	case StateHalfOpen:
		if b.halfOpenAllowed >= b.config.HalfOpenMaxCalls {
			return false
		}
		b.halfOpenAllowed++
		return true

	default:
		return false
	}
}

// RecordSuccess 记录一次成功调用
//
// 关闭状态下失败计数向零回退，不要求一次性清零；
// 半开状态下累计成功次数，达到 HalfOpenMaxCalls 后完全复位为关闭。
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if b.failureCount > 0 {
			b.failureCount--
		}

	case StateHalfOpen:
		b.halfOpenCalls++
		if b.halfOpenCalls >= b.config.HalfOpenMaxCalls {
			b.reset()
		}
	}
}

// RecordFailure 记录一次失败调用
//
// 关闭状态下失败计数达到阈值时打开熔断器；
// 半开状态下单次失败立即重新打开，丢弃全部试探进度。
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.config.FailureThreshold {
			b.trip()
		}

	case StateHalfOpen:
		b.trip()
	}
}

// Abandon 归还一次未产生结果的放行
//
// 半开状态下每次 Allow 都会占用一个试探名额，名额只能由
// RecordSuccess/RecordFailure 消耗。调用在半开放行后中途放弃
// （例如调用方取消）时必须归还名额，否则被放弃的试探会永久
// 占满 HalfOpenMaxCalls，熔断器再也无法闭合。
func (b *Breaker) Abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.halfOpenAllowed > b.halfOpenCalls {
		b.halfOpenAllowed--
	}
}

// trip 打开熔断器，调用方必须持有锁
func (b *Breaker) trip() {
	b.state = StateOpen
	b.lastFailureTime = b.now()
	b.halfOpenCalls = 0
	b.halfOpenAllowed = 0
}

// reset 完全复位为关闭状态，调用方必须持有锁
func (b *Breaker) reset() {
	b.state = StateClosed
	b.failureCount = 0
	b.halfOpenCalls = 0
	b.halfOpenAllowed = 0
}

// State 返回当前状态
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts 返回当前计数快照
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Counts{
		FailureCount:  b.failureCount,
		HalfOpenCalls: b.halfOpenCalls,
		LastFailure:   b.lastFailureTime,
	}
}
