package pool

import (
	"fmt"
	"time"
)

// Config 连接池配置
type Config struct {
	// 最小连接数，启动时预热并由健康检查维持
	MinSize int `mapstructure:"min_size" json:"min_size"`

	// 最大连接数，空闲加已借出的总量硬上限
	MaxSize int `mapstructure:"max_size" json:"max_size"`

	// 连接最大空闲时间，超过后不再交给调用方
	MaxIdleTime time.Duration `mapstructure:"max_idle_time" json:"max_idle_time"`

	// 连接最大生命周期
	MaxLifetime time.Duration `mapstructure:"max_lifetime" json:"max_lifetime"`

	// 等待空闲连接的超时时间，仅约束排队等待阶段
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" json:"acquire_timeout"`

	// 后台健康检查周期
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval" json:"health_check_interval"`

	// 创建连接的重试次数（含首次尝试）
	RetryAttempts int `mapstructure:"retry_attempts" json:"retry_attempts"`

	// 重试之间的固定间隔
	RetryDelay time.Duration `mapstructure:"retry_delay" json:"retry_delay"`

	// 熔断器：连续失败多少次后打开
	CircuitFailureThreshold int `mapstructure:"circuit_failure_threshold" json:"circuit_failure_threshold"`

	// 熔断器：打开后多久允许半开试探
	CircuitRecoveryTimeout time.Duration `mapstructure:"circuit_recovery_timeout" json:"circuit_recovery_timeout"`

	// 熔断器：半开状态最多放行的试探调用数
	CircuitHalfOpenMaxCalls int `mapstructure:"circuit_half_open_max_calls" json:"circuit_half_open_max_calls"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MinSize:                 2,
		MaxSize:                 10,
		MaxIdleTime:             5 * time.Minute,
		MaxLifetime:             30 * time.Minute,
		AcquireTimeout:          5 * time.Second,
		HealthCheckInterval:     30 * time.Second,
		RetryAttempts:           3,
		RetryDelay:              100 * time.Millisecond,
		CircuitFailureThreshold: 5,
		CircuitRecoveryTimeout:  30 * time.Second,
		CircuitHalfOpenMaxCalls: 3,
	}
}

// Validate 验证配置，所有数值和时长必须为正，且 MinSize ≤ MaxSize
func (c *Config) Validate() error {
	if c.MinSize <= 0 {
		return fmt.Errorf("%w: min_size must be positive", ErrInvalidConfig)
	}
	if c.MaxSize < c.MinSize {
		return fmt.Errorf("%w: max_size must be >= min_size", ErrInvalidConfig)
	}
	if c.MaxIdleTime <= 0 {
		return fmt.Errorf("%w: max_idle_time must be positive", ErrInvalidConfig)
	}
	if c.MaxLifetime <= 0 {
		return fmt.Errorf("%w: max_lifetime must be positive", ErrInvalidConfig)
	}
	if c.AcquireTimeout <= 0 {
		return fmt.Errorf("%w: acquire_timeout must be positive", ErrInvalidConfig)
	}
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("%w: health_check_interval must be positive", ErrInvalidConfig)
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("%w: retry_attempts must be positive", ErrInvalidConfig)
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("%w: retry_delay must be positive", ErrInvalidConfig)
	}
	if c.CircuitFailureThreshold <= 0 {
		return fmt.Errorf("%w: circuit_failure_threshold must be positive", ErrInvalidConfig)
	}
	if c.CircuitRecoveryTimeout <= 0 {
		return fmt.Errorf("%w: circuit_recovery_timeout must be positive", ErrInvalidConfig)
	}
	if c.CircuitHalfOpenMaxCalls <= 0 {
		return fmt.Errorf("%w: circuit_half_open_max_calls must be positive", ErrInvalidConfig)
	}
	return nil
}
