package logger

import (
	"os"
	"sync"

	"github.com/lk2023060901/xpool/pkg/config"
)

var (
	defaultLogger   Logger
	defaultLoggerMu sync.RWMutex
)

// InitDefault 初始化默认 logger
func InitDefault(cfg *Config) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	SetDefault(l)
	return nil
}

// InitDefaultFromEnv 从环境变量初始化默认 logger
// 环境变量前缀: XPOOL_LOG_
func InitDefaultFromEnv() error {
	envCfg := &Config{}

	if level := os.Getenv("XPOOL_LOG_LEVEL"); level != "" {
		envCfg.Level = Level(level)
	}
	if format := os.Getenv("XPOOL_LOG_FORMAT"); format != "" {
		envCfg.Format = Format(format)
	}
	if path := os.Getenv("XPOOL_LOG_PATH"); path != "" {
		envCfg.EnableFile = true
		envCfg.OutputPath = path
	}
	if os.Getenv("XPOOL_LOG_DEVELOPMENT") == "true" {
		envCfg.Development = true
	}

	merged, err := config.MergeConfig(DefaultConfig(), envCfg)
	if err != nil {
		return err
	}
	return InitDefault(merged)
}

// SetDefault 设置默认 logger
func SetDefault(l Logger) {
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	defaultLogger = l
}

// Default 获取默认 logger（懒加载，默认配置仅控制台输出）
func Default() Logger {
	defaultLoggerMu.RLock()
	if defaultLogger != nil {
		defer defaultLoggerMu.RUnlock()
		return defaultLogger
	}
	defaultLoggerMu.RUnlock()

	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	if defaultLogger == nil {
		l, err := New(DefaultConfig())
		if err != nil {
			panic(err)
		}
		defaultLogger = l
	}
	return defaultLogger
}
