package logger

import "errors"

var (
	// ErrInvalidOutputPath 启用文件输出但未指定路径
	ErrInvalidOutputPath = errors.New("logger: output path is required when file output is enabled")

	// ErrNoOutputEnabled 没有启用任何输出
	ErrNoOutputEnabled = errors.New("logger: at least one output must be enabled")
)
