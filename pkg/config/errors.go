package config

import "errors"

var (
	// ErrNilConfig 配置为 nil
	ErrNilConfig = errors.New("config: config cannot be nil")

	// ErrMergeFailed 配置合并失败
	ErrMergeFailed = errors.New("config: failed to merge configs")

	// ErrReadFailed 配置文件读取失败
	ErrReadFailed = errors.New("config: failed to read config file")

	// ErrUnmarshalFailed 配置解析失败
	ErrUnmarshalFailed = errors.New("config: failed to unmarshal config")
)
