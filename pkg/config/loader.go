package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader 配置加载器，封装 viper 的文件和环境变量读取
type Loader struct {
	v *viper.Viper
}

// LoaderOption 加载器选项
type LoaderOption func(*Loader)

// WithEnvPrefix 设置环境变量前缀并启用自动环境变量覆盖
// 例如前缀 XPOOL 时，pool.max_size 可被 XPOOL_POOL_MAX_SIZE 覆盖
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) {
		if prefix != "" {
			l.v.SetEnvPrefix(prefix)
			l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
			l.v.AutomaticEnv()
		}
	}
}

// WithConfigType 显式指定配置文件类型（yaml、json 等）
func WithConfigType(configType string) LoaderOption {
	return func(l *Loader) {
		l.v.SetConfigType(configType)
	}
}

// NewLoader 创建配置加载器
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{v: viper.New()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadFile 读取配置文件
func (l *Loader) LoadFile(path string) error {
	l.v.SetConfigFile(path)
	if err := l.v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	return nil
}

// Unmarshal 解析整个配置到结构体
func (l *Loader) Unmarshal(target interface{}) error {
	if err := l.v.Unmarshal(target); err != nil {
		return fmt.Errorf("%w: %v", ErrUnmarshalFailed, err)
	}
	return nil
}

// UnmarshalKey 解析配置中的某个 key 到结构体
func (l *Loader) UnmarshalKey(key string, target interface{}) error {
	if err := l.v.UnmarshalKey(key, target); err != nil {
		return fmt.Errorf("%w: key %s: %v", ErrUnmarshalFailed, key, err)
	}
	return nil
}
