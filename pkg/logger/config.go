package logger

// Level 日志等级
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Format 日志格式
type Format string

const (
	JSONFormat    Format = "json"
	ConsoleFormat Format = "console"
)

// Config 日志配置
type Config struct {
	Level  Level  `mapstructure:"level" json:"level"`   // 日志等级
	Format Format `mapstructure:"format" json:"format"` // 输出格式 (json/console)

	EnableConsole bool   `mapstructure:"enable_console" json:"enable_console"` // 启用控制台输出
	EnableFile    bool   `mapstructure:"enable_file" json:"enable_file"`       // 启用文件输出
	OutputPath    string `mapstructure:"output_path" json:"output_path"`       // 日志文件路径

	TimeFormat string `mapstructure:"time_format" json:"time_format"` // 时间格式

	// 文件轮换配置 (lumberjack，按大小轮换)
	Rotation RotationConfig `mapstructure:"rotation" json:"rotation"`

	// 采样配置 (防止高频日志)
	EnableSampling     bool `mapstructure:"enable_sampling" json:"enable_sampling"`
	SamplingInitial    int  `mapstructure:"sampling_initial" json:"sampling_initial"`       // 每秒前 N 条日志
	SamplingThereafter int  `mapstructure:"sampling_thereafter" json:"sampling_thereafter"` // 之后每 N 条记录 1 条

	// 开发模式 (彩色输出、可读时间)
	Development bool `mapstructure:"development" json:"development"`
}

// RotationConfig 轮换配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size" json:"max_size"`       // 单文件最大大小 (MB)
	MaxBackups int  `mapstructure:"max_backups" json:"max_backups"` // 保留的旧文件数量
	MaxAge     int  `mapstructure:"max_age" json:"max_age"`         // 保留天数
	Compress   bool `mapstructure:"compress" json:"compress"`       // 是否压缩旧文件
}

// DefaultConfig 默认配置（仅控制台输出）
func DefaultConfig() *Config {
	return &Config{
		Level:         InfoLevel,
		Format:        ConsoleFormat,
		EnableConsole: true,
		EnableFile:    false,
		TimeFormat:    "2006-01-02 15:04:05",
		Rotation: RotationConfig{
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     7,
			Compress:   true,
		},
		EnableSampling:     false,
		SamplingInitial:    100,
		SamplingThereafter: 100,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.EnableFile && c.OutputPath == "" {
		return ErrInvalidOutputPath
	}
	if !c.EnableConsole && !c.EnableFile {
		return ErrNoOutputEnabled
	}
	return nil
}
