package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr error
	}{
		{
			name:    "default config valid",
			config:  DefaultConfig(),
			wantErr: nil,
		},
		{
			name: "file output without path",
			config: &Config{
				EnableConsole: true,
				EnableFile:    true,
			},
			wantErr: ErrInvalidOutputPath,
		},
		{
			name:    "no output enabled",
			config:  &Config{},
			wantErr: ErrNoOutputEnabled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewMergesDefaults(t *testing.T) {
	// 仅覆盖等级，其余字段应来自默认配置
	l, err := New(&Config{Level: DebugLevel})
	require.NoError(t, err)
	assert.Equal(t, DebugLevel, l.config.Level)
	assert.Equal(t, ConsoleFormat, l.config.Format)
	assert.True(t, l.config.EnableConsole)
}

func TestNamedAndWithFields(t *testing.T) {
	l, err := New(DefaultConfig())
	require.NoError(t, err)

	named := l.Named("sub")
	assert.NotNil(t, named)

	derived := l.WithFields("pool", "test")
	assert.NotNil(t, derived)

	// should not panic
	derived.Info("message", "key", 1)
	named.Warn("odd number of fields", "dangling")
}
