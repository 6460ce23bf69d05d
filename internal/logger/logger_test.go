package logger

import (
	"testing"

	"exchange-core/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	t.Run("JSON", func(t *testing.T) {
		log, err := NewLogger(config.Logger{Level: "info", Format: "json", Name: "exchange"})
		require.NoError(t, err)
		assert.NotNil(t, log)
	})

	t.Run("Console", func(t *testing.T) {
		log, err := NewLogger(config.Logger{Level: "debug", Format: "console"})
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("InvalidLevel", func(t *testing.T) {
		_, err := NewLogger(config.Logger{Level: "loud"})
		assert.Error(t, err)
	})
}
