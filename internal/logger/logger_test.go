package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Run("Should honor the requested level", func(t *testing.T) {
		log, err := New("warn", "json")
		require.NoError(t, err)
		assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
	})
	t.Run("Should default to the console encoder", func(t *testing.T) {
		log, err := New("DEBUG", "")
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
	})
	t.Run("Should reject unknown levels and formats", func(t *testing.T) {
		_, err := New("loud", "json")
		assert.Error(t, err)
		_, err = New("info", "xml")
		assert.Error(t, err)
	})
}
