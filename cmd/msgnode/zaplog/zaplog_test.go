package zaplog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFactoryScopesAndLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	f := NewFactory(zap.New(core))

	l := f.NewLogger("exchange")
	l.Tracef("retransmit %d", 1)
	l.Infof("opened %s", "E1")
	l.Warn("slow")
	l.Error("failed")

	entries := logs.All()
	require.Len(t, entries, 4)
	for _, e := range entries {
		assert.Equal(t, "exchange", e.LoggerName)
	}
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "retransmit 1", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, "opened E1", entries[1].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
}

func TestFactoryFiltersBelowLevel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := NewFactory(zap.New(core)).NewLogger("session")

	l.Debug("hidden")
	l.Trace("hidden")
	l.Info("shown")

	assert.Equal(t, 1, logs.Len())
}

func TestNilBaseDiscards(t *testing.T) {
	l := NewFactory(nil).NewLogger("node")
	assert.NotPanics(t, func() { l.Errorf("x %d", 1) })
}

func TestNew(t *testing.T) {
	l, err := New("debug")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = New("warn")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))

	_, err = New("loud")
	assert.Error(t, err)
}
