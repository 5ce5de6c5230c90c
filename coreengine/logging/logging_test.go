package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"DEBUG", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"", zapcore.InfoLevel, false},
		{"Warning", zapcore.WarnLevel, false},
		{"ERROR", zapcore.ErrorLevel, false},
		{"TRACE", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewZap_RejectsUnknownLevel(t *testing.T) {
	_, err := NewZap("loud")
	require.Error(t, err)
}

func TestZapLogger_BindCarriesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := FromZap(zap.New(core))

	child := logger.Bind("agent", "brief", "project_id", "p1")
	child.Info("agent_started", "attempt", 1)
	child.Warn("agent_attempt_failed", "kind", "payload_parse")
	logger.Debug("unbound")

	entries := logs.All()
	require.Len(t, entries, 3)

	first := entries[0].ContextMap()
	assert.Equal(t, "agent_started", entries[0].Message)
	assert.Equal(t, "brief", first["agent"])
	assert.Equal(t, "p1", first["project_id"])
	assert.EqualValues(t, 1, first["attempt"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.NotContains(t, entries[2].ContextMap(), "agent")
}

func TestNop_DoesNotPanic(t *testing.T) {
	l := Nop()
	l.Bind("k", "v").Error("ignored", "err", "x")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab...", Truncate("abcdef", 2))
	assert.Equal(t, "教育...", Truncate("教育改革", 2))
}
