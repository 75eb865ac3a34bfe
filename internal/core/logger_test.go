package core

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{" INFO ", LevelInfo},
		{"", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"none", LevelOff},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "ParseLevel(%q)", tt.in)
	}
}

func TestLoggerComponentLevels(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(LogConfig{
		Level:      "warn",
		Components: map[string]string{"Session": "debug"},
		NoColor:    true,
	}, &buf)

	l.Infof("Stats", "dropped %d", 1)
	assert.Empty(t, buf.String())

	l.Debugf("session", "kept %d", 2)
	assert.Contains(t, buf.String(), "[session] kept 2")

	buf.Reset()
	l.SetLevels(LogConfig{Level: "off"})
	l.Errorf("Session", "silenced")
	assert.Empty(t, buf.String())
}

func TestLoggerFileOutput(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "session.log")
	l := newLogger(LogConfig{File: path}, &buf)
	l.Infof("Core", "hello")
	require.NoError(t, l.Close())

	assert.FileExists(t, path)
	assert.Contains(t, buf.String(), "[Core] hello")
}
