package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nousim/internal/infra/config"
)

func TestNewJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, config.LoggerConfig{Level: "info", Format: "json"}))

	log.Info("device created", "device", "NoUMotor[3]")
	log.Debug("hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	assert.Equal(t, "device created", entry["msg"])
	assert.Equal(t, "NoUMotor[3]", entry["device"])
}

func TestNewTextHandlerDebug(t *testing.T) {
	var buf bytes.Buffer
	log := Component(slog.New(newHandler(&buf, config.LoggerConfig{Level: "debug", Format: "text"})), "gateway")

	log.Debug("frame received")
	assert.Contains(t, buf.String(), "frame received")
	assert.Contains(t, buf.String(), "component=gateway")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), tt.input)
	}
}

func TestOpenOutputStd(t *testing.T) {
	w, closer, err := openOutput("stdout")
	require.NoError(t, err)
	defer closer()
	assert.Equal(t, os.Stdout, w)

	w, closer, err = openOutput("")
	require.NoError(t, err)
	defer closer()
	assert.Equal(t, os.Stderr, w)
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nousim.log")
	log, closer, err := New(config.LoggerConfig{Level: "info", Output: path})
	require.NoError(t, err)

	log.Info("hello")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, string(data), "service=nousim")
}

func TestNewBadOutput(t *testing.T) {
	_, _, err := New(config.LoggerConfig{Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}
