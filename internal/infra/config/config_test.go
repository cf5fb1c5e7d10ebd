package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nousim/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nousim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "memory", cfg.Backend.Type)
	assert.Equal(t, "127.0.0.1:7350", cfg.Gateway.Addr)
	assert.Equal(t, "/ws", cfg.Gateway.Path)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "GPIO", cfg.GPIO.PinPrefix)
	assert.Equal(t, 2*time.Second, cfg.Backend.Remote.CallTimeout)
	assert.True(t, strings.HasSuffix(cfg.Journal.Path, "journal.db"))
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Gateway, cfg.Gateway)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
backend:
  type: memory
  traced: true
gateway:
  addr: "0.0.0.0:9000"
  auth:
    type: static
    tokens:
      - name: sim
        token: s3cret
journal:
  enabled: true
  path: /tmp/j.db
  max_age: 2h
  retention: "*/15 * * * *"
logger:
  level: debug
peripherals:
  - kind: gpio
    index: 5
    mode: read_write
    initial: 1
  - kind: motor
    index: 3
    inverted: true
  - kind: servo
    index: 1
    initial: 90
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Backend.Traced)
	assert.Equal(t, "0.0.0.0:9000", cfg.Gateway.Addr)
	assert.Equal(t, "/ws", cfg.Gateway.Path, "unset keys keep defaults")
	require.Len(t, cfg.Gateway.Auth.Tokens, 1)
	assert.Equal(t, "s3cret", cfg.Gateway.Auth.Tokens[0].Token)
	assert.Equal(t, 2*time.Hour, cfg.Journal.MaxAge)
	assert.Equal(t, "debug", cfg.Logger.Level)

	require.Len(t, cfg.Peripherals, 3)
	assert.Equal(t, PeripheralConfig{Kind: "motor", Index: 3, Inverted: true}, cfg.Peripherals[1])
	require.NotNil(t, cfg.Peripherals[2].Initial)
	assert.Equal(t, 90.0, *cfg.Peripherals[2].Initial)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "backend: [unclosed")
	_, err := Load(path)
	assert.ErrorIs(t, err, domain.ErrConfigLoad)
	assert.Contains(t, err.Error(), "parse")
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	path := writeConfig(t, "logger:\n  level: info\n")
	require.NoError(t, os.Chmod(path, 0666))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure permissions")
}

func TestLoadValidates(t *testing.T) {
	path := writeConfig(t, "backend:\n  type: carrier-pigeon\n")
	_, err := Load(path)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Error(), "backend.type")
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("NOUSIM_BACKEND_TYPE", "remote")
	t.Setenv("NOUSIM_REMOTE_URL", "ws://robot.local:7350/ws")
	t.Setenv("NOUSIM_REMOTE_CALL_TIMEOUT", "750ms")
	t.Setenv("NOUSIM_GATEWAY_ENABLED", "false")
	t.Setenv("NOUSIM_GATEWAY_TOKEN", "tok")
	t.Setenv("NOUSIM_GATEWAY_RATE", "12.5")
	t.Setenv("NOUSIM_JOURNAL_ENABLED", "true")
	t.Setenv("NOUSIM_GPIO_MIRROR", "true")
	t.Setenv("NOUSIM_LOGGER_LEVEL", "warn")
	t.Setenv("NOUSIM_TRACER_ENABLED", "true")
	t.Setenv("NOUSIM_TRACER_EXPORTER", "stdout")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	assert.Equal(t, "remote", cfg.Backend.Type)
	assert.Equal(t, "ws://robot.local:7350/ws", cfg.Backend.Remote.URL)
	assert.Equal(t, 750*time.Millisecond, cfg.Backend.Remote.CallTimeout)
	assert.False(t, cfg.Gateway.Enabled)
	assert.Equal(t, "static", cfg.Gateway.Auth.Type)
	assert.Equal(t, []TokenConfig{{Name: "env", Token: "tok"}}, cfg.Gateway.Auth.Tokens)
	assert.Equal(t, 12.5, cfg.Gateway.RateLimit.PerSecond)
	assert.True(t, cfg.Journal.Enabled)
	assert.True(t, cfg.GPIO.Mirror)
	assert.Equal(t, "warn", cfg.Logger.Level)
	assert.True(t, cfg.Tracer.Enabled)
	assert.Equal(t, "stdout", cfg.Tracer.Exporter)
	require.NoError(t, Validate(cfg))
}

func TestEncryptDecryptValue(t *testing.T) {
	enc, err := EncryptValue("gateway-token", "passphrase")
	require.NoError(t, err)
	assert.NotContains(t, enc, "gateway-token")

	plain, err := DecryptValue(enc, "passphrase")
	require.NoError(t, err)
	assert.Equal(t, "gateway-token", plain)

	_, err = DecryptValue(enc, "wrong")
	assert.Error(t, err)
	_, err = DecryptValue("not-hex", "passphrase")
	assert.Error(t, err)
}

func TestLoadDecryptsTokens(t *testing.T) {
	enc, err := EncryptValue("hunter2", "k")
	require.NoError(t, err)

	path := writeConfig(t, `
gateway:
  auth:
    type: static
    tokens:
      - name: sim
        token: "enc:`+enc+`"
`)
	t.Setenv("NOUSIM_CONFIG_KEY", "k")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.Gateway.Auth.Tokens[0].Token)
}
