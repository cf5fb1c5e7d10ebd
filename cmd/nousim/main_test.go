package main

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nousim/internal/infra/config"
)

func withArgs(t *testing.T, args ...string) {
	t.Helper()
	orig := os.Args
	os.Args = append([]string{"nousim"}, args...)
	t.Cleanup(func() { os.Args = orig })
}

func TestConfigPath(t *testing.T) {
	t.Setenv("NOUSIM_CONFIG", "")

	withArgs(t, "serve")
	assert.Equal(t, "nousim.yaml", configPath())

	t.Setenv("NOUSIM_CONFIG", "/etc/nousim.yaml")
	assert.Equal(t, "/etc/nousim.yaml", configPath())

	withArgs(t, "probe", "--config", "bench.yaml")
	assert.Equal(t, "bench.yaml", configPath())

	withArgs(t, "--config=rig.yaml")
	assert.Equal(t, "rig.yaml", configPath())
}

func TestPositional(t *testing.T) {
	withArgs(t, "encrypt", "--config", "x.yaml", "-v", "secret")
	assert.Equal(t, []string{"secret"}, positional())
}

func TestRunEncrypt(t *testing.T) {
	t.Setenv("NOUSIM_CONFIG_KEY", "pass")
	withArgs(t, "encrypt", "hunter2")

	var out bytes.Buffer
	require.NoError(t, runEncrypt(&out))
	enc := strings.TrimSpace(out.String())
	require.True(t, strings.HasPrefix(enc, "enc:"))

	plain, err := config.DecryptValue(strings.TrimPrefix(enc, "enc:"), "pass")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestRunEncrypt_Errors(t *testing.T) {
	t.Setenv("NOUSIM_CONFIG_KEY", "")
	withArgs(t, "encrypt", "x")
	assert.ErrorContains(t, runEncrypt(&bytes.Buffer{}), "NOUSIM_CONFIG_KEY")

	withArgs(t, "encrypt")
	assert.ErrorContains(t, runEncrypt(&bytes.Buffer{}), "usage")
}
