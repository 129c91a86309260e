package promise

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/promisectl/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "module.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFileOverlaysDefinedKeys(t *testing.T) {
	testlog.Start(t)

	path := writeConfig(t, `
record_file = "/var/log/git-promise.log"
evaluate_timeout = "90s"
metrics_listen = "127.0.0.1:9464"
`)
	base := DefaultConfig()
	base.MetricsTextfile = "/var/lib/node_exporter/git.prom"

	cfg, err := LoadConfigFile(path, base)
	require.NoError(t, err)
	assert.Equal(t, DefaultName, cfg.Name)
	assert.Equal(t, "/var/log/git-promise.log", cfg.RecordFile)
	assert.Equal(t, 90*time.Second, cfg.EvaluateTimeout)
	assert.Equal(t, "127.0.0.1:9464", cfg.MetricsListen)
	assert.Equal(t, "/var/lib/node_exporter/git.prom", cfg.MetricsTextfile, "undefined keys keep their value")
}

func TestLoadConfigFileRejects(t *testing.T) {
	testlog.Start(t)

	_, err := LoadConfigFile(writeConfig(t, `evaluate_timeout = "soon"`), DefaultConfig())
	assert.ErrorContains(t, err, "evaluate_timeout")

	_, err = LoadConfigFile(writeConfig(t, `name = "other"`), DefaultConfig())
	assert.ErrorContains(t, err, `unknown key "name"`)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.toml"), DefaultConfig())
	assert.Error(t, err)
}

func TestConfigFromEnv(t *testing.T) {
	testlog.Start(t)

	path := writeConfig(t, `
record_file = "/from/file.log"
log_level = "debug"
`)
	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvRecordFile, "/from/env.log")

	cfg, err := ConfigFromEnv(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "/from/env.log", cfg.RecordFile)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)

	assert.NoError(t, DefaultConfig().Validate())
	assert.ErrorIs(t, Config{Name: "", Version: "1"}.Validate(), ErrInvalidName)
	assert.Error(t, Config{Name: "a", Version: "1", EvaluateTimeout: -time.Second}.Validate())
}
