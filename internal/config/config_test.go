package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "judge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t, "APP_ENV", "KAFKA_BROKERS", "OPS_PORT", "HEARTBEAT_INTERVAL")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, []string{"localhost:19092"}, cfg.KafkaBrokers)
	assert.Equal(t, 9090, cfg.OpsPort)
	assert.Equal(t, time.Minute, cfg.HeartbeatInterval)
	assert.True(t, cfg.IsDev())
	assert.False(t, cfg.IsProd())
}

func TestLoadFileSeedsEnv(t *testing.T) {
	path := writeConfigFile(t, "APP_ENV: prod\nMAX_PROCESSES: \"4\"\n")
	clearEnv(t, "APP_ENV", "MAX_PROCESSES")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.AppEnv)
	assert.Equal(t, 4, cfg.MaxProcesses)
	assert.True(t, cfg.IsProd())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "OPS_PORT: \"7000\"\n")
	t.Setenv("OPS_PORT", "8000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.OpsPort)
}

func TestLoadBrokerList(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "rp-0:9092,rp-1:9092,rp-2:9092")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"rp-0:9092", "rp-1:9092", "rp-2:9092"}, cfg.KafkaBrokers)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	path := writeConfigFile(t, ":\n  - not a map\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestPoolSize(t *testing.T) {
	assert.Equal(t, 4, Config{MaxProcesses: 4}.PoolSize())
	assert.Equal(t, runtime.NumCPU(), Config{MaxProcesses: 0}.PoolSize())
	assert.Equal(t, runtime.NumCPU(), Config{MaxProcesses: -1}.PoolSize())
}
