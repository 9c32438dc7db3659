package application

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/coedit-go/internal/client/marker"
	zlog "github.com/lk2023060901/coedit-go/pkg/log"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRunDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(envConfigPath, "")

	app := New(WithArgs(nil))
	require.NoError(t, app.Run())

	sc, err := app.ServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8081", sc.Listen)
	assert.Equal(t, "/", sc.Path)
	assert.Equal(t, 1024, sc.MaxConnections)
	assert.Equal(t, 10*time.Second, sc.WriteTimeout)
	assert.True(t, sc.Metrics)

	cc, err := app.ClientConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultClientConfig(), cc)
}

func TestRunLoadsFileFromFlag(t *testing.T) {
	t.Setenv(envConfigPath, "")
	path := writeConfig(t, `
server:
  listen: ":9100"
  serializer: jsoniter
  writeTimeout: 3s
client:
  debounce: 100ms
  order: rightmost
logging:
  hub:
    level: debug
`)

	app := New(WithArgs([]string{"--config=" + path}))
	require.NoError(t, app.Run())

	sc, err := app.ServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9100", sc.Listen)
	assert.Equal(t, "jsoniter", sc.Serializer)
	assert.Equal(t, 3*time.Second, sc.WriteTimeout)
	assert.Equal(t, 256, sc.SendQueueSize)

	cc, err := app.ClientConfig()
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, cc.Debounce)
	assert.Equal(t, "rightmost", cc.Order)
	assert.Equal(t, marker.OrderRightmostFirst, cc.MarkerOrder())
	assert.Equal(t, 500*time.Millisecond, cc.BlinkInterval)

	assert.NotSame(t, zlog.L(), app.Logger("hub").Logger)
	assert.Same(t, zlog.L(), app.Logger("unknown").Logger)
}

func TestConfigPathPriority(t *testing.T) {
	envPath := writeConfig(t, "server:\n  listen: \":9200\"\n")
	flagPath := writeConfig(t, "server:\n  listen: \":9300\"\n")
	t.Setenv(envConfigPath, envPath)

	app := New(WithArgs(nil))
	require.NoError(t, app.Run())
	sc, err := app.ServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9200", sc.Listen)

	app = New(WithArgs([]string{"--config", flagPath}))
	require.NoError(t, app.Run())
	sc, err = app.ServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9300", sc.Listen)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  listen: \":9400\"\n")
	t.Setenv(envConfigPath, "")
	t.Setenv("COEDIT_SERVER_LISTEN", ":9500")

	app := New(WithArgs([]string{"--config", path}))
	require.NoError(t, app.Run())
	sc, err := app.ServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9500", sc.Listen)
}

func TestRunErrors(t *testing.T) {
	t.Setenv(envConfigPath, "")

	assert.Error(t, New(WithArgs([]string{"--config"})).Run())
	missing := filepath.Join(t.TempDir(), "absent.yaml")
	assert.Error(t, New(WithArgs([]string{"--config", missing})).Run())
}

func TestLoadLogEnv(t *testing.T) {
	t.Setenv("COEDIT_LOG_ENABLE", "true")
	t.Setenv("COEDIT_LOG_LEVEL", "debug")
	t.Setenv("COEDIT_LOG_FORMAT", "json")

	le, err := LoadLogEnv()
	require.NoError(t, err)
	assert.True(t, le.Enable)
	assert.Equal(t, "debug", le.Level)
	assert.Equal(t, "json", le.Format)
	assert.False(t, le.Stdout)

	t.Setenv("COEDIT_LOG_STDOUT", "not-a-bool")
	_, err = LoadLogEnv()
	assert.Error(t, err)
}
