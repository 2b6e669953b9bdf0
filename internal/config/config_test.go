package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(viper.New(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Watcher.Interval)
	assert.Equal(t, 4, cfg.Watcher.MaxWorkers)
	assert.Equal(t, 300*time.Second, cfg.Watcher.EvaluationTimeout)
	assert.Equal(t, 30*time.Second, cfg.Canvas.Timeout)
	assert.Equal(t, "memory", cfg.Ledger.Backend)
	assert.Equal(t, "xxh64", cfg.Analysis.HashAlgorithm)
	assert.False(t, cfg.Database.Enabled)
	assert.Empty(t, cfg.Policy.LateRulesJSON)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
canvas:
  base_url: "https://canvas.example.edu/"
watcher:
  interval: 45s
ledger:
  backend: Redis
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := load(viper.New(), dir)
	require.NoError(t, err)

	assert.Equal(t, "https://canvas.example.edu", cfg.Canvas.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Watcher.Interval)
	assert.Equal(t, "redis", cfg.Ledger.Backend)
}

func TestLoad_LegacyEnvironment(t *testing.T) {
	t.Setenv("CANVAS_BASE_URL", "https://canvas.example.edu/")
	t.Setenv("CANVAS_TOKEN", "tok")
	t.Setenv("FAIRMARK_POLICY_TEXT", "  Cite your sources.  ")
	t.Setenv("FAIRMARK_LATE_RULES_JSON", `{"grace_minutes": 10}`)
	t.Setenv("FAIRMARK_TIMEOUT_SEC", "12")

	cfg, err := load(viper.New(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "https://canvas.example.edu", cfg.Canvas.BaseURL)
	assert.Equal(t, "tok", cfg.Canvas.Token)
	assert.Equal(t, "Cite your sources.", cfg.Policy.Text)
	assert.Equal(t, `{"grace_minutes": 10}`, cfg.Policy.LateRulesJSON)
	assert.Equal(t, 12*time.Second, cfg.Canvas.Timeout)
}

func TestLoad_PolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.txt")
	require.NoError(t, os.WriteFile(path, []byte("No collaboration.\n"), 0o600))
	t.Setenv("FAIRMARK_POLICY_FILE", path)

	cfg, err := load(viper.New(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "No collaboration.", cfg.Policy.Text)
}

func TestLoad_InvalidSettings(t *testing.T) {
	t.Run("bad timeout", func(t *testing.T) {
		t.Setenv("FAIRMARK_TIMEOUT_SEC", "soon")
		_, err := load(viper.New(), t.TempDir())
		assert.Error(t, err)
	})

	t.Run("unknown ledger backend", func(t *testing.T) {
		t.Setenv("LEDGER_BACKEND", "etcd")
		_, err := load(viper.New(), t.TempDir())
		assert.Error(t, err)
	})

	t.Run("postgres ledger without database", func(t *testing.T) {
		t.Setenv("LEDGER_BACKEND", "postgres")
		_, err := load(viper.New(), t.TempDir())
		assert.Error(t, err)
	})
}

func TestDatabaseConfig_DSN(t *testing.T) {
	c := DatabaseConfig{User: "u", Password: "p", Host: "db", Port: 5432, Name: "fm", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/fm?sslmode=disable", c.DSN())
}
