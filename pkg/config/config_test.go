package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, BackendGoBLE, cfg.Backend)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.NotifyDelay)
	assert.Equal(t, 20, cfg.ChunkSize)
	assert.Zero(t, cfg.ChunkDelay)
	assert.Zero(t, cfg.QueuePreDelay)
	assert.Zero(t, cfg.QueuePostDelay)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{
			name:     "creates logger with debug level",
			logLevel: "debug",
			want:     logrus.DebugLevel,
		},
		{
			name:     "creates logger with warn level",
			logLevel: "warn",
			want:     logrus.WarnLevel,
		},
		{
			name:     "falls back to info on unknown level",
			logLevel: "chatty",
			want:     logrus.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				LogLevel: tt.logLevel,
			}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.want, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blelink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("overrides keep unspecified defaults", func(t *testing.T) {
		path := writeConfig(t, `
log_level: debug
backend: tinygo
scan_timeout: 3s
chunk_size: 180
queue_post_delay: 250ms
`)

		cfg, err := Load(path)

		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, BackendTinyGo, cfg.Backend)
		assert.Equal(t, 3*time.Second, cfg.ScanTimeout)
		assert.Equal(t, 180, cfg.ChunkSize)
		assert.Equal(t, 250*time.Millisecond, cfg.QueuePostDelay)
		assert.Equal(t, 10*time.Second, cfg.ConnectTimeout, "unset fields MUST keep defaults")
		assert.Equal(t, 100*time.Millisecond, cfg.NotifyDelay)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))

		assert.ErrorContains(t, err, "reading config file")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "scan_timeout: [oops"))

		assert.ErrorContains(t, err, "parsing config file")
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		_, err := Load(writeConfig(t, "chunk_size: 0\n"))

		assert.ErrorContains(t, err, "chunk_size")
	})
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Backend = "bluez" },
			wantErr: "backend",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "loud" },
			wantErr: "log_level",
		},
		{
			name:    "zero scan timeout",
			mutate:  func(c *Config) { c.ScanTimeout = 0 },
			wantErr: "scan_timeout",
		},
		{
			name:    "zero connect timeout",
			mutate:  func(c *Config) { c.ConnectTimeout = 0 },
			wantErr: "connect_timeout",
		},
		{
			name:    "negative notify delay",
			mutate:  func(c *Config) { c.NotifyDelay = -time.Millisecond },
			wantErr: "notify_delay",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
