package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validBase returns a config that passes validation, for tests to mutate.
func validBase() *Config {
	cfg := GetDefaultConfig()
	cfg.API.RootAPIKey = "test-key"
	cfg.S3.AccessKeyID = "ak"
	cfg.S3.SecretAccessKey = "sk"
	cfg.S3.BucketName = "uploads"
	return cfg
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := GetDefaultConfig()

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, 500, cfg.Outbox.BatchSize)
	assert.Equal(t, 1*time.Second, cfg.Outbox.PublishInterval)
	assert.Equal(t, 2*time.Minute, cfg.Outbox.RecoverInterval)
	assert.Equal(t, 60*time.Second, cfg.Outbox.StaleAfter)
	assert.Equal(t, 24*time.Hour, cfg.Redis.SessionTTL)
	assert.Equal(t, 1, cfg.RabbitMQ.Prefetch)
	assert.Equal(t, 3, cfg.S3.MaxRetries)
	assert.False(t, cfg.Worker.BatchedUpserts)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestValidate_RejectsMissingAPIKey(t *testing.T) {
	t.Parallel()

	cfg := validBase()
	cfg.API.RootAPIKey = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "root_api_key")
}

func TestValidate_RejectsMissingS3Credentials(t *testing.T) {
	t.Parallel()

	cfg := validBase()
	cfg.S3.SecretAccessKey = ""

	assert.Error(t, Validate(cfg))
}

func TestValidate_RejectsShortStaleLease(t *testing.T) {
	t.Parallel()

	cfg := validBase()
	cfg.Outbox.StaleAfter = 500 * time.Millisecond // below the 1s publish tick

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stale_after")
}

func TestValidate_RejectsBadLogLevel(t *testing.T) {
	t.Parallel()

	cfg := validBase()
	cfg.Logging.Level = "VERBOSE"

	assert.Error(t, Validate(cfg))
}

func TestLoad_FromFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
logging:
  level: debug
api:
  port: 9999
  root_api_key: from-file
s3:
  access_key_id: ak
  secret_access_key: sk
  bucket_name: uploads
outbox:
  batch_size: 100
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))

	t.Setenv("BOOKINGEST_API_ROOT_API_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level, "level should be normalized")
	assert.Equal(t, 9999, cfg.API.Port)
	assert.Equal(t, 100, cfg.Outbox.BatchSize)
	assert.Equal(t, "from-env", cfg.API.RootAPIKey, "env beats file")
	// Unspecified values fall back to defaults
	assert.Equal(t, 2*time.Minute, cfg.Outbox.RecoverInterval)
}

func TestLoad_DurationStrings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
api:
  root_api_key: k
s3:
  access_key_id: ak
  secret_access_key: sk
  bucket_name: b
outbox:
  publish_interval: 250ms
  stale_after: 90s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Outbox.PublishInterval)
	assert.Equal(t, 90*time.Second, cfg.Outbox.StaleAfter)
}

func TestInitConfigToPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf", "config.yaml")

	require.NoError(t, InitConfigToPath(path, false))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// Refuses to overwrite without force
	assert.Error(t, InitConfigToPath(path, false))
	assert.NoError(t, InitConfigToPath(path, true))
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := validBase()
	cfg.API.Port = 1234
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1234, loaded.API.Port)
	assert.Equal(t, cfg.MongoDB.DBName, loaded.MongoDB.DBName)
}
