package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir isolates a test from any signatory.yaml in the package directory.
func chdir(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
}

func TestDefaults(t *testing.T) {
	chdir(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendFS, cfg.Keystore.Backend)
	assert.Equal(t, "soft://", cfg.HSM.URL)
	assert.Equal(t, 1, cfg.HSM.AuthKeyID)
	assert.Equal(t, ":50051", cfg.Server.Addr)
	assert.Equal(t, 100, cfg.Server.RateLimitRPS)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 1024, cfg.Audit.Buffer)
	assert.Equal(t, 10000, cfg.Audit.Retain)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, filepath.Join(os.Getenv("HOME"), ".signatory", "keys"), cfg.Keystore.Dir)
}

func TestEnvOverrides(t *testing.T) {
	chdir(t)
	t.Setenv("SIGNATORY_SERVER_ADDR", "127.0.0.1:7000")
	t.Setenv("SIGNATORY_HSM_AUTH_KEY_ID", "2")
	t.Setenv("SIGNATORY_SERVER_SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("SIGNATORY_KEYSTORE_DIR", "/srv/keys")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Addr)
	assert.Equal(t, 2, cfg.HSM.AuthKeyID)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "/srv/keys", cfg.Keystore.Dir)
}

func TestFileThenEnv(t *testing.T) {
	chdir(t)
	path := filepath.Join(t.TempDir(), "conf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
hsm:
  url: grpc://hsm.internal:50051
  password: hunter2
log:
  level: debug
  format: json
`), 0o600))
	t.Setenv("SIGNATORY_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "grpc://hsm.internal:50051", cfg.HSM.URL)
	assert.Equal(t, "hunter2", cfg.HSM.Password)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestDiscoversWorkingDirectoryFile(t *testing.T) {
	chdir(t)
	require.NoError(t, os.WriteFile("signatory.yaml", []byte("server:\n  rate_limit_rps: 5\n"), 0o600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Server.RateLimitRPS)
}

func TestExplicitMissingFile(t *testing.T) {
	chdir(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	chdir(t)
	for name, env := range map[string][2]string{
		"auth key zero":    {"SIGNATORY_HSM_AUTH_KEY_ID", "0"},
		"auth key too big": {"SIGNATORY_HSM_AUTH_KEY_ID", "70000"},
		"negative rps":     {"SIGNATORY_SERVER_RATE_LIMIT_RPS", "-1"},
		"lonely cert":      {"SIGNATORY_SERVER_TLS_CERT", "/tmp/cert.pem"},
		"zero timeout":     {"SIGNATORY_SERVER_SHUTDOWN_TIMEOUT", "0s"},
		"bad level":        {"SIGNATORY_LOG_LEVEL", "loud"},
		"bad format":       {"SIGNATORY_LOG_FORMAT", "xml"},
		"bad backend":      {"SIGNATORY_KEYSTORE_BACKEND", "s3"},
		"negative retain":  {"SIGNATORY_AUDIT_RETAIN", "-1"},
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(env[0], env[1])
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}
