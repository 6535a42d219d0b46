// Package config loads signatory settings from defaults, an optional YAML
// file and SIGNATORY_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const (
	EnvPrefix  = "SIGNATORY"
	configName = "signatory"
)

type Config struct {
	Keystore KeystoreConfig `mapstructure:"keystore"`
	HSM      HSMConfig      `mapstructure:"hsm"`
	Server   ServerConfig   `mapstructure:"server"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Log      LogConfig      `mapstructure:"log"`
}

type KeystoreConfig struct {
	Dir     string `mapstructure:"dir"`
	Backend string `mapstructure:"backend"`
	// KeyringPassword unlocks keyring's encrypted file backend when the
	// system store falls back to it.
	KeyringPassword string `mapstructure:"keyring_password"`
}

// Key store backends.
const (
	BackendFS     = "fs"
	BackendSystem = "system"
)

type HSMConfig struct {
	URL       string `mapstructure:"url"`
	AuthKeyID int    `mapstructure:"auth_key_id"`
	Password  string `mapstructure:"password"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	RateLimitRPS    int           `mapstructure:"rate_limit_rps"`
	AuthToken       string        `mapstructure:"auth_token"`
	TLSCert         string        `mapstructure:"tls_cert"`
	TLSKey          string        `mapstructure:"tls_key"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuditConfig sizes the audit queue. Retain caps the entries kept in memory
// for queries; older ones survive only in File.
type AuditConfig struct {
	Buffer int    `mapstructure:"buffer"`
	Retain int    `mapstructure:"retain"`
	File   string `mapstructure:"file"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// New returns a viper instance carrying the defaults and environment
// binding. Callers may bind command-line flags to it before LoadFrom.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("keystore.dir", defaultKeystoreDir())
	v.SetDefault("keystore.backend", BackendFS)
	v.SetDefault("keystore.keyring_password", "")

	v.SetDefault("hsm.url", "soft://")
	v.SetDefault("hsm.auth_key_id", 1)
	v.SetDefault("hsm.password", "password")

	v.SetDefault("server.addr", ":50051")
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("server.rate_limit_rps", 100)
	v.SetDefault("server.auth_token", "")
	v.SetDefault("server.tls_cert", "")
	v.SetDefault("server.tls_key", "")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("audit.buffer", 1024)
	v.SetDefault("audit.retain", 10000)
	v.SetDefault("audit.file", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("log.file", "")
}

func defaultKeystoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".signatory", "keys")
}

// Load reads path (or, when path is empty, signatory.yaml from the working
// directory or ~/.signatory if present) over the defaults.
func Load(path string) (*Config, error) {
	return LoadFrom(New(), path)
}

// LoadFrom is Load on a caller-prepared viper instance.
func LoadFrom(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".signatory"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Keystore.Backend != BackendFS && c.Keystore.Backend != BackendSystem {
		errs = append(errs, fmt.Errorf("keystore.backend %q: want fs or system", c.Keystore.Backend))
	}
	if c.HSM.AuthKeyID < 1 || c.HSM.AuthKeyID > math.MaxUint16 {
		errs = append(errs, fmt.Errorf("hsm.auth_key_id %d out of range", c.HSM.AuthKeyID))
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, errors.New("server.rate_limit_rps must not be negative"))
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		errs = append(errs, errors.New("server.tls_cert and server.tls_key must be set together"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	if c.Audit.Buffer < 0 {
		errs = append(errs, errors.New("audit.buffer must not be negative"))
	}
	if c.Audit.Retain < 0 {
		errs = append(errs, errors.New("audit.retain must not be negative"))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "auto", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want auto, json or console", c.Log.Format))
	}
	return errors.Join(errs...)
}
