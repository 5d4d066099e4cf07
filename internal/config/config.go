// Package config loads and validates the typed configuration for both
// the janus server and client commands, generalizing the flag-based ad
// hoc configuration of the original CLI into a layered viper load:
// environment variables, then a config file, then defaults.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix viper binds against, e.g.
// JANUS_SOCKET_PATH.
const EnvPrefix = "JANUS"

// ServerConfig is the typed configuration for `janus listen`.
type ServerConfig struct {
	SocketPath        string        `mapstructure:"socket_path" validate:"required"`
	Name              string        `mapstructure:"name" validate:"required"`
	Version           string        `mapstructure:"version" validate:"required"`
	ManifestPath      string        `mapstructure:"manifest_path"`
	MaxConnections    int           `mapstructure:"max_connections" validate:"gt=0"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout" validate:"gt=0"`
	MaxMessageSize    int           `mapstructure:"max_message_size" validate:"gt=0"`
	CleanupOnStart    bool          `mapstructure:"cleanup_on_start"`
	CleanupOnShutdown bool          `mapstructure:"cleanup_on_shutdown"`
	MetricsEnabled    bool          `mapstructure:"metrics_enabled"`
	MetricsPort       int           `mapstructure:"metrics_port" validate:"omitempty,min=1,max=65535"`
	LogLevel          string        `mapstructure:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
	LogFormat         string        `mapstructure:"log_format" validate:"omitempty,oneof=text json"`
}

// ClientConfig is the typed configuration for `janus send`.
type ClientConfig struct {
	ServerPath        string        `mapstructure:"server_path" validate:"required"`
	ManifestPath      string        `mapstructure:"manifest_path"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxMessageSize    int           `mapstructure:"max_message_size" validate:"gt=0"`
	EnableValidation  bool          `mapstructure:"enable_validation"`
	LogLevel          string        `mapstructure:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
	LogFormat         string        `mapstructure:"log_format" validate:"omitempty,oneof=text json"`
}

// DefaultServerConfig mirrors pkg/server.DefaultConfig's values so the CLI
// and library defaults never drift apart.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		SocketPath:        "/tmp/janus.sock",
		Name:              "janus-server",
		Version:           "1.0.0",
		MaxConnections:    100,
		DefaultTimeout:    30 * time.Second,
		MaxMessageSize:    64 * 1024,
		CleanupOnStart:    true,
		CleanupOnShutdown: true,
		MetricsPort:       9090,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// DefaultClientConfig mirrors pkg/client.DefaultConfig's values.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:          30 * time.Second,
		MaxMessageSize:   64 * 1024,
		EnableValidation: true,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(defaultConfigDir())
		v.AddConfigPath(".")
		v.SetConfigName("janus")
		v.SetConfigType("yaml")
	}
	return v
}

func defaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "janus")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "janus")
}

func readIfPresent(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "config: reading config file")
	}
	return nil
}

var validate = validator.New()

// LoadServerConfig layers environment variables and an optional config
// file over DefaultServerConfig, validating the result.
func LoadServerConfig(configPath string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	v := newViper(configPath)
	v.SetDefault("socket_path", cfg.SocketPath)
	v.SetDefault("name", cfg.Name)
	v.SetDefault("version", cfg.Version)
	v.SetDefault("max_connections", cfg.MaxConnections)
	v.SetDefault("default_timeout", cfg.DefaultTimeout)
	v.SetDefault("max_message_size", cfg.MaxMessageSize)
	v.SetDefault("cleanup_on_start", cfg.CleanupOnStart)
	v.SetDefault("cleanup_on_shutdown", cfg.CleanupOnShutdown)
	v.SetDefault("metrics_port", cfg.MetricsPort)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)

	if err := readIfPresent(v); err != nil {
		return ServerConfig{}, err
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return ServerConfig{}, errors.Wrap(err, "config: decoding server config")
	}
	if err := validate.Struct(&cfg); err != nil {
		return ServerConfig{}, errors.Wrap(err, "config: invalid server config")
	}
	return cfg, nil
}

// LoadClientConfig layers environment variables and an optional config
// file over DefaultClientConfig, validating the result.
func LoadClientConfig(configPath, serverPath string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	cfg.ServerPath = serverPath
	v := newViper(configPath)
	v.SetDefault("server_path", cfg.ServerPath)
	v.SetDefault("timeout", cfg.Timeout)
	v.SetDefault("max_message_size", cfg.MaxMessageSize)
	v.SetDefault("enable_validation", cfg.EnableValidation)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)

	if err := readIfPresent(v); err != nil {
		return ClientConfig{}, err
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return ClientConfig{}, errors.Wrap(err, "config: decoding client config")
	}
	if serverPath != "" {
		cfg.ServerPath = serverPath
	}
	if err := validate.Struct(&cfg); err != nil {
		return ClientConfig{}, errors.Wrap(err, "config: invalid client config")
	}
	return cfg, nil
}
