package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type SandboxConfig struct {
	Interpreter    string        `mapstructure:"interpreter" yaml:"interpreter"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	WorkDir        string        `mapstructure:"work_dir" yaml:"work_dir"`
	ScriptName     string        `mapstructure:"script_name" yaml:"script_name"`
	LanguagePrefix string        `mapstructure:"language_prefix" yaml:"language_prefix"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DBPath  string `mapstructure:"db_path" yaml:"db_path"`
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Sandbox SandboxConfig `mapstructure:"sandbox" yaml:"sandbox"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	History HistoryConfig `mapstructure:"history" yaml:"history"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8194)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("sandbox.interpreter", "python3")
	v.SetDefault("sandbox.timeout", 10*time.Second)
	v.SetDefault("sandbox.work_dir", "")
	v.SetDefault("sandbox.script_name", "script.py")
	v.SetDefault("sandbox.language_prefix", "python")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.db_path", filepath.Join(os.Getenv("HOME"), ".runbox", "history.db"))
}

// Load reads runbox.yaml from the given path, or from ./ and $HOME/.runbox when
// path is empty. A missing config file is fine; defaults and RUNBOX_* environment
// variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("runbox")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.runbox")
	}

	v.SetEnvPrefix("RUNBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without consulting files or the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults always decode cleanly.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks values that would make the service unusable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("invalid sandbox.timeout: %s", c.Sandbox.Timeout)
	}
	if strings.TrimSpace(c.Sandbox.Interpreter) == "" {
		return errors.New("sandbox.interpreter is required")
	}
	if c.Sandbox.ScriptName == "" || strings.ContainsAny(c.Sandbox.ScriptName, `/\`) {
		return fmt.Errorf("invalid sandbox.script_name: %q", c.Sandbox.ScriptName)
	}
	if c.History.Enabled && c.History.DBPath == "" {
		return errors.New("history.db_path is required when history is enabled")
	}
	return nil
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// IsLoopback reports whether the server only listens on a loopback interface.
func (c *Config) IsLoopback() bool {
	if c.Server.Host == "localhost" {
		return true
	}
	ip := net.ParseIP(c.Server.Host)
	return ip != nil && ip.IsLoopback()
}
