package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. CONTROLX_SERVER_ADDR.
const EnvPrefix = "CONTROLX"

// Config holds the application configuration loaded from flags, the
// environment, .env files and an optional controlx.yaml.
type Config struct {
	ConfigFile string

	Server   ServerConfig
	Database DatabaseConfig
	Exec     ExecConfig
	Auth     AuthConfig
	Log      LogConfig
	Metrics  MetricsConfig
}

type ServerConfig struct {
	Addr              string
	CORSOrigins       []string
	TLSCert           string
	TLSKey            string
	ReadHeaderTimeout time.Duration
}

// TLSEnabled reports whether both halves of a key pair are configured.
func (s ServerConfig) TLSEnabled() bool {
	return s.TLSCert != "" && s.TLSKey != ""
}

type DatabaseConfig struct {
	Path string
}

type ExecConfig struct {
	Shell     string
	Mode      string
	Timeout   time.Duration
	WaitDelay time.Duration
}

type AuthConfig struct {
	Realm string
}

type LogConfig struct {
	Level  string
	Format string
	Output string
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.cors_origins", []string{"http://localhost:5000"})
	v.SetDefault("server.tls_cert", "")
	v.SetDefault("server.tls_key", "")
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("database.path", "controlx.db")
	v.SetDefault("exec.shell", "/bin/sh")
	v.SetDefault("exec.mode", "shell")
	v.SetDefault("exec.timeout", time.Duration(0))
	v.SetDefault("exec.wait_delay", 2*time.Second)
	v.SetDefault("auth.realm", "Login Required")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// LoadConfig loads configuration in order of precedence:
// 1. Command-line flags (bound to v by the caller)
// 2. Environment variables (CONTROLX_*)
// 3. .env files
// 4. Config file (configFile, or controlx.yaml in . or $HOME)
// 5. Defaults
func LoadConfig(v *viper.Viper, configFile string) (*Config, error) {
	loadEnvFiles()

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("controlx")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		ConfigFile: v.ConfigFileUsed(),
		Server: ServerConfig{
			Addr:              v.GetString("server.addr"),
			CORSOrigins:       v.GetStringSlice("server.cors_origins"),
			TLSCert:           v.GetString("server.tls_cert"),
			TLSKey:            v.GetString("server.tls_key"),
			ReadHeaderTimeout: v.GetDuration("server.read_header_timeout"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Exec: ExecConfig{
			Shell:     v.GetString("exec.shell"),
			Mode:      v.GetString("exec.mode"),
			Timeout:   v.GetDuration("exec.timeout"),
			WaitDelay: v.GetDuration("exec.wait_delay"),
		},
		Auth: AuthConfig{
			Realm: v.GetString("auth.realm"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
			Path:    v.GetString("metrics.path"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return New(0, "server.addr must not be empty")
	}
	if c.Database.Path == "" {
		return New(0, "database.path must not be empty")
	}
	if c.Exec.Timeout < 0 {
		return New(0, "exec.timeout must not be negative")
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return New(0, "server.tls_cert and server.tls_key must be set together")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return New(0, "metrics.path must start with /")
	}
	return nil
}

// loadEnvFiles loads .env from the working directory and the project root.
// Variables already set in the environment win.
func loadEnvFiles() {
	seen := make(map[string]bool)
	for _, dir := range []string{".", GetProjectRoot()} {
		path, err := filepath.Abs(filepath.Join(dir, ".env"))
		if err != nil || seen[path] {
			continue
		}
		seen[path] = true
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
		}
	}
}

// GetProjectRoot returns the closest ancestor of the working directory that
// holds a go.mod, or "." when there is none.
func GetProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "."
}
