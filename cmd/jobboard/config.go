package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	iam "github.com/chimerakang/jobboard-iam"
	"github.com/chimerakang/jobboard-iam/oauth2"
	"github.com/spf13/viper"
)

// Config is the jobboard binary configuration, read from jobboard.yaml and
// JOBBOARD_* environment variables (JOBBOARD_CREDENTIAL_DRIVER, ...).
type Config struct {
	Endpoint       string        `mapstructure:"endpoint" validate:"required,url"`
	LoginPath      string        `mapstructure:"login_path" validate:"omitempty,startswith=/"`
	ForbiddenPath  string        `mapstructure:"forbidden_path" validate:"omitempty,startswith=/"`
	RedirectParam  string        `mapstructure:"redirect_param"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gte=0"`

	Log        LogConfig        `mapstructure:"log"`
	Credential CredentialConfig `mapstructure:"credential"`
	Validation ValidationConfig `mapstructure:"validation"`
	Server     ServerConfig     `mapstructure:"server"`
	Audit      AuditConfig      `mapstructure:"audit"`
	OAuth2     OAuth2Config     `mapstructure:"oauth2"`
}

type LogConfig struct {
	Format string `mapstructure:"format" validate:"oneof=text json"`
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

type CredentialConfig struct {
	Driver string      `mapstructure:"driver" validate:"oneof=memory file redis sqlite"`
	Key    string      `mapstructure:"key"`
	File   string      `mapstructure:"file"`
	SQLite string      `mapstructure:"sqlite" validate:"required_if=Driver sqlite"`
	Redis  RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// ValidationConfig selects how the guard validates credentials: with the
// backend's validate endpoint, or locally against a JWKS.
type ValidationConfig struct {
	Mode     string `mapstructure:"mode" validate:"oneof=remote jwks"`
	JWKSURL  string `mapstructure:"jwks_url" validate:"required_if=Mode jwks"`
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`
	// ClaimRoles takes roles from the validated token rather than "who am I".
	ClaimRoles bool `mapstructure:"claim_roles"`
}

type ServerConfig struct {
	Addr         string `mapstructure:"addr" validate:"required"`
	CookieName   string `mapstructure:"cookie_name" validate:"required"`
	SecureCookie bool   `mapstructure:"secure_cookie"`
	APIPrefix    string `mapstructure:"api_prefix"`
	Metrics      bool   `mapstructure:"metrics"`
}

type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	File    string `mapstructure:"file"`
}

type OAuth2Config struct {
	StateStore string            `mapstructure:"state_store" validate:"oneof=memory redis"`
	StateTTL   time.Duration     `mapstructure:"state_ttl"`
	Providers  []oauth2.Provider `mapstructure:"providers" validate:"dive"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("endpoint", "")
	v.SetDefault("login_path", iam.DefaultLoginPath)
	v.SetDefault("forbidden_path", iam.DefaultForbiddenPath)
	v.SetDefault("redirect_param", iam.DefaultRedirectParam)
	v.SetDefault("request_timeout", iam.DefaultRequestTimeout)

	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")

	v.SetDefault("credential.driver", "file")
	v.SetDefault("credential.key", "token")
	v.SetDefault("credential.file", "")
	v.SetDefault("credential.sqlite", "")
	v.SetDefault("credential.redis.addr", "localhost:6379")
	v.SetDefault("credential.redis.username", "")
	v.SetDefault("credential.redis.password", "")
	v.SetDefault("credential.redis.db", 0)
	v.SetDefault("credential.redis.prefix", "")

	v.SetDefault("validation.mode", "remote")
	v.SetDefault("validation.jwks_url", "")
	v.SetDefault("validation.issuer", "")
	v.SetDefault("validation.audience", "")
	v.SetDefault("validation.claim_roles", false)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cookie_name", "jobboard_token")
	v.SetDefault("server.secure_cookie", false)
	v.SetDefault("server.api_prefix", "/api/")
	v.SetDefault("server.metrics", true)

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.file", "")

	v.SetDefault("oauth2.state_store", "memory")
	v.SetDefault("oauth2.state_ttl", oauth2.DefaultStateTTL)
}

// loadConfig reads path, or jobboard.yaml from the working directory and the
// user config directory when path is empty. A missing file is not an error;
// environment variables alone are enough.
func loadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("jobboard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "jobboard"))
		}
	}
	v.SetEnvPrefix("JOBBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := iam.Validate(cfg); err != nil {
		return nil, fmt.Errorf("error validating config: %w", err)
	}
	return &cfg, nil
}
