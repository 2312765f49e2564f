package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/yeremiapane/table-join/utils"
)

// Config holds all configuration values.
type Config struct {
	Port            string `mapstructure:"PORT"`
	GinMode         string `mapstructure:"GIN_MODE"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	LogFormat       string `mapstructure:"LOG_FORMAT"`
	DBDriver        string `mapstructure:"DB_DRIVER"`
	DBDSN           string `mapstructure:"DB_DSN"`
	DBMaxOpenConns  int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns  int    `mapstructure:"DB_MAX_IDLE_CONNS"`
	JWTSecret       string `mapstructure:"JWT_SECRET"`
	RedisURL        string `mapstructure:"REDIS_URL"`
	RateLimitPerSec int    `mapstructure:"RATE_LIMIT_PER_SECOND"`
	CORSOrigins     string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	Join JoinConfig `mapstructure:",squash"`
}

// JoinConfig tunes the join coordinator.
type JoinConfig struct {
	RequestTTL          time.Duration `mapstructure:"JOIN_REQUEST_TTL"`
	ConfirmationWindow  time.Duration `mapstructure:"JOIN_CONFIRMATION_WINDOW"`
	CodeLength          int           `mapstructure:"JOIN_CODE_LENGTH"`
	CodeMaxAttempts     int           `mapstructure:"JOIN_CODE_MAX_ATTEMPTS"`
	CodeRetries         int           `mapstructure:"JOIN_CODE_RETRIES"`
	CodeRetryBackoff    time.Duration `mapstructure:"JOIN_CODE_RETRY_BACKOFF"`
	SweepInterval       time.Duration `mapstructure:"JOIN_SWEEP_INTERVAL"`
	AutoRejectCompeting bool          `mapstructure:"JOIN_AUTO_REJECT_COMPETING"`
}

// DefaultJoinConfig returns the defaults used when nothing is configured.
func DefaultJoinConfig() JoinConfig {
	return JoinConfig{
		RequestTTL:          3 * time.Minute,
		ConfirmationWindow:  5 * time.Minute,
		CodeLength:          6,
		CodeMaxAttempts:     12,
		CodeRetries:         3,
		CodeRetryBackoff:    50 * time.Millisecond,
		SweepInterval:       15 * time.Second,
		AutoRejectCompeting: true,
	}
}

// Validate rejects settings the coordinator cannot run with.
func (c JoinConfig) Validate() error {
	switch {
	case c.RequestTTL <= 0:
		return errors.New("JOIN_REQUEST_TTL must be positive")
	case c.ConfirmationWindow <= 0:
		return errors.New("JOIN_CONFIRMATION_WINDOW must be positive")
	case c.CodeLength < 4 || c.CodeLength > 16:
		return errors.New("JOIN_CODE_LENGTH must be between 4 and 16")
	case c.CodeMaxAttempts < 1:
		return errors.New("JOIN_CODE_MAX_ATTEMPTS must be at least 1")
	case c.CodeRetries < 0:
		return errors.New("JOIN_CODE_RETRIES must not be negative")
	case c.SweepInterval <= 0:
		return errors.New("JOIN_SWEEP_INTERVAL must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	j := DefaultJoinConfig()
	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "debug")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_DSN", "tablejoin.db")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 10)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("RATE_LIMIT_PER_SECOND", 50)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("JOIN_REQUEST_TTL", j.RequestTTL)
	v.SetDefault("JOIN_CONFIRMATION_WINDOW", j.ConfirmationWindow)
	v.SetDefault("JOIN_CODE_LENGTH", j.CodeLength)
	v.SetDefault("JOIN_CODE_MAX_ATTEMPTS", j.CodeMaxAttempts)
	v.SetDefault("JOIN_CODE_RETRIES", j.CodeRetries)
	v.SetDefault("JOIN_CODE_RETRY_BACKOFF", j.CodeRetryBackoff)
	v.SetDefault("JOIN_SWEEP_INTERVAL", j.SweepInterval)
	v.SetDefault("JOIN_AUTO_REJECT_COMPETING", j.AutoRejectCompeting)
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Load reads .env (if present), an optional config.yaml and the process
// environment, in increasing order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		utils.InfoLogger.Println("No .env file found, using environment variables only")
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Join.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
