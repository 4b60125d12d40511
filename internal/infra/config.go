package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the adjudication service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Collaborators CollaboratorsConfig `mapstructure:"collaborators"`
	Logger        LoggerConfig        `mapstructure:"logger"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds the RS256 key material and token settings for the
// reviewer/ops perimeter.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	PublicKey      []byte
	PrivateKey     []byte
}

// PipelineConfig tunes the decision pipeline and its collaborator calls.
type PipelineConfig struct {
	RetryAttempts       uint          `mapstructure:"retry_attempts"`
	CollaboratorTimeout time.Duration `mapstructure:"collaborator_timeout"`

	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`

	RegulatoryLookbackDays int           `mapstructure:"regulatory_lookback_days"`
	ExclusionCacheTTL      time.Duration `mapstructure:"exclusion_cache_ttl"`

	CheckLogBufferSize    int           `mapstructure:"checklog_buffer_size"`
	CheckLogFlushInterval time.Duration `mapstructure:"checklog_flush_interval"`
}

// CollaboratorsConfig points at the external benefits and policy services.
type CollaboratorsConfig struct {
	EligibilityURL string `mapstructure:"eligibility_url"`
	PolicyURL      string `mapstructure:"policy_url"`
}

type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig merges config.yaml, environment variables and defaults.
// Env overrides use underscores: PIPELINE_RETRY_ATTEMPTS=5 overrides
// pipeline.retry_attempts.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No file: env + defaults only.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Key material may arrive inline via env (Docker/K8s) or via file path.
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("auth.token_ttl", 1*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("pipeline.retry_attempts", 3)
	v.SetDefault("pipeline.collaborator_timeout", 10*time.Second)
	v.SetDefault("pipeline.cb_max_requests", 3)
	v.SetDefault("pipeline.cb_interval", 5*time.Second)
	v.SetDefault("pipeline.cb_timeout", 30*time.Second)
	v.SetDefault("pipeline.regulatory_lookback_days", 730)
	v.SetDefault("pipeline.exclusion_cache_ttl", 12*time.Hour)
	v.SetDefault("pipeline.checklog_buffer_size", 10000)
	v.SetDefault("pipeline.checklog_flush_interval", 500*time.Millisecond)
}

func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
