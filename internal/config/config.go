// Package config loads the service configuration from YAML, .env files and AMLSCREEN_ variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml/engine"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/normalize"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/recorder"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/scoring"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/screening"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/storage"
	"github.com/Aidin1998/amlscreen/internal/messaging"
	"github.com/Aidin1998/amlscreen/internal/scheduler"
	"github.com/Aidin1998/amlscreen/internal/telemetry"
	"github.com/Aidin1998/amlscreen/pkg/errors"
	"github.com/Aidin1998/amlscreen/pkg/validation"
)

const EnvPrefix = "AMLSCREEN"

// Config is the complete service configuration
type Config struct {
	Environment string `mapstructure:"environment" validate:"oneof=development staging production test"`

	Log       LogConfig               `mapstructure:"log"`
	Server    ServerConfig            `mapstructure:"server"`
	JWT       JWTConfig               `mapstructure:"jwt"`
	Database  storage.DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig             `mapstructure:"redis"`
	Kafka     messaging.KafkaConfig   `mapstructure:"kafka"`
	Engine    engine.Config           `mapstructure:"engine"`
	Screening ScreeningConfig         `mapstructure:"screening"`
	Scoring   scoring.Config          `mapstructure:"scoring"`
	Updater   screening.UpdaterConfig `mapstructure:"updater"`
	Queue     recorder.QueueConfig    `mapstructure:"queue"`
	Scheduler scheduler.Config        `mapstructure:"scheduler"`
	Telemetry telemetry.Config        `mapstructure:"telemetry"`

	// MatrixFile optionally overrides the built-in risk matrix.
	MatrixFile string `mapstructure:"matrix_file"`
	// SeedFile optionally preloads reference lists at startup.
	SeedFile string `mapstructure:"seed_file"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type JWTConfig struct {
	Secret   string `mapstructure:"secret" validate:"required,min=32"`
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`
}

// RedisConfig enables the shared assessment cache and the event stream. No addresses
// means the in-process cache is used and no stream is written.
type RedisConfig struct {
	Addrs        []string      `mapstructure:"addrs"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db" validate:"gte=0"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl" validate:"gt=0"`
	StreamEvents bool          `mapstructure:"stream_events"`
	StreamMaxLen int64         `mapstructure:"stream_max_len" validate:"gte=0"`
}

// MediaProviderConfig is a remote news search endpoint
type MediaProviderConfig struct {
	Name    string        `mapstructure:"name" validate:"required"`
	URL     string        `mapstructure:"url" validate:"required,url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ScreeningConfig struct {
	Normalize      normalize.Config             `mapstructure:"normalize"`
	Match          screening.MatchConfig        `mapstructure:"match"`
	Sanctions      screening.SanctionsConfig    `mapstructure:"sanctions"`
	PEP            screening.PEPConfig          `mapstructure:"pep"`
	AdverseMedia   screening.AdverseMediaConfig `mapstructure:"adverse_media"`
	Wallet         screening.WalletConfig       `mapstructure:"wallet"`
	MediaMaxAge    time.Duration                `mapstructure:"media_max_age"`
	MediaProviders []MediaProviderConfig        `mapstructure:"media_providers" validate:"dive"`
	// Disabled screeners are not registered at all.
	Disabled []string `mapstructure:"disabled" validate:"dive,oneof=sanctions pep adverse_media wallet_risk"`
}

// Default returns a configuration that runs locally on sqlite.
func Default() Config {
	return Config{
		Environment: "development",
		Log:         LogConfig{Level: "info", Format: "json"},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 20 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		JWT:      JWTConfig{Issuer: "amlscreen"},
		Database: storage.DatabaseConfig{Driver: "sqlite", DSN: "file:amlscreen.db?_busy_timeout=5000"},
		Redis:    RedisConfig{CacheTTL: 24 * time.Hour, StreamMaxLen: 100_000},
		Kafka: messaging.KafkaConfig{
			BatchSize:    100,
			BatchTimeout: 50 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: -1,
			MaxAttempts:  3,
			Compression:  "snappy",
		},
		Engine: engine.DefaultConfig(),
		Screening: ScreeningConfig{
			Normalize:    normalize.DefaultConfig(),
			Match:        screening.DefaultMatchConfig(),
			Sanctions:    screening.DefaultSanctionsConfig(),
			PEP:          screening.DefaultPEPConfig(),
			AdverseMedia: screening.DefaultAdverseMediaConfig(),
			Wallet:       screening.DefaultWalletConfig(),
			MediaMaxAge:  7 * 24 * time.Hour,
		},
		Scoring:   scoring.DefaultConfig(),
		Updater:   screening.DefaultUpdaterConfig(),
		Queue:     recorder.DefaultQueueConfig(),
		Scheduler: scheduler.DefaultConfig(),
		Telemetry: telemetry.DefaultConfig(),
	}
}

// envBindings lists the keys that can be set from the environment, e.g. AMLSCREEN_JWT_SECRET.
var envBindings = []string{
	"environment",
	"log.level", "log.format",
	"server.host", "server.port", "server.read_timeout", "server.write_timeout",
	"server.shutdown_timeout", "server.cors_origins",
	"jwt.secret", "jwt.issuer", "jwt.audience",
	"database.driver", "database.dsn", "database.max_open_conns", "database.max_idle_conns",
	"database.conn_max_lifetime", "database.log_queries",
	"redis.addrs", "redis.password", "redis.db", "redis.cache_ttl", "redis.stream_events",
	"kafka.brokers", "kafka.compression",
	"engine.source_timeout", "engine.basic_timeout", "engine.comprehensive_timeout",
	"engine.required_sources",
	"scheduler.enabled", "scheduler.run_on_start",
	"telemetry.tracing", "telemetry.metrics", "telemetry.sample_ratio",
	"matrix_file", "seed_file",
}

// Load reads .env (when present), the optional YAML file and the environment, in increasing
// precedence, on top of Default. The result is validated.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Configuration.Explain("failed to read .env").Wrap(err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envBindings {
		if err := v.BindEnv(key); err != nil {
			return nil, errors.Configuration.Explain("failed to bind %s", key).Wrap(err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Configuration.Explain("failed to read config file %s", path).Wrap(err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, errors.Configuration.Explain("failed to decode configuration").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section. Failures are configuration errors listing each field.
func (c *Config) Validate() error {
	if err := validation.New("validate").Struct(c); err != nil {
		var e *errors.Error
		if errors.As(err, &e) {
			return errors.Configuration.Explain("invalid configuration").WithFields(e.Fields)
		}
		return errors.Configuration.Wrap(err)
	}
	if c.Environment == "production" && c.Database.Driver == "sqlite" {
		return errors.Configuration.Explain("sqlite is not supported in production").
			WithField("oneof", "database.driver", "use postgres in production")
	}
	return nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		decimalHook,
	)
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

func decimalHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return decimal.NewFromString(v)
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	}
	return data, nil
}
