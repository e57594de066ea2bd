package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/barrier-explorer/internal/tier"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Tiers   TierConfig    `yaml:"tiers" mapstructure:"tiers"`
	Facets  FacetConfig   `yaml:"facets" mapstructure:"facets"`
	Session SessionConfig `yaml:"session" mapstructure:"session"`
	Engine  EngineConfig  `yaml:"engine" mapstructure:"engine"`
}

// StoreConfig configures the barrier inventory backend.
// For sqlite, DatabaseURL is the database file path.
type StoreConfig struct {
	Driver          string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL     string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns        int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns        int32  `yaml:"min_conns" mapstructure:"min_conns"`
	ConnectAttempts int    `yaml:"connect_attempts" mapstructure:"connect_attempts"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	RateLimit   float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst   int      `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TierConfig describes the packed tier layout produced by the ranking
// pipeline. It must match the producer exactly.
type TierConfig struct {
	Bits   uint     `yaml:"bits" mapstructure:"bits"`
	Fields []string `yaml:"fields" mapstructure:"fields"`
}

// PackFields returns the field list for the tier codec.
func (c TierConfig) PackFields() []tier.Field {
	return tier.Fields(c.Bits, c.Fields...)
}

// FacetConfig points at an optional dimension definition directory. Files
// are named <barrier type>.yaml; missing files fall back to the embedded
// defaults.
type FacetConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// SessionConfig configures the exploration session cache.
type SessionConfig struct {
	MaxEntries int           `yaml:"max_entries" mapstructure:"max_entries"`
	TTL        time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// EngineConfig tunes the facet engine.
type EngineConfig struct {
	IncrementalThreshold int `yaml:"incremental_threshold" mapstructure:"incremental_threshold"`
	IngestWorkers        int `yaml:"ingest_workers" mapstructure:"ingest_workers"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BARRIERS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("store.connect_attempts", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("tiers.bits", tier.DefaultBits)
	v.SetDefault("tiers.fields", tier.DefaultFieldNames)
	v.SetDefault("session.max_entries", 500)
	v.SetDefault("session.ttl", 30*time.Minute)
	v.SetDefault("engine.incremental_threshold", 50000)
	v.SetDefault("engine.ingest_workers", 4)
}

// Validate checks the configuration for a command mode: "serve", "facet",
// "import", "migrate" or "tiers". The tier pack is validated in every mode.
func (c *Config) Validate(mode string) error {
	var errs []string

	if err := tier.Validate(c.Tiers.PackFields()); err != nil {
		errs = append(errs, "tiers: "+err.Error())
	}

	switch mode {
	case "tiers":
	case "serve", "facet", "import", "migrate":
		errs = append(errs, c.validateStore()...)
		if mode == "serve" {
			if c.Server.Port <= 0 {
				errs = append(errs, "server.port must be > 0")
			}
			if c.Server.RateLimit < 0 {
				errs = append(errs, "server.rate_limit must be >= 0")
			}
			if c.Session.MaxEntries <= 0 {
				errs = append(errs, "session.max_entries must be > 0")
			}
		}
		if c.Engine.IncrementalThreshold < 0 {
			errs = append(errs, "engine.incremental_threshold must be >= 0")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown mode %q", mode))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	case "sqlite":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for sqlite")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
