package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	AuthSigningKey     string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer         string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience       string        `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS       float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int64         `mapstructure:"RATE_LIMIT_BURST"`
	EnrichmentProvider string        `mapstructure:"ENRICHMENT_PROVIDER"`
	EnrichmentTimeout  time.Duration `mapstructure:"ENRICHMENT_TIMEOUT"`
	GeminiAPIKey       string        `mapstructure:"GEMINI_API_KEY"`
	GeminiModel        string        `mapstructure:"GEMINI_MODEL"`
	OpenFDABaseURL     string        `mapstructure:"OPENFDA_BASE_URL"`
	OpenFDAAPIKey      string        `mapstructure:"OPENFDA_API_KEY"`
	ArchiveEndpoint    string        `mapstructure:"ARCHIVE_ENDPOINT"`
	ArchiveAccessKey   string        `mapstructure:"ARCHIVE_ACCESS_KEY"`
	ArchiveSecretKey   string        `mapstructure:"ARCHIVE_SECRET_KEY"`
	ArchiveBucket      string        `mapstructure:"ARCHIVE_BUCKET"`
	ArchiveUseSSL      bool          `mapstructure:"ARCHIVE_USE_SSL"`
	StaleBatchAfter    time.Duration `mapstructure:"STALE_BATCH_AFTER"`
	StaleCheckInterval time.Duration `mapstructure:"STALE_CHECK_INTERVAL"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"ENRICHMENT_PROVIDER", "ENRICHMENT_TIMEOUT", "GEMINI_API_KEY", "GEMINI_MODEL",
	"OPENFDA_BASE_URL", "OPENFDA_API_KEY",
	"ARCHIVE_ENDPOINT", "ARCHIVE_ACCESS_KEY", "ARCHIVE_SECRET_KEY", "ARCHIVE_BUCKET", "ARCHIVE_USE_SSL",
	"STALE_BATCH_AFTER", "STALE_CHECK_INTERVAL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("ENRICHMENT_PROVIDER", "gemini")
	v.SetDefault("ENRICHMENT_TIMEOUT", "120s")
	v.SetDefault("GEMINI_MODEL", "gemini-2.5-flash")
	v.SetDefault("OPENFDA_BASE_URL", "https://api.fda.gov")
	v.SetDefault("ARCHIVE_BUCKET", "enrichment-archive")
	v.SetDefault("STALE_BATCH_AFTER", "30m")
	v.SetDefault("STALE_CHECK_INTERVAL", "5m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: requests without a bearer token are served as an admin dev user.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run. Outside development a
// signing key is required so that bearer tokens are actually verified, and the
// selected enrichment provider must be fully configured.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}

	switch c.EnrichmentProvider {
	case "gemini":
		if !c.IsDev() && c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for ENRICHMENT_PROVIDER=gemini")
		}
	case "openfda":
		if c.OpenFDABaseURL == "" {
			return fmt.Errorf("OPENFDA_BASE_URL is required for ENRICHMENT_PROVIDER=openfda")
		}
	default:
		return fmt.Errorf("ENRICHMENT_PROVIDER must be \"gemini\" or \"openfda\", got %q", c.EnrichmentProvider)
	}

	if c.ArchiveEndpoint != "" && (c.ArchiveAccessKey == "" || c.ArchiveSecretKey == "") {
		return fmt.Errorf("ARCHIVE_ACCESS_KEY and ARCHIVE_SECRET_KEY are required when ARCHIVE_ENDPOINT is set")
	}

	if c.EnrichmentTimeout <= 0 {
		return fmt.Errorf("ENRICHMENT_TIMEOUT must be positive")
	}

	return nil
}
