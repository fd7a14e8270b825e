package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"

	// devJWTSecret signs tokens when ENV=development and JWT_SECRET is unset.
	devJWTSecret = "clinic-development-secret-do-not-use"
)

type Config struct {
	Port                  string        `mapstructure:"PORT"`
	Env                   string        `mapstructure:"ENV"`
	StoreDriver           string        `mapstructure:"STORE_DRIVER"`
	DatabaseURL           string        `mapstructure:"DATABASE_URL"`
	DBMaxConns            int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns            int32         `mapstructure:"DB_MIN_CONNS"`
	MongoURI              string        `mapstructure:"MONGO_URI"`
	MongoDB               string        `mapstructure:"MONGO_DB"`
	JWTSecret             string        `mapstructure:"JWT_SECRET"`
	JWTTTL                time.Duration `mapstructure:"JWT_TTL"`
	JWTIssuer             string        `mapstructure:"JWT_ISSUER"`
	AdminKey              string        `mapstructure:"ADMIN_KEY"`
	BcryptCost            int           `mapstructure:"BCRYPT_COST"`
	CORSOrigins           []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS          float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst        int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout        time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BookingExplicitStatus string        `mapstructure:"BOOKING_EXPLICIT_STATUS"`
	BookingAutoStatus     string        `mapstructure:"BOOKING_AUTO_STATUS"`
	MigrationsDir         string        `mapstructure:"MIGRATIONS_DIR"`
}

var keys = []string{
	"PORT", "ENV", "STORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"MONGO_URI", "MONGO_DB", "JWT_SECRET", "JWT_TTL", "JWT_ISSUER", "ADMIN_KEY",
	"BCRYPT_COST", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"REQUEST_TIMEOUT", "BOOKING_EXPLICIT_STATUS", "BOOKING_AUTO_STATUS", "MIGRATIONS_DIR",
}

// Load reads .env (optional) and the environment. It does not validate;
// callers decide which checks apply via Validate.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_DRIVER", DriverPostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MONGO_DB", "clinic")
	v.SetDefault("JWT_TTL", "168h")
	v.SetDefault("JWT_ISSUER", "clinic")
	v.SetDefault("BCRYPT_COST", 10)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BOOKING_EXPLICIT_STATUS", "confirmed")
	v.SetDefault("BOOKING_AUTO_STATUS", "pending")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.BookingExplicitStatus = strings.ToLower(strings.TrimSpace(cfg.BookingExplicitStatus))
	cfg.BookingAutoStatus = strings.ToLower(strings.TrimSpace(cfg.BookingAutoStatus))

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SigningKey returns JWT_SECRET, or the development fallback in development.
// The bool reports whether the fallback is in use.
func (c *Config) SigningKey() ([]byte, bool) {
	if c.JWTSecret == "" && c.IsDev() {
		return []byte(devJWTSecret), true
	}
	return []byte(c.JWTSecret), false
}

// ValidateStore checks only what is needed to open the selected store.
// Maintenance commands call this instead of Validate.
func (c *Config) ValidateStore() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", DriverPostgres)
		}
	case DriverMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required when STORE_DRIVER is %q", DriverMongo)
		}
		if c.MongoDB == "" {
			return fmt.Errorf("MONGO_DB must not be empty")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMongo, c.StoreDriver)
	}
	return nil
}

// Validate checks that the server configuration is safe to run.
func (c *Config) Validate() error {
	if err := c.ValidateStore(); err != nil {
		return err
	}
	if c.JWTSecret == "" && !c.IsDev() {
		return fmt.Errorf("JWT_SECRET is required outside development (ENV=%q)", c.Env)
	}
	if c.IsProduction() && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}
	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive, got %s", c.JWTTTL)
	}
	for name, status := range map[string]string{
		"BOOKING_EXPLICIT_STATUS": c.BookingExplicitStatus,
		"BOOKING_AUTO_STATUS":     c.BookingAutoStatus,
	} {
		if status != "pending" && status != "confirmed" {
			return fmt.Errorf("%s must be \"pending\" or \"confirmed\", got %q", name, status)
		}
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	return nil
}
