package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendREST     = "rest"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	StoreBackend string        `mapstructure:"STORE_BACKEND"`
	StoreURL     string        `mapstructure:"STORE_URL"`
	StoreAPIKey  string        `mapstructure:"STORE_API_KEY"`
	StoreTimeout time.Duration `mapstructure:"STORE_TIMEOUT"`
	StoreRetries int           `mapstructure:"STORE_RETRIES"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	AuthJWTSecret string `mapstructure:"AUTH_JWT_SECRET"`
	AuthJWKSURL   string `mapstructure:"AUTH_JWKS_URL"`
	AuthIssuer    string `mapstructure:"AUTH_ISSUER"`
	AuthAudience  string `mapstructure:"AUTH_AUDIENCE"`
	AuthRoleClaim string `mapstructure:"AUTH_ROLE_CLAIM"`

	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
	DisplayTimezone  string        `mapstructure:"DISPLAY_TIMEZONE"`
	WorkspaceIdleTTL time.Duration `mapstructure:"WORKSPACE_IDLE_TTL"`
	ListMaxAge       time.Duration `mapstructure:"LIST_MAX_AGE"`
	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	SandboxSeed      bool          `mapstructure:"SANDBOX_SEED"`
}

var keys = []string{
	"PORT", "ENV",
	"STORE_BACKEND", "STORE_URL", "STORE_API_KEY", "STORE_TIMEOUT", "STORE_RETRIES",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_JWT_SECRET", "AUTH_JWKS_URL", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_ROLE_CLAIM",
	"CORS_ORIGINS", "DISPLAY_TIMEZONE", "WORKSPACE_IDLE_TTL", "LIST_MAX_AGE", "REQUEST_TIMEOUT",
	"SANDBOX_SEED",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_TIMEOUT", "10s")
	v.SetDefault("STORE_RETRIES", 0)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("AUTH_ROLE_CLAIM", "user_role")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("DISPLAY_TIMEZONE", "UTC")
	v.SetDefault("WORKSPACE_IDLE_TTL", "30m")
	v.SetDefault("LIST_MAX_AGE", "30s")
	v.SetDefault("REQUEST_TIMEOUT", "30s")

	// Bind explicitly so Unmarshal sees variables that have no default.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env file is fine.
	_ = v.ReadInConfig()

	dev := v.GetString("ENV") == "development"
	if !v.IsSet("STORE_BACKEND") || v.GetString("STORE_BACKEND") == "" {
		if dev {
			v.Set("STORE_BACKEND", BackendMemory)
		} else {
			v.Set("STORE_BACKEND", BackendREST)
		}
	}
	if !v.IsSet("SANDBOX_SEED") || v.GetString("SANDBOX_SEED") == "" {
		v.Set("SANDBOX_SEED", dev)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))

	if cfg.IsDev() && cfg.AuthJWTSecret == "" && cfg.AuthJWKSURL == "" {
		log.Warn().Msg("development mode without token verification: requests without a token act as an admin dev-user")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// VerifiesTokens reports whether bearer tokens can be verified.
func (c *Config) VerifiesTokens() bool {
	return c.AuthJWTSecret != "" || c.AuthJWKSURL != ""
}

// Location resolves DISPLAY_TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	name := c.DisplayTimezone
	if name == "" {
		name = "UTC"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("DISPLAY_TIMEZONE %q: %w", name, err)
	}
	return loc, nil
}

// Validate checks that the settings fit together. Outside development a
// token verifier is required so every session comes from a verified token.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendREST:
		if c.StoreURL == "" {
			return fmt.Errorf("STORE_URL is required when STORE_BACKEND is %q", BackendREST)
		}
		if c.StoreAPIKey == "" {
			return fmt.Errorf("STORE_API_KEY is required when STORE_BACKEND is %q", BackendREST)
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is %q", BackendPostgres)
		}
		if c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
		}
	case BackendMemory:
		if !c.IsDev() {
			return fmt.Errorf("STORE_BACKEND %q is only allowed with ENV=development", BackendMemory)
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q, %q or %q, got %q", BackendREST, BackendPostgres, BackendMemory, c.StoreBackend)
	}

	if !c.IsDev() && !c.VerifiesTokens() {
		return fmt.Errorf("AUTH_JWT_SECRET or AUTH_JWKS_URL must be set outside development (ENV=%q)", c.Env)
	}
	if c.StoreRetries < 0 {
		return fmt.Errorf("STORE_RETRIES must not be negative, got %d", c.StoreRetries)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive, got %s", c.StoreTimeout)
	}
	if c.WorkspaceIdleTTL < 0 {
		return fmt.Errorf("WORKSPACE_IDLE_TTL must not be negative, got %s", c.WorkspaceIdleTTL)
	}
	if c.ListMaxAge < 0 {
		return fmt.Errorf("LIST_MAX_AGE must not be negative, got %s", c.ListMaxAge)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
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
