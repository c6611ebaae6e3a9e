// Package config loads service settings from defaults, an optional YAML file
// and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DevSecret is used when debug is enabled and no secret was configured.
const DevSecret = "replace-this-secret"

const minSecretLength = 16

// Config is the root configuration structure.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Auth      AuthConfig      `yaml:"auth"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`

	// UsingDevSecret is set when Validate substituted DevSecret.
	UsingDevSecret bool `yaml:"-"`
}

// AuthConfig holds token signing and password hashing settings.
type AuthConfig struct {
	SecretKey        string `yaml:"secret_key"`
	TokenTTLSeconds  int    `yaml:"token_ttl_seconds"`
	SigningAlgorithm string `yaml:"signing_algorithm"`
	Issuer           string `yaml:"issuer"`
	BcryptCost       int    `yaml:"bcrypt_cost"`
}

// BootstrapConfig describes the admin account created at startup.
type BootstrapConfig struct {
	InitialAdminUsername string `yaml:"initial_admin_username"`
	InitialAdminPassword string `yaml:"initial_admin_password"`
}

// DatabaseConfig selects the directory backend.
type DatabaseConfig struct {
	URL         string `yaml:"url"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// ServerConfig contains HTTP and gRPC listener settings.
type ServerConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	GRPCPort            int    `yaml:"grpc_port"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds  int    `yaml:"idle_timeout_seconds"`
	MaxBodyBytes        int64  `yaml:"max_body_bytes"`
	// TrustedProxies lists CIDRs or addresses whose X-Forwarded-For is
	// honored. Empty means the TCP peer is always the client.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// LoggingConfig controls the logrus logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RateLimitConfig throttles POST /token per client address.
type RateLimitConfig struct {
	LoginAttempts int           `yaml:"login_attempts"`
	Window        time.Duration `yaml:"window"`
	RedisAddr     string        `yaml:"redis_addr"`
}

// CORSConfig lists origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Load reads path (optional), applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with development defaults and no secret.
func Default() *Config {
	return &Config{
		Auth: AuthConfig{
			TokenTTLSeconds:  3600,
			SigningAlgorithm: "HS256",
			Issuer:           "tenantauth",
		},
		Bootstrap: BootstrapConfig{
			InitialAdminUsername: "admin",
		},
		Database: DatabaseConfig{
			URL:         "sqlite:///./tenantauth.db",
			AutoMigrate: true,
		},
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8000,
			GRPCPort:            9090,
			ReadTimeoutSeconds:  15,
			WriteTimeoutSeconds: 15,
			IdleTimeoutSeconds:  60,
			MaxBodyBytes:        1 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			LoginAttempts: 10,
			Window:        time.Minute,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:3001"},
		},
	}
}

func applyEnvOverrides(cfg *Config) error {
	var errs []error

	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setInt := func(key string, dst *int) {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
	setBool := func(key string, dst *bool) {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}

	setBool("DEBUG", &cfg.Debug)

	setString("JWT_SECRET", &cfg.Auth.SecretKey)
	setInt("JWT_EXPIRE_S", &cfg.Auth.TokenTTLSeconds)
	setString("ALGORITHM", &cfg.Auth.SigningAlgorithm)
	setString("JWT_ISSUER", &cfg.Auth.Issuer)
	setInt("BCRYPT_COST", &cfg.Auth.BcryptCost)

	setString("INITIAL_ADMIN_USERNAME", &cfg.Bootstrap.InitialAdminUsername)
	setString("INITIAL_ADMIN_PASSWORD", &cfg.Bootstrap.InitialAdminPassword)

	setString("DATABASE_URL", &cfg.Database.URL)
	setBool("AUTO_MIGRATE", &cfg.Database.AutoMigrate)

	setString("API_HOST", &cfg.Server.Host)
	setInt("API_PORT", &cfg.Server.Port)
	setInt("GRPC_PORT", &cfg.Server.GRPCPort)

	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FORMAT", &cfg.Logging.Format)

	setInt("LOGIN_RATE_LIMIT", &cfg.RateLimit.LoginAttempts)
	if v := strings.TrimSpace(os.Getenv("LOGIN_RATE_WINDOW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LOGIN_RATE_WINDOW: %w", err))
		} else {
			cfg.RateLimit.Window = d
		}
	}
	setString("REDIS_ADDR", &cfg.RateLimit.RedisAddr)

	setList := func(key string, dst *[]string) {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return
		}
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*dst = out
	}
	setList("CORS_ALLOWED_ORIGINS", &cfg.CORS.AllowedOrigins)
	setList("TRUSTED_PROXIES", &cfg.Server.TrustedProxies)

	return errors.Join(errs...)
}

// Validate checks the configuration. With debug enabled a missing secret is
// replaced by DevSecret; otherwise a secret is required.
func (c *Config) Validate() error {
	var errs []string

	switch {
	case c.Auth.SecretKey == "" && c.Debug:
		c.Auth.SecretKey = DevSecret
		c.UsingDevSecret = true
	case c.Auth.SecretKey == "":
		errs = append(errs, "auth.secret_key is required (set JWT_SECRET environment variable)")
	case len(c.Auth.SecretKey) < minSecretLength && !c.Debug:
		errs = append(errs, fmt.Sprintf("auth.secret_key must be at least %d characters", minSecretLength))
	}
	if c.Auth.TokenTTLSeconds <= 0 {
		errs = append(errs, "auth.token_ttl_seconds must be positive")
	}
	switch strings.ToUpper(c.Auth.SigningAlgorithm) {
	case "HS256", "HS384", "HS512":
	default:
		errs = append(errs, fmt.Sprintf("auth.signing_algorithm %q is not supported", c.Auth.SigningAlgorithm))
	}

	if c.Database.URL == "" {
		errs = append(errs, "database.url is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, "server.grpc_port must be between 0 and 65535")
	}
	for _, p := range c.Server.TrustedProxies {
		if !validProxy(p) {
			errs = append(errs, fmt.Sprintf("server.trusted_proxies entry %q is not an address or CIDR", p))
		}
	}
	if c.RateLimit.LoginAttempts < 0 {
		errs = append(errs, "rate_limit.login_attempts must not be negative")
	}
	if c.RateLimit.LoginAttempts > 0 && c.RateLimit.Window <= 0 {
		errs = append(errs, "rate_limit.window must be positive")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q must be json or text", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validProxy(s string) bool {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		_, err := netip.ParsePrefix(s)
		return err == nil
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

// TokenTTL returns the default token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLSeconds) * time.Second
}

// HTTPAddr returns the HTTP listen address.
func (c *Config) HTTPAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// GRPCAddr returns the gRPC listen address, or "" when gRPC is disabled.
func (c *Config) GRPCAddr() string {
	if c.Server.GRPCPort == 0 {
		return ""
	}
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.GRPCPort))
}

// ReadTimeout returns the HTTP read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Server.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the HTTP write timeout.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeoutSeconds) * time.Second
}

// IdleTimeout returns the HTTP idle timeout.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Server.IdleTimeoutSeconds) * time.Second
}
