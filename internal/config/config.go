// Package config assembles the process configuration from defaults, an optional
// YAML file, AUTHCORE_* environment variables and command-line flags, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"qazna.org/authcore/internal/auth"
)

type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	GRPC     GRPCConfig     `koanf:"grpc"`
	Database DatabaseConfig `koanf:"database"`
	Tokens   TokenConfig    `koanf:"tokens"`
	Cookies  CookieConfig   `koanf:"cookies"`
	Log      LogConfig      `koanf:"log"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateBurst       int           `koanf:"rate_burst"`
	RatePerSec      int           `koanf:"rate_per_sec"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes"`
}

// GRPCConfig: an empty Addr disables the health listener.
type GRPCConfig struct {
	Addr          string        `koanf:"addr"`
	ProbeInterval time.Duration `koanf:"probe_interval"`
}

// DatabaseConfig: an empty DSN selects the in-memory store.
type DatabaseConfig struct {
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	WaitTimeout     time.Duration `koanf:"wait_timeout"`
}

type TokenConfig struct {
	Algorithm      string        `koanf:"algorithm"`
	Secret         string        `koanf:"secret"`
	PrivateKeyFile string        `koanf:"private_key_file"`
	PublicKeyFile  string        `koanf:"public_key_file"`
	Issuer         string        `koanf:"issuer"`
	AccessTTL      time.Duration `koanf:"access_ttl"`
	RefreshTTL     time.Duration `koanf:"refresh_ttl"`
	ResetTTL       time.Duration `koanf:"reset_ttl"`
}

type CookieConfig struct {
	Domain   string `koanf:"domain"`
	Secure   bool   `koanf:"secure"`
	SameSite string `koanf:"same_site"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

// Default returns the built-in configuration. Tokens.Secret has no default.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateBurst:       20,
			RatePerSec:      10,
			MaxBodyBytes:    1 << 20,
		},
		GRPC: GRPCConfig{ProbeInterval: 5 * time.Second},
		Database: DatabaseConfig{
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 15 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			WaitTimeout:     30 * time.Second,
		},
		Tokens: TokenConfig{
			Algorithm:  "HS256",
			Issuer:     "authcore",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 30 * 24 * time.Hour,
			ResetTTL:   15 * time.Minute,
		},
		Cookies: CookieConfig{Secure: true, SameSite: "none"},
		Log:     LogConfig{Level: "info"},
	}
}

// envKeys maps environment variables onto configuration keys.
var envKeys = map[string]string{
	"AUTHCORE_HTTP_ADDR":        "http.addr",
	"AUTHCORE_CORS_ORIGINS":     "http.cors_origins",
	"AUTHCORE_RATE_BURST":       "http.rate_burst",
	"AUTHCORE_RATE_PER_SEC":     "http.rate_per_sec",
	"AUTHCORE_GRPC_ADDR":        "grpc.addr",
	"AUTHCORE_PG_DSN":           "database.dsn",
	"AUTHCORE_JWT_ALGORITHM":    "tokens.algorithm",
	"AUTHCORE_JWT_SECRET":       "tokens.secret",
	"AUTHCORE_JWT_PRIVATE_KEY":  "tokens.private_key_file",
	"AUTHCORE_JWT_PUBLIC_KEY":   "tokens.public_key_file",
	"AUTHCORE_JWT_ISSUER":       "tokens.issuer",
	"AUTHCORE_ACCESS_TTL":       "tokens.access_ttl",
	"AUTHCORE_REFRESH_TTL":      "tokens.refresh_ttl",
	"AUTHCORE_RESET_TTL":        "tokens.reset_ttl",
	"AUTHCORE_COOKIE_DOMAIN":    "cookies.domain",
	"AUTHCORE_COOKIE_SECURE":    "cookies.secure",
	"AUTHCORE_COOKIE_SAME_SITE": "cookies.same_site",
	"AUTHCORE_LOG_LEVEL":        "log.level",
}

// RegisterFlags declares the command-line overrides on fs. Only flags the
// user sets take effect.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("http-addr", d.HTTP.Addr, "HTTP listen address")
	fs.String("grpc-addr", d.GRPC.Addr, "gRPC health listen address (empty = disabled)")
	fs.String("dsn", d.Database.DSN, "PostgreSQL DSN (empty = in-memory store)")
	fs.StringSlice("cors-origins", nil, "allowed CORS origin patterns")
	fs.String("jwt-algorithm", d.Tokens.Algorithm, "token signing algorithm")
	fs.String("jwt-issuer", d.Tokens.Issuer, "token issuer")
	fs.Duration("access-ttl", d.Tokens.AccessTTL, "access token lifetime")
	fs.Duration("refresh-ttl", d.Tokens.RefreshTTL, "refresh token lifetime")
	fs.Duration("reset-ttl", d.Tokens.ResetTTL, "password reset token lifetime")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
}

var flagKeys = map[string]string{
	"http-addr":     "http.addr",
	"grpc-addr":     "grpc.addr",
	"dsn":           "database.dsn",
	"cors-origins":  "http.cors_origins",
	"jwt-algorithm": "tokens.algorithm",
	"jwt-issuer":    "tokens.issuer",
	"access-ttl":    "tokens.access_ttl",
	"refresh-ttl":   "tokens.refresh_ttl",
	"reset-ttl":     "tokens.reset_ttl",
	"log-level":     "log.level",
}

// Load layers path (optional), environ (os.Environ() format) and flags (may be
// nil) over Default. Callers that serve traffic must Validate the result.
func Load(path string, flags *pflag.FlagSet, environ []string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		key, known := envKeys[name]
		if !known || value == "" {
			continue
		}
		if key == "http.cors_origins" {
			if err := k.Set(key, splitList(value)); err != nil {
				return Config{}, err
			}
			continue
		}
		if err := k.Set(key, value); err != nil {
			return Config{}, err
		}
	}
	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, fmt.Errorf("config: flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// FromEnv is Load with the process environment.
func FromEnv(path string, flags *pflag.FlagSet) (Config, error) {
	return Load(path, flags, os.Environ())
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	alg := strings.ToUpper(strings.TrimSpace(c.Tokens.Algorithm))
	switch alg {
	case "HS256", "HS384", "HS512":
		if len(c.Tokens.Secret) < 16 {
			errs = append(errs, errors.New("tokens.secret must be at least 16 bytes"))
		}
	case "RS256", "RS384", "RS512":
		if c.Tokens.PrivateKeyFile == "" {
			errs = append(errs, errors.New("tokens.private_key_file is required for RSA algorithms"))
		}
	default:
		errs = append(errs, fmt.Errorf("tokens.algorithm %q is not supported", c.Tokens.Algorithm))
	}
	for name, ttl := range map[string]time.Duration{
		"tokens.access_ttl":  c.Tokens.AccessTTL,
		"tokens.refresh_ttl": c.Tokens.RefreshTTL,
		"tokens.reset_ttl":   c.Tokens.ResetTTL,
	} {
		if ttl <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if _, err := c.Cookies.Mode(); err != nil {
		errs = append(errs, err)
	}
	if c.HTTP.RateBurst <= 0 || c.HTTP.RatePerSec <= 0 {
		errs = append(errs, errors.New("http rate limits must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Mode parses SameSite.
func (c CookieConfig) Mode() (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(c.SameSite)) {
	case "", "none":
		return http.SameSiteNoneMode, nil
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	default:
		return 0, fmt.Errorf("cookies.same_site %q is not one of none, lax, strict", c.SameSite)
	}
}

// CodecConfig reads key material and returns the signing configuration.
func (c Config) CodecConfig() (auth.CodecConfig, error) {
	cc := auth.CodecConfig{
		Algorithm:  c.Tokens.Algorithm,
		Secret:     []byte(c.Tokens.Secret),
		Issuer:     c.Tokens.Issuer,
		AccessTTL:  c.Tokens.AccessTTL,
		RefreshTTL: c.Tokens.RefreshTTL,
		ResetTTL:   c.Tokens.ResetTTL,
	}
	if c.Tokens.PrivateKeyFile != "" {
		b, err := os.ReadFile(c.Tokens.PrivateKeyFile)
		if err != nil {
			return auth.CodecConfig{}, fmt.Errorf("config: read private key: %w", err)
		}
		cc.PrivateKeyPEM = string(b)
	}
	if c.Tokens.PublicKeyFile != "" {
		b, err := os.ReadFile(c.Tokens.PublicKeyFile)
		if err != nil {
			return auth.CodecConfig{}, fmt.Errorf("config: read public key: %w", err)
		}
		cc.PublicKeyPEM = string(b)
	}
	return cc, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
