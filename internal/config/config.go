package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	ListenAddr  string
	StoreDriver string

	DB struct {
		DSN string
	}

	OIDC struct {
		IssuerURL string
		ClientID  string
	}

	Untis struct {
		Host       string
		School     string
		ClientName string
	}

	// CredentialKeys is "version:base64,..." for the credential vault.
	CredentialKeys string
	Location       *time.Location

	Sync Sync

	PrometheusEnabled bool
	TrustedProxies    []string
}

// Sync holds cache and upstream tunables.
type Sync struct {
	CacheTTL      time.Duration `env:"APP_CACHE_TTL" envDefault:"5m"`
	PrefetchDelay time.Duration `env:"APP_PREFETCH_DELAY" envDefault:"2s"`
	PruneInterval time.Duration `env:"APP_PRUNE_INTERVAL" envDefault:"6h"`
	PruneMaxAge   time.Duration `env:"APP_PRUNE_MAX_AGE" envDefault:"1080h"`
	PruneHistory  int           `env:"APP_PRUNE_HISTORY" envDefault:"2"`
	UntisRPS      float64       `env:"APP_UNTIS_RPS" envDefault:"5"`
	UntisBurst    int           `env:"APP_UNTIS_BURST" envDefault:"5"`
	APIRPS        float64       `env:"APP_API_RPS" envDefault:"2"`
	APIBurst      int           `env:"APP_API_BURST" envDefault:"10"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	cfg.ListenAddr = getenvDefault("APP_LISTEN_ADDR", ":8080")
	cfg.StoreDriver = strings.ToLower(getenvDefault("APP_STORE_DRIVER", StoreDriverPostgres))
	cfg.DB.DSN = os.Getenv("APP_DB_DSN")

	if cfg.DB.DSN == "" {
		host := os.Getenv("APP_DB_HOST")
		name := os.Getenv("APP_DB_NAME")
		user := os.Getenv("APP_DB_USER")
		password := os.Getenv("APP_DB_PASSWORD")
		port := getenvDefault("APP_DB_PORT", "5432")
		sslmode := getenvDefault("APP_DB_SSLMODE", "disable")

		if host != "" && name != "" && user != "" && password != "" {
			cfg.DB.DSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, name, sslmode)
		}
	}

	cfg.OIDC.IssuerURL = os.Getenv("APP_OIDC_ISSUER_URL")
	cfg.OIDC.ClientID = os.Getenv("APP_OIDC_CLIENT_ID")
	cfg.Untis.Host = os.Getenv("APP_UNTIS_HOST")
	cfg.Untis.School = os.Getenv("APP_UNTIS_SCHOOL")
	cfg.Untis.ClientName = getenvDefault("APP_UNTIS_CLIENT", "timetable")
	cfg.CredentialKeys = os.Getenv("APP_CREDENTIAL_KEYS")
	cfg.PrometheusEnabled = getenvBool("APP_PROMETHEUS_ENDPOINT_ENABLED", false)
	cfg.TrustedProxies = getenvList("APP_TRUSTED_PROXIES")

	tz := getenvDefault("APP_SCHOOL_TIMEZONE", "Europe/Berlin")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("APP_SCHOOL_TIMEZONE: %w", err)
	}
	cfg.Location = loc

	if err := env.Parse(&cfg.Sync); err != nil {
		return nil, fmt.Errorf("parse sync settings: %w", err)
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DB.DSN == "" {
			return nil, errors.New("APP_DB_DSN is required (or set APP_DB_HOST, APP_DB_NAME, APP_DB_USER, and APP_DB_PASSWORD)")
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("APP_STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, cfg.StoreDriver)
	}
	if cfg.OIDC.IssuerURL == "" || cfg.OIDC.ClientID == "" {
		return nil, errors.New("APP_OIDC_ISSUER_URL and APP_OIDC_CLIENT_ID are required")
	}
	if cfg.Untis.Host == "" || cfg.Untis.School == "" {
		return nil, errors.New("APP_UNTIS_HOST and APP_UNTIS_SCHOOL are required")
	}
	if cfg.CredentialKeys == "" {
		return nil, errors.New("APP_CREDENTIAL_KEYS is required")
	}
	if cfg.Sync.CacheTTL <= 0 || cfg.Sync.PruneInterval <= 0 || cfg.Sync.PruneMaxAge <= 0 {
		return nil, errors.New("APP_CACHE_TTL, APP_PRUNE_INTERVAL and APP_PRUNE_MAX_AGE must be positive")
	}
	if cfg.Sync.PruneHistory < 1 {
		return nil, fmt.Errorf("APP_PRUNE_HISTORY must be at least 1 (got %d)", cfg.Sync.PruneHistory)
	}

	if len(cfg.TrustedProxies) == 0 {
		log.Printf("[WARN] no APP_TRUSTED_PROXIES configured; client addresses from proxy headers are ignored")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvList(key string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, item := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return nil
}
