package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tokenledger/internal/database"
	"github.com/MarkoPoloResearchLab/tokenledger/internal/recraft"
	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
)

const (
	defaultHTTPListenAddr  = ":8080"
	defaultDatabaseURL     = "sqlite:///tmp/tokenledger.db"
	defaultAllowedOrigin   = "http://localhost:8000"
	defaultSessionIssuer   = "tauth"
	defaultSessionCookie   = "app_session"
	defaultRequestTimeout  = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	defaultRecraftTimeout  = 5 * time.Minute
	defaultConflictRetries = 3
)

// Config aggregates runtime settings for the token ledger server.
// An empty GRPCListenAddr disables the gRPC listener. The gRPC surface
// credits and debits any user, so enabling it requires GRPCAuthToken.
// A negative ConflictRetries selects the default; zero disables retries.
type Config struct {
	HTTPListenAddr    string
	GRPCListenAddr    string
	GRPCAuthToken     string
	DatabaseURL       string
	DatabaseEngine    string
	AutoMigrate       bool
	AllowedOrigins    []string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	CreditRole        string
	HistoryLimit      int
	ConflictRetries   int
	RequestTimeout    time.Duration
	ShutdownTimeout   time.Duration
	RecraftBaseURL    string
	RecraftAPIToken   string
	RecraftTimeout    time.Duration
	LogDevelopment    bool
}

// Validate fills defaults and rejects unusable settings.
func (cfg *Config) Validate() error {
	cfg.HTTPListenAddr = defaultIfEmpty(cfg.HTTPListenAddr, defaultHTTPListenAddr)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.DatabaseEngine = strings.ToLower(defaultIfEmpty(cfg.DatabaseEngine, database.EngineGORM))
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	cfg.RecraftBaseURL = defaultIfEmpty(cfg.RecraftBaseURL, recraft.DefaultBaseURL)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = ledger.DefaultHistoryLimit
	}
	if cfg.ConflictRetries < 0 {
		cfg.ConflictRetries = defaultConflictRetries
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.RecraftTimeout <= 0 {
		cfg.RecraftTimeout = defaultRecraftTimeout
	}

	if cfg.HistoryLimit > ledger.MaxHistoryLimit {
		return fmt.Errorf("history limit exceeds maximum: %d > %d", cfg.HistoryLimit, ledger.MaxHistoryLimit)
	}
	if cfg.DatabaseEngine != database.EngineGORM && cfg.DatabaseEngine != database.EnginePGX {
		return fmt.Errorf("%w: %q", database.ErrUnsupportedEngine, cfg.DatabaseEngine)
	}
	if strings.TrimSpace(cfg.GRPCListenAddr) != "" && strings.TrimSpace(cfg.GRPCAuthToken) == "" {
		return fmt.Errorf("grpc auth token is required when the gRPC listener is enabled")
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			return fmt.Errorf("wildcard origin is not allowed with credentialed requests")
		}
	}
	return nil
}

// ProxyEnabled reports whether the image proxy has an upstream token.
func (cfg Config) ProxyEnabled() bool {
	return strings.TrimSpace(cfg.RecraftAPIToken) != ""
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimRight(strings.TrimSpace(part), "/")
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
