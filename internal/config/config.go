// Package config holds the runtime settings of the ledger daemon.
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/MarkoPoloResearchLab/bookingledger/pkg/ledger"
)

const (
	defaultListenAddr      = ":8080"
	defaultGRPCListenAddr  = "127.0.0.1:7000"
	defaultDatabaseURL     = "sqlite:///tmp/bookingledger.db"
	defaultAllowedOrigin   = "http://localhost:3000"
	defaultJWTIssuer       = "bookingledger"
	defaultAdminRole       = "admin"
	defaultTimeZone        = "Asia/Singapore"
	defaultRequestTimeout  = 10 * time.Second
	defaultAutomateTimeout = 10 * time.Second
)

// Automate configures the reservation system client.
type Automate struct {
	Enabled  bool
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// Config aggregates runtime settings for ledgerd.
type Config struct {
	ListenAddr         string
	GRPCListenAddr     string
	DatabaseURL        string
	AllowedOrigins     []string
	JWTSigningKey      string
	JWTIssuer          string
	AdminRole          string
	RequestTimeout     time.Duration
	TimeZone           string
	LeadTimeHours      int
	CancellationPolicy string
	FanOutLimit        int
	Automate           Automate
}

// Validate fills defaults and rejects unusable values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.JWTIssuer = defaultIfEmpty(cfg.JWTIssuer, defaultJWTIssuer)
	cfg.AdminRole = defaultIfEmpty(cfg.AdminRole, defaultAdminRole)
	cfg.TimeZone = defaultIfEmpty(cfg.TimeZone, defaultTimeZone)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.LeadTimeHours == 0 {
		cfg.LeadTimeHours = ledger.DefaultLeadTimeHours
	}
	if cfg.FanOutLimit == 0 {
		cfg.FanOutLimit = ledger.DefaultFanOutLimit
	}
	if cfg.Automate.Timeout <= 0 {
		cfg.Automate.Timeout = defaultAutomateTimeout
	}

	if len(cfg.JWTSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	if cfg.LeadTimeHours < 0 {
		return fmt.Errorf("lead time hours must not be negative")
	}
	if cfg.FanOutLimit < 0 {
		return fmt.Errorf("fan-out limit must be positive")
	}
	policy, err := ledger.ParseCancellationPolicy(cfg.CancellationPolicy)
	if err != nil {
		return err
	}
	cfg.CancellationPolicy = string(policy)
	if _, err := time.LoadLocation(cfg.TimeZone); err != nil {
		return fmt.Errorf("time zone %q: %w", cfg.TimeZone, err)
	}
	if cfg.Automate.Enabled && strings.TrimSpace(cfg.Automate.BaseURL) == "" {
		return fmt.Errorf("automate base url is required when automate is enabled")
	}
	return nil
}

// Location resolves the configured time zone. Call after Validate.
func (cfg Config) Location() *time.Location {
	location, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return time.UTC
	}
	return location
}

// Policy returns the parsed cancellation policy. Call after Validate.
func (cfg Config) Policy() ledger.CancellationPolicy {
	return ledger.CancellationPolicy(cfg.CancellationPolicy)
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
