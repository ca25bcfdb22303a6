// Package config loads settings from config.json with environment
// variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	MonitorConfig  MonitorConfig  `json:"monitor"`
	HealingConfig  HealingConfig  `json:"healing"`
	LearningConfig LearningConfig `json:"learning"`
	AlertConfig    AlertConfig    `json:"alert"`
	SMTPConfig     SMTPConfig     `json:"smtp"`
	SMSConfig      SMSConfig      `json:"sms"`
	ServerConfig   ServerConfig   `json:"server"`
	AuthConfig     AuthConfig     `json:"auth"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
	VaultConfig    VaultConfig    `json:"vault"`
	LoggingConfig  LoggingConfig  `json:"logging"`
	Sources        []SourceConfig `json:"sources"`
}

// MonitorConfig holds polling defaults
type MonitorConfig struct {
	DefaultIntervalSeconds int `json:"default_interval_seconds"` // per-endpoint override wins
	DefaultTimeoutSeconds  int `json:"default_timeout_seconds"`
	LatencyThresholdMs     int `json:"latency_threshold_ms"` // slow responses count as timeouts
}

// HealingConfig holds the coordinator and strategy settings
type HealingConfig struct {
	BudgetSeconds         int `json:"budget_seconds"`          // total time per healing run
	CacheFreshnessMinutes int `json:"cache_freshness_minutes"` // cached-data strategy window
	BackoffMaxAttempts    int `json:"backoff_max_attempts"`
	BackoffBaseDelayMs    int `json:"backoff_base_delay_ms"`
}

// LearningConfig holds the knowledge recomputation settings
type LearningConfig struct {
	RecomputeIntervalMinutes int `json:"recompute_interval_minutes"`
	SnapshotIntervalMinutes  int `json:"snapshot_interval_minutes"`
}

// AlertConfig holds dedup and resolution settings
type AlertConfig struct {
	SuppressWindowMinutes int `json:"suppress_window_minutes"`
	ResolveDelaySeconds   int `json:"resolve_delay_seconds"`
}

// SMTPConfig holds email notification settings
type SMTPConfig struct {
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	From     string   `json:"from"`
	FromName string   `json:"from_name"`
	To       []string `json:"to"`
}

// SMSConfig holds the SMS gateway settings
type SMSConfig struct {
	Enabled    bool     `json:"enabled"`
	GatewayURL string   `json:"gateway_url"`
	APIKey     string   `json:"api_key"`
	Recipients []string `json:"recipients"`
}

// ServerConfig holds the HTTP API settings
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"` // comma-separated
	ProductionMode  bool   `json:"production_mode"`
	ShutdownTimeout int    `json:"shutdown_timeout"` // seconds
}

// AuthConfig holds operator authentication settings
type AuthConfig struct {
	Enabled            bool   `json:"enabled"`
	JWTSecret          string `json:"jwt_secret"`
	TokenDurationHours int    `json:"token_duration_hours"`
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds emergency-cache Redis settings
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
	TTLHours int    `json:"ttl_hours"`
}

// VaultConfig holds credential storage settings
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// LoggingConfig holds zerolog settings
type LoggingConfig struct {
	Level      string `json:"level"` // debug, info, warn, error
	JSONFormat bool   `json:"json_format"`
}

// SourceConfig describes one upstream data provider and its endpoints
type SourceConfig struct {
	Name           string            `json:"name"`
	BaseURL        string            `json:"base_url"`
	AuthHeader     string            `json:"auth_header"`
	APIKey         string            `json:"api_key"`
	StandbyKey     string            `json:"standby_key"`
	Alternates     map[string]string `json:"alternates"`
	FallbackSource string            `json:"fallback_source"` // another source serving equivalent data
	Endpoints      []EndpointConfig  `json:"endpoints"`
}

// EndpointConfig describes one monitored endpoint of a source
type EndpointConfig struct {
	Name            string                 `json:"name"`
	Path            string                 `json:"path"`
	IntervalSeconds int                    `json:"interval_seconds"`
	TimeoutSeconds  int                    `json:"timeout_seconds"`
	Params          map[string]interface{} `json:"params"`
	RequiredFields  []string               `json:"required_fields"`
	FreshnessField  string                 `json:"freshness_field"`
	FreshnessMaxAge string                 `json:"freshness_max_age"` // duration string, e.g. "2h"
	QuotaMarkers    []string               `json:"quota_markers"`
}

// Load reads config.json (when present) and applies env overrides
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// LoadFrom reads a specific config file and applies env overrides
func LoadFrom(path string) (*Config, error) {
	cfg, err := loadFromFile(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Server
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)
	if getEnvOrDefault("PRODUCTION_MODE", "") == "true" {
		cfg.ServerConfig.ProductionMode = true
	}

	// Auth
	if getEnvOrDefault("AUTH_ENABLED", "") == "true" {
		cfg.AuthConfig.Enabled = true
	}
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("JWT_SECRET", cfg.AuthConfig.JWTSecret)

	// Database
	if getEnvOrDefault("DATABASE_ENABLED", "") == "true" {
		cfg.DatabaseConfig.Enabled = true
	}
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	// Redis
	if getEnvOrDefault("REDIS_ENABLED", "") == "true" {
		cfg.RedisConfig.Enabled = true
	}
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)

	// Vault
	if getEnvOrDefault("VAULT_ENABLED", "") == "true" {
		cfg.VaultConfig.Enabled = true
	}
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)

	// SMTP
	cfg.SMTPConfig.Host = getEnvOrDefault("SMTP_HOST", cfg.SMTPConfig.Host)
	cfg.SMTPConfig.Port = getEnvIntOrDefault("SMTP_PORT", cfg.SMTPConfig.Port)
	cfg.SMTPConfig.Username = getEnvOrDefault("SMTP_USERNAME", cfg.SMTPConfig.Username)
	cfg.SMTPConfig.Password = getEnvOrDefault("SMTP_PASSWORD", cfg.SMTPConfig.Password)
	cfg.SMTPConfig.From = getEnvOrDefault("SMTP_FROM", cfg.SMTPConfig.From)

	// SMS
	cfg.SMSConfig.GatewayURL = getEnvOrDefault("SMS_GATEWAY_URL", cfg.SMSConfig.GatewayURL)
	cfg.SMSConfig.APIKey = getEnvOrDefault("SMS_API_KEY", cfg.SMSConfig.APIKey)

	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
}

func applyDefaults(cfg *Config) {
	if cfg.MonitorConfig.DefaultIntervalSeconds <= 0 {
		cfg.MonitorConfig.DefaultIntervalSeconds = 60
	}
	if cfg.MonitorConfig.DefaultTimeoutSeconds <= 0 {
		cfg.MonitorConfig.DefaultTimeoutSeconds = 10
	}
	if cfg.MonitorConfig.LatencyThresholdMs <= 0 {
		cfg.MonitorConfig.LatencyThresholdMs = 10000
	}
	if cfg.HealingConfig.BudgetSeconds <= 0 {
		cfg.HealingConfig.BudgetSeconds = 120
	}
	if cfg.HealingConfig.CacheFreshnessMinutes <= 0 {
		cfg.HealingConfig.CacheFreshnessMinutes = 60
	}
	if cfg.HealingConfig.BackoffMaxAttempts <= 0 {
		cfg.HealingConfig.BackoffMaxAttempts = 3
	}
	if cfg.HealingConfig.BackoffBaseDelayMs <= 0 {
		cfg.HealingConfig.BackoffBaseDelayMs = 1000
	}
	if cfg.LearningConfig.RecomputeIntervalMinutes <= 0 {
		cfg.LearningConfig.RecomputeIntervalMinutes = 60
	}
	if cfg.LearningConfig.SnapshotIntervalMinutes <= 0 {
		cfg.LearningConfig.SnapshotIntervalMinutes = 60
	}
	if cfg.AlertConfig.SuppressWindowMinutes <= 0 {
		cfg.AlertConfig.SuppressWindowMinutes = 60
	}
	if cfg.AlertConfig.ResolveDelaySeconds <= 0 {
		cfg.AlertConfig.ResolveDelaySeconds = 5
	}
	if cfg.ServerConfig.Port <= 0 {
		cfg.ServerConfig.Port = 8080
	}
	if cfg.ServerConfig.Host == "" {
		cfg.ServerConfig.Host = "0.0.0.0"
	}
	if cfg.ServerConfig.ShutdownTimeout <= 0 {
		cfg.ServerConfig.ShutdownTimeout = 15
	}
	if cfg.AuthConfig.TokenDurationHours <= 0 {
		cfg.AuthConfig.TokenDurationHours = 12
	}
	if cfg.DatabaseConfig.SSLMode == "" {
		cfg.DatabaseConfig.SSLMode = "disable"
	}
	if cfg.RedisConfig.TTLHours <= 0 {
		cfg.RedisConfig.TTLHours = 24
	}
	if cfg.VaultConfig.MountPath == "" {
		cfg.VaultConfig.MountPath = "secret"
	}
	if cfg.VaultConfig.SecretPath == "" {
		cfg.VaultConfig.SecretPath = "datafeed-sentinel"
	}
	if cfg.LoggingConfig.Level == "" {
		cfg.LoggingConfig.Level = "info"
	}
}

// AllowedOriginList splits the comma-separated origins setting
func (s ServerConfig) AllowedOriginList() []string {
	if s.AllowedOrigins == "" {
		return nil
	}
	parts := strings.Split(s.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// FreshnessWindow parses the endpoint's freshness_max_age setting
func (e EndpointConfig) FreshnessWindow() time.Duration {
	if e.FreshnessMaxAge == "" {
		return 0
	}
	d, err := time.ParseDuration(e.FreshnessMaxAge)
	if err != nil {
		return 0
	}
	return d
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
