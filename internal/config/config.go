// Package config handles loading and validating warden configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for warden.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`   // Default: ~/.warden. Override: WARDEN_DATA_DIR env var.
	LogLevel      string               `json:"log_level,omitempty" yaml:"log_level,omitempty"` // debug, info (default), warn, error. Override: WARDEN_LOG_LEVEL.
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`     // nil = SQLite under data_dir
	Security      SecurityConfig       `json:"security" yaml:"security"`
	Classifier    ClassifierConfig     `json:"classifier" yaml:"classifier"`
	Capabilities  CapabilitiesConfig   `json:"capabilities" yaml:"capabilities"`
	Gateways      GatewaysConfig       `json:"gateways" yaml:"gateways"`
	MCP           []MCPServerConfig    `json:"mcp,omitempty" yaml:"mcp,omitempty"`
	Alerts        *AlertsConfig        `json:"alerts,omitempty" yaml:"alerts,omitempty"` // nil = no alert channels
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the driver with a default of "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s == nil || s.Driver == "" {
		return "sqlite"
	}
	return s.Driver
}

// SQLiteStorageConfig holds SQLite settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`                 // Default: <data_dir>/warden.db.
	JournalMode string `json:"journal_mode,omitempty" yaml:"journal_mode,omitempty"` // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: WARDEN_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 10
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 2
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// Credential backends.
const (
	CredentialBackendStorage = "storage"
	CredentialBackendFile    = "file"
)

// SecurityConfig controls the PIN gate.
type SecurityConfig struct {
	MaxAttempts          int    `json:"max_attempts" yaml:"max_attempts"`                               // Default: 3.
	PendingTTLSeconds    *int   `json:"pending_ttl_seconds,omitempty" yaml:"pending_ttl_seconds,omitempty"` // nil = 300. 0 disables expiry.
	MinPINLength         int    `json:"min_pin_length" yaml:"min_pin_length"`                           // Default: 4.
	PINRef               string `json:"pin_ref,omitempty" yaml:"pin_ref,omitempty"`                     // e.g. env://WARDEN_PIN. Override: WARDEN_PIN_REF.
	ConfirmRatePerMinute int    `json:"confirm_rate_per_minute" yaml:"confirm_rate_per_minute"`         // 0 = unthrottled.
	CredentialBackend    string `json:"credential_backend,omitempty" yaml:"credential_backend,omitempty"` // "storage" (default) or "file".
	SweepSchedule        string `json:"sweep_schedule,omitempty" yaml:"sweep_schedule,omitempty"`       // cron spec. Default: "@every 30s".
	AuditLogPath         string `json:"audit_log_path,omitempty" yaml:"audit_log_path,omitempty"`       // Default: <data_dir>/audit.jsonl.
}

// Attempts returns max_attempts with a default of 3.
func (s SecurityConfig) Attempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return 3
}

// PendingTTL returns the pending-action TTL. Zero means no expiry.
func (s SecurityConfig) PendingTTL() time.Duration {
	if s.PendingTTLSeconds == nil {
		return 5 * time.Minute
	}
	if *s.PendingTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(*s.PendingTTLSeconds) * time.Second
}

// MinLength returns min_pin_length with a default of 4.
func (s SecurityConfig) MinLength() int {
	if s.MinPINLength > 0 {
		return s.MinPINLength
	}
	return 4
}

// Backend returns the credential backend with a default of "storage".
func (s SecurityConfig) Backend() string {
	if s.CredentialBackend == "" {
		return CredentialBackendStorage
	}
	return s.CredentialBackend
}

// Sweep returns the sweeper schedule with a default of "@every 30s".
func (s SecurityConfig) Sweep() string {
	if s.SweepSchedule == "" {
		return "@every 30s"
	}
	return s.SweepSchedule
}

// ClassifierConfig extends the built-in danger rules.
type ClassifierConfig struct {
	Rules    []RuleConfig    `json:"rules,omitempty" yaml:"rules,omitempty"`         // Extra regex rules, evaluated after the built-in table.
	CELRules []CELRuleConfig `json:"cel_rules,omitempty" yaml:"cel_rules,omitempty"` // Evaluated last.
}

// RuleConfig is one extra phrase rule.
type RuleConfig struct {
	Pattern  string `json:"pattern" yaml:"pattern"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"` // Default: "custom".
}

// CELRuleConfig is one CEL rule over kind, text and params.
type CELRuleConfig struct {
	Name       string `json:"name" yaml:"name"`
	Expression string `json:"expression" yaml:"expression"`
}

// CapabilitiesConfig configures the built-in handlers.
type CapabilitiesConfig struct {
	File      FileCapabilityConfig      `json:"file" yaml:"file"`
	Shell     ShellCapabilityConfig     `json:"shell" yaml:"shell"`
	Templates map[string]TemplateConfig `json:"templates,omitempty" yaml:"templates,omitempty"` // Overrides the host defaults by key. Empty argv removes a default.
	// SearchMaxResults caps search_files. Default: 20.
	SearchMaxResults int `json:"search_max_results,omitempty" yaml:"search_max_results,omitempty"`
}

// FileCapabilityConfig restricts file access to specific paths.
type FileCapabilityConfig struct {
	AllowedPaths     []string `json:"allowed_paths" yaml:"allowed_paths"`
	MaxFileSizeBytes int64    `json:"max_file_size_bytes" yaml:"max_file_size_bytes"`
	SearchRoot       string   `json:"search_root,omitempty" yaml:"search_root,omitempty"` // Default: home directory.
}

// ShellCapabilityConfig configures run_cmd, run_command and run_script.
type ShellCapabilityConfig struct {
	TimeoutSeconds int      `json:"timeout_seconds" yaml:"timeout_seconds"` // Default: 30.
	Blocklist      []string `json:"blocklist,omitempty" yaml:"blocklist,omitempty"`
	WorkDir        string   `json:"work_dir,omitempty" yaml:"work_dir,omitempty"`
	MaxCPUSeconds  int      `json:"max_cpu_seconds,omitempty" yaml:"max_cpu_seconds,omitempty"`
	MaxMemoryMB    int      `json:"max_memory_mb,omitempty" yaml:"max_memory_mb,omitempty"`
	PassEnv        []string `json:"pass_env,omitempty" yaml:"pass_env,omitempty"` // Host variables forwarded to commands.
}

// Timeout returns the shell timeout with a default of 30s.
func (s ShellCapabilityConfig) Timeout() time.Duration {
	if s.TimeoutSeconds > 0 {
		return time.Duration(s.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// TemplateConfig maps one kind (or system_control.<target>) to an argv template.
type TemplateConfig struct {
	Argv    []string `json:"argv" yaml:"argv"`
	Message string   `json:"message,omitempty" yaml:"message,omitempty"`
	Detach  bool     `json:"detach,omitempty" yaml:"detach,omitempty"`
}

// GatewaysConfig defines which gateways are enabled and their settings.
// Nil pointers mean the gateway is not configured.
type GatewaysConfig struct {
	CLI       *CLIGatewayConfig       `json:"cli,omitempty" yaml:"cli,omitempty"`
	HTTP      *HTTPGatewayConfig      `json:"http,omitempty" yaml:"http,omitempty"`
	WebSocket *WebSocketGatewayConfig `json:"websocket,omitempty" yaml:"websocket,omitempty"`
}

// CLIGatewayConfig configures the interactive CLI gateway.
type CLIGatewayConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	NoColor bool `json:"no_color,omitempty" yaml:"no_color,omitempty"`
}

// HTTPGatewayConfig configures the HTTP API gateway.
type HTTPGatewayConfig struct {
	Enabled             bool              `json:"enabled" yaml:"enabled"`
	EnableDocs          bool              `json:"enable_docs" yaml:"enable_docs"`
	ListenAddr          string            `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	MaxRequestSizeBytes int64             `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`
	APIKeys             map[string]string `json:"api_keys,omitempty" yaml:"api_keys,omitempty"`     // API key → client name.
	JWTSecret           string            `json:"jwt_secret,omitempty" yaml:"jwt_secret,omitempty"` // HS256. Override: WARDEN_HTTP_JWT_SECRET.
	JWTIssuer           string            `json:"jwt_issuer,omitempty" yaml:"jwt_issuer,omitempty"`
	RateLimit           RateLimitConfig   `json:"rate_limit" yaml:"rate_limit"`
}

// Addr returns the listen address with a default of ":8080".
func (h *HTTPGatewayConfig) Addr() string {
	if h != nil && h.ListenAddr != "" {
		return h.ListenAddr
	}
	return ":8080"
}

// AuthEnabled reports whether any credential is configured.
func (h *HTTPGatewayConfig) AuthEnabled() bool {
	return h != nil && (len(h.APIKeys) > 0 || h.JWTSecret != "")
}

// WebSocketGatewayConfig configures the interactive WebSocket channel.
type WebSocketGatewayConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	ListenAddr string `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"` // Standalone listen address (when HTTP gateway is disabled). Default: ":8081".
	Path       string `json:"path" yaml:"path"`                                   // Default: "/ws".
	Token      string `json:"token,omitempty" yaml:"token,omitempty"`             // Shared token. Empty = HTTP gateway credentials.
}

// WSPath returns the WebSocket path with a default of "/ws".
func (w *WebSocketGatewayConfig) WSPath() string {
	if w != nil && w.Path != "" {
		return w.Path
	}
	return "/ws"
}

// Addr returns the standalone listen address with a default of ":8081".
func (w *WebSocketGatewayConfig) Addr() string {
	if w != nil && w.ListenAddr != "" {
		return w.ListenAddr
	}
	return ":8081"
}

// RateLimitConfig configures per-client rate limiting for a gateway.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited.
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// MCPServerConfig describes one MCP server whose tools become handlers.
type MCPServerConfig struct {
	Name      string            `json:"name" yaml:"name"`
	Transport string            `json:"transport" yaml:"transport"` // "stdio", "sse" or "streamable_http".
	Command   string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL       string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Dangerous bool              `json:"dangerous,omitempty" yaml:"dangerous,omitempty"` // Every tool requires the PIN.
	Tools     []string          `json:"tools,omitempty" yaml:"tools,omitempty"`         // Allowlist. Empty = all.
}

// Exposes reports whether the named tool passes the allowlist.
func (m MCPServerConfig) Exposes(tool string) bool {
	if len(m.Tools) == 0 {
		return true
	}
	for _, t := range m.Tools {
		if t == tool {
			return true
		}
	}
	return false
}

// Alert channel types.
const (
	AlertChannelWebhook  = "webhook"
	AlertChannelSlack    = "slack"
	AlertChannelTelegram = "telegram"
)

// AlertsConfig forwards selected audit events to external channels.
type AlertsConfig struct {
	Events   []string             `json:"events,omitempty" yaml:"events,omitempty"` // Audit event kinds. Default: lockout, pin_failed.
	Channels []AlertChannelConfig `json:"channels" yaml:"channels"`
}

// EventKinds returns the configured event kinds or the default set.
func (a *AlertsConfig) EventKinds() []string {
	if a == nil || len(a.Events) == 0 {
		return []string{"lockout", "pin_failed"}
	}
	return a.Events
}

// AlertChannelConfig is one alert destination.
type AlertChannelConfig struct {
	Name         string `json:"name" yaml:"name"`
	Type         string `json:"type" yaml:"type"`                                       // webhook, slack or telegram.
	URL          string `json:"url,omitempty" yaml:"url,omitempty"`                     // webhook
	TokenRef     string `json:"token_ref,omitempty" yaml:"token_ref,omitempty"`         // Bot token reference for slack/telegram, e.g. env://WARDEN_TELEGRAM_TOKEN.
	ChannelID    string `json:"channel_id,omitempty" yaml:"channel_id,omitempty"`       // slack
	ChatID       string `json:"chat_id,omitempty" yaml:"chat_id,omitempty"`             // telegram
	AllowPrivate bool   `json:"allow_private,omitempty" yaml:"allow_private,omitempty"` // Permit webhooks to loopback or LAN hosts.
}

// ObservabilityConfig configures metrics, tracing, and anomaly detection.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig enables Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// MetricsPath returns the scrape path with a default of "/metrics".
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures the OTLP exporter.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "warden"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// AnomalyConfig configures the PIN failure burst detector.
type AnomalyConfig struct {
	Enabled       bool `json:"enabled" yaml:"enabled"`
	MaxFailures   int  `json:"max_failures" yaml:"max_failures"`     // Failures within the window that trigger a warning. Default: 5.
	WindowSeconds int  `json:"window_seconds" yaml:"window_seconds"` // Sliding window. Default: 300
}

// Default returns the configuration used when no config file exists:
// SQLite storage, CLI gateway enabled, everything else off.
func Default() *Config {
	cfg := &Config{
		Gateways: GatewaysConfig{CLI: &CLIGatewayConfig{Enabled: true}},
	}
	applyEnv(cfg)
	cfg.DataDir = cfg.ResolvedDataDir()
	return cfg
}

// DefaultConfigPath returns the default config file path (~/.warden/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "warden.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".warden", "config.yaml")
}

// LoadOrDefault loads path, falling back to Default when path is the
// default location and does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) && path == DefaultConfigPath() {
		return Default(), nil
	}
	return cfg, err
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	applyEnv(&cfg)
	cfg.DataDir = cfg.ResolvedDataDir()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("WARDEN_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("WARDEN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("WARDEN_PIN_REF"); v != "" {
		cfg.Security.PINRef = v
	}
	if v := os.Getenv("WARDEN_DB_DSN"); v != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{Driver: "postgres"}
		}
		if cfg.Storage.Postgres == nil {
			cfg.Storage.Postgres = &PostgresStorageConfig{}
		}
		cfg.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("WARDEN_HTTP_JWT_SECRET"); v != "" {
		if cfg.Gateways.HTTP == nil {
			cfg.Gateways.HTTP = &HTTPGatewayConfig{}
		}
		cfg.Gateways.HTTP.JWTSecret = v
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ".warden"
		}
		return filepath.Join(home, ".warden")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the SQLite database path.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		if p, err := resolvePath(c.Storage.SQLite.Path); err == nil {
			return p
		}
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "warden.db")
}

// AuditLogPath returns the JSONL audit log path.
func (c *Config) AuditLogPath() string {
	if c.Security.AuditLogPath != "" {
		if p, err := resolvePath(c.Security.AuditLogPath); err == nil {
			return p
		}
		return c.Security.AuditLogPath
	}
	return filepath.Join(c.ResolvedDataDir(), "audit.jsonl")
}

// CredentialPath returns the file used by the file credential backend.
func (c *Config) CredentialPath() string {
	return filepath.Join(c.ResolvedDataDir(), "credential.json")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	return c.Storage.StorageDriver()
}

func (c *Config) validate() error {
	switch c.StorageDriverName() {
	case "sqlite":
	case "postgres":
		if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
	}

	if c.Security.MaxAttempts < 0 {
		return fmt.Errorf("security.max_attempts must not be negative")
	}
	if c.Security.MinPINLength < 0 {
		return fmt.Errorf("security.min_pin_length must not be negative")
	}
	if c.Security.ConfirmRatePerMinute < 0 {
		return fmt.Errorf("security.confirm_rate_per_minute must not be negative")
	}
	switch c.Security.Backend() {
	case CredentialBackendStorage, CredentialBackendFile:
	default:
		return fmt.Errorf("security.credential_backend %q is not supported (use storage or file)", c.Security.CredentialBackend)
	}

	for i, r := range c.Classifier.Rules {
		if r.Pattern == "" {
			return fmt.Errorf("classifier.rules[%d].pattern is required", i)
		}
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("classifier.rules[%d]: %w", i, err)
		}
	}
	for i, r := range c.Classifier.CELRules {
		if strings.TrimSpace(r.Expression) == "" {
			return fmt.Errorf("classifier.cel_rules[%d].expression is required", i)
		}
	}

	if c.Capabilities.Shell.TimeoutSeconds < 0 {
		return fmt.Errorf("capabilities.shell.timeout_seconds must not be negative")
	}

	if h := c.Gateways.HTTP; h != nil && h.Enabled {
		if h.RateLimit.RequestsPerMinute < 0 || h.RateLimit.BurstSize < 0 {
			return fmt.Errorf("gateways.http.rate_limit values must not be negative")
		}
	}

	if a := c.Alerts; a != nil {
		for i, ch := range a.Channels {
			switch ch.Type {
			case AlertChannelWebhook:
				if ch.URL == "" {
					return fmt.Errorf("alerts.channels[%d].url is required for webhook", i)
				}
			case AlertChannelSlack:
				if ch.TokenRef == "" || ch.ChannelID == "" {
					return fmt.Errorf("alerts.channels[%d] requires token_ref and channel_id for slack", i)
				}
			case AlertChannelTelegram:
				if ch.TokenRef == "" || ch.ChatID == "" {
					return fmt.Errorf("alerts.channels[%d] requires token_ref and chat_id for telegram", i)
				}
			default:
				return fmt.Errorf("alerts.channels[%d].type %q is not supported (use webhook, slack or telegram)", i, ch.Type)
			}
		}
	}

	seen := make(map[string]bool, len(c.MCP))
	for i, m := range c.MCP {
		if m.Name == "" {
			return fmt.Errorf("mcp[%d].name is required", i)
		}
		if strings.Contains(m.Name, "__") {
			return fmt.Errorf("mcp[%d].name %q must not contain \"__\"", i, m.Name)
		}
		if seen[m.Name] {
			return fmt.Errorf("mcp[%d].name %q is duplicated", i, m.Name)
		}
		seen[m.Name] = true
		switch m.Transport {
		case "stdio":
			if m.Command == "" {
				return fmt.Errorf("mcp.%s.command is required for stdio transport", m.Name)
			}
		case "sse", "streamable_http":
			if m.URL == "" {
				return fmt.Errorf("mcp.%s.url is required for %s transport", m.Name, m.Transport)
			}
		default:
			return fmt.Errorf("mcp.%s.transport %q is not supported", m.Name, m.Transport)
		}
	}

	if o := c.Observability; o != nil && o.Tracing != nil && o.Tracing.Enabled {
		if o.Tracing.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
		if o.Tracing.SampleRate < 0 || o.Tracing.SampleRate > 1 {
			return fmt.Errorf("observability.tracing.sample_rate must be between 0 and 1")
		}
	}
	return nil
}
