package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Port               string        `json:"port"`
	LogLevel           string        `json:"logLevel"`
	DataDir            string        `json:"dataDir"`
	SnapshotInterval   time.Duration `json:"snapshotInterval"`
	RateLimitPerMinute int           `json:"rateLimitPerMinute"`
	TrustProxyHeaders  bool          `json:"trustProxyHeaders"`
	MaxBodySizeBytes   int64         `json:"maxBodySizeBytes"`
	ShutdownTimeout    time.Duration `json:"shutdownTimeout"`
	HTTPClientTimeout  time.Duration `json:"httpClientTimeout"`

	AdminAddress      string `json:"adminAddress"`
	CommitmentScheme  string `json:"commitmentScheme"`
	CallerAuthSecret  string `json:"callerAuthSecret"`
	RequireCallerAuth bool   `json:"requireCallerAuth"`

	DatabaseURL     string   `json:"databaseUrl"`
	EventBufferSize int      `json:"eventBufferSize"`
	WebhookURLs     []string `json:"webhookUrls"`
	WebhookSecret   string   `json:"webhookSecret"`
	IPFSGatewayURL  string   `json:"ipfsGatewayUrl"`

	TracingExporter string `json:"tracingExporter"`
	OTLPEndpoint    string `json:"otlpEndpoint"`
}

// Default values
const (
	DefaultPort               = "8080"
	DefaultLogLevel           = "info"
	DefaultRateLimitPerMinute = 100
	DefaultMaxBodySizeBytes   = 1 << 20 // 1MB
	DefaultDataDir            = "./data"
	DefaultSnapshotInterval   = 30 * time.Second
	DefaultShutdownTimeout    = 30 * time.Second
	DefaultHTTPClientTimeout  = 5 * time.Second
	DefaultCommitmentScheme   = "keccak256"
	DefaultEventBufferSize    = 1024
	DefaultTracingExporter    = TracingExporterNone
)

func defaultConfig() *Config {
	return &Config{
		Port:               DefaultPort,
		LogLevel:           DefaultLogLevel,
		DataDir:            DefaultDataDir,
		SnapshotInterval:   DefaultSnapshotInterval,
		RateLimitPerMinute: DefaultRateLimitPerMinute,
		MaxBodySizeBytes:   DefaultMaxBodySizeBytes,
		ShutdownTimeout:    DefaultShutdownTimeout,
		HTTPClientTimeout:  DefaultHTTPClientTimeout,
		CommitmentScheme:   DefaultCommitmentScheme,
		RequireCallerAuth:  true,
		EventBufferSize:    DefaultEventBufferSize,
		TracingExporter:    DefaultTracingExporter,
	}
}

// fileConfig mirrors Config as it appears in a config file. Durations are
// strings so both formats share one parser; pointers tell "unset" from zero.
type fileConfig struct {
	Port               *string  `json:"port" yaml:"port"`
	LogLevel           *string  `json:"logLevel" yaml:"log_level"`
	DataDir            *string  `json:"dataDir" yaml:"data_dir"`
	SnapshotInterval   *string  `json:"snapshotInterval" yaml:"snapshot_interval"`
	RateLimitPerMinute *int     `json:"rateLimitPerMinute" yaml:"rate_limit_per_minute"`
	TrustProxyHeaders  *bool    `json:"trustProxyHeaders" yaml:"trust_proxy_headers"`
	MaxBodySizeBytes   *int64   `json:"maxBodySizeBytes" yaml:"max_body_size_bytes"`
	ShutdownTimeout    *string  `json:"shutdownTimeout" yaml:"shutdown_timeout"`
	HTTPClientTimeout  *string  `json:"httpClientTimeout" yaml:"http_client_timeout"`
	AdminAddress       *string  `json:"adminAddress" yaml:"admin_address"`
	CommitmentScheme   *string  `json:"commitmentScheme" yaml:"commitment_scheme"`
	CallerAuthSecret   *string  `json:"callerAuthSecret" yaml:"caller_auth_secret"`
	RequireCallerAuth  *bool    `json:"requireCallerAuth" yaml:"require_caller_auth"`
	DatabaseURL        *string  `json:"databaseUrl" yaml:"database_url"`
	EventBufferSize    *int     `json:"eventBufferSize" yaml:"event_buffer_size"`
	WebhookURLs        []string `json:"webhookUrls" yaml:"webhook_urls"`
	WebhookSecret      *string  `json:"webhookSecret" yaml:"webhook_secret"`
	IPFSGatewayURL     *string  `json:"ipfsGatewayUrl" yaml:"ipfs_gateway_url"`
	TracingExporter    *string  `json:"tracingExporter" yaml:"tracing_exporter"`
	OTLPEndpoint       *string  `json:"otlpEndpoint" yaml:"otlp_endpoint"`
}

// LoadConfigFromFile reads a YAML or JSON config file (chosen by extension)
// on top of the defaults.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	cfg := defaultConfig()
	if err := fc.apply(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (fc *fileConfig) apply(cfg *Config) error {
	setString(&cfg.Port, fc.Port)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.DataDir, fc.DataDir)
	setString(&cfg.AdminAddress, fc.AdminAddress)
	setString(&cfg.CommitmentScheme, fc.CommitmentScheme)
	setString(&cfg.CallerAuthSecret, fc.CallerAuthSecret)
	setString(&cfg.DatabaseURL, fc.DatabaseURL)
	setString(&cfg.WebhookSecret, fc.WebhookSecret)
	setString(&cfg.IPFSGatewayURL, fc.IPFSGatewayURL)
	setString(&cfg.TracingExporter, fc.TracingExporter)
	setString(&cfg.OTLPEndpoint, fc.OTLPEndpoint)

	if fc.RateLimitPerMinute != nil && *fc.RateLimitPerMinute > 0 {
		cfg.RateLimitPerMinute = *fc.RateLimitPerMinute
	}
	if fc.MaxBodySizeBytes != nil && *fc.MaxBodySizeBytes > 0 {
		cfg.MaxBodySizeBytes = *fc.MaxBodySizeBytes
	}
	if fc.EventBufferSize != nil && *fc.EventBufferSize > 0 {
		cfg.EventBufferSize = *fc.EventBufferSize
	}
	if fc.RequireCallerAuth != nil {
		cfg.RequireCallerAuth = *fc.RequireCallerAuth
	}
	if fc.TrustProxyHeaders != nil {
		cfg.TrustProxyHeaders = *fc.TrustProxyHeaders
	}
	if len(fc.WebhookURLs) > 0 {
		cfg.WebhookURLs = fc.WebhookURLs
	}

	durations := []struct {
		name string
		src  *string
		dst  *time.Duration
	}{
		{"snapshot_interval", fc.SnapshotInterval, &cfg.SnapshotInterval},
		{"shutdown_timeout", fc.ShutdownTimeout, &cfg.ShutdownTimeout},
		{"http_client_timeout", fc.HTTPClientTimeout, &cfg.HTTPClientTimeout},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, *d.src, err)
		}
		*d.dst = parsed
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil && *src != "" {
		*dst = *src
	}
}

// LoadConfig builds the configuration from defaults, the optional file named
// by CONFIG_FILE, and environment variables, in increasing precedence.
func LoadConfig() *Config {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		fileCfg, err := LoadConfigFromFile(path)
		if err != nil {
			if logger != nil {
				logger.Warn("Ignoring config file", "path", path, "error", err)
			}
		} else {
			cfg = fileCfg
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}

	envDuration("SNAPSHOT_INTERVAL", &cfg.SnapshotInterval)
	envDuration("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)
	envDuration("HTTP_CLIENT_TIMEOUT", &cfg.HTTPClientTimeout)

	if rateLimitEnv := os.Getenv("RATE_LIMIT_PER_MINUTE"); rateLimitEnv != "" {
		if rateLimit, err := strconv.Atoi(rateLimitEnv); err == nil && rateLimit > 0 {
			cfg.RateLimitPerMinute = rateLimit
		}
	}

	envBool("TRUST_PROXY_HEADERS", &cfg.TrustProxyHeaders)

	if maxBodyEnv := os.Getenv("MAX_BODY_SIZE_BYTES"); maxBodyEnv != "" {
		if maxBody, err := strconv.ParseInt(maxBodyEnv, 10, 64); err == nil && maxBody > 0 {
			cfg.MaxBodySizeBytes = maxBody
		}
	}

	if admin := os.Getenv("ADMIN_ADDRESS"); admin != "" {
		cfg.AdminAddress = admin
	}

	if scheme := os.Getenv("COMMITMENT_SCHEME"); scheme != "" {
		cfg.CommitmentScheme = scheme
	}

	if secret := os.Getenv("CALLER_AUTH_SECRET"); secret != "" {
		cfg.CallerAuthSecret = secret
	}

	envBool("REQUIRE_CALLER_AUTH", &cfg.RequireCallerAuth)

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.DatabaseURL = dsn
	}

	if bufferEnv := os.Getenv("EVENT_BUFFER_SIZE"); bufferEnv != "" {
		if buffer, err := strconv.Atoi(bufferEnv); err == nil && buffer > 0 {
			cfg.EventBufferSize = buffer
		}
	}

	if hooksEnv := os.Getenv("WEBHOOK_URLS"); hooksEnv != "" {
		var hooks []string
		if err := json.Unmarshal([]byte(hooksEnv), &hooks); err == nil && len(hooks) > 0 {
			cfg.WebhookURLs = hooks
		}
	}

	if secret := os.Getenv("WEBHOOK_SECRET"); secret != "" {
		cfg.WebhookSecret = secret
	}

	if gateway := os.Getenv("IPFS_GATEWAY_URL"); gateway != "" {
		cfg.IPFSGatewayURL = gateway
	}

	if exporter := os.Getenv("TRACING_EXPORTER"); exporter != "" {
		cfg.TracingExporter = exporter
	}

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.OTLPEndpoint = endpoint
	}

	return cfg
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
