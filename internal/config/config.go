// Package config provides configuration loading for the BeatGate gateway.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bgruszka/beatgate/internal/generator"
	"github.com/bgruszka/beatgate/internal/route"
	"github.com/joho/godotenv"
)

// Rate limit store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// GatewayConfig holds the configuration for the gateway process.
type GatewayConfig struct {
	// GatewayPort is the port the gateway listens on for client requests.
	GatewayPort int

	// MetricsPort is the port for the Prometheus metrics endpoint.
	MetricsPort int

	// UserFileServiceURL is the base URL of the user/file backend.
	UserFileServiceURL string

	// NotificationServiceURL is the base URL of the notification service.
	NotificationServiceURL string

	// RequestTimeout bounds every backend call and every notification call.
	RequestTimeout time.Duration

	// BackendDialTimeout is the timeout for dialing a backend.
	BackendDialTimeout time.Duration

	// RateLimitRequests is the number of requests admitted per client per window.
	RateLimitRequests int

	// RateLimitWindow is the fixed window length.
	RateLimitWindow time.Duration

	// RateLimitEvictAfter is how long an idle client window is kept in memory.
	RateLimitEvictAfter time.Duration

	// RateLimitStore selects where windows live: memory or redis.
	RateLimitStore string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TrustForwardedFor derives the client identity from X-Forwarded-For / X-Real-IP.
	TrustForwardedFor bool

	// ForwardHeaders lists the inbound headers copied to backend requests.
	ForwardHeaders []string

	// MaxBodyBytes bounds the buffered request body.
	MaxBodyBytes int64

	// NotifyRPS and NotifyBurst bound the rate of notification calls.
	NotifyRPS   float64
	NotifyBurst int

	// RequestIDHeader is the header that carries the per-request ID.
	RequestIDHeader string

	// RequestIDGenerator is the ID generator used when the header is absent.
	RequestIDGenerator generator.Type

	// Routes is the route table. Defaults to the built-in BeatGate routes.
	Routes []route.Route

	// LogLevel defines the logging verbosity (debug, info, warn, error).
	LogLevel string

	// LogFormat is json or console.
	LogFormat string

	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ReadHeaderTimeout time.Duration
}

// Default values.
//
// RequestTimeout (10s) applies separately to the backend call and to the
// notification call; nothing is retried.
//
// ReadTimeout and WriteTimeout (30s) are larger than RequestTimeout so a slow
// backend yields a 504 from the gateway rather than a dropped connection, and
// so multipart uploads have room to arrive.
const (
	defaultRequestTimeout     = 10 * time.Second
	defaultBackendDialTimeout = 5 * time.Second
	defaultRateLimitRequests  = 15
	defaultRateLimitWindow    = 60 * time.Second
	defaultMaxBodyBytes       = 32 << 20
	defaultReadTimeout        = 30 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultIdleTimeout        = 60 * time.Second
	defaultReadHeaderTimeout  = 5 * time.Second
	defaultForwardHeaders     = "Authorization,Content-Type,Accept,X-Request-Id"
)

// Load reads configuration from the environment and returns a GatewayConfig.
// A .env file in the working directory, or the file named by ENV_FILE, is read
// first; variables already present in the environment take precedence.
func Load() (*GatewayConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	window := getEnvDuration("RATE_LIMIT_WINDOW", defaultRateLimitWindow)
	cfg := &GatewayConfig{
		GatewayPort:            getEnvInt("GATEWAY_PORT", 3000),
		MetricsPort:            getEnvInt("METRICS_PORT", 9091),
		UserFileServiceURL:     strings.TrimSuffix(getEnv("USER_FILE_SERVICE_URL", "http://localhost:5001"), "/"),
		NotificationServiceURL: strings.TrimSuffix(getEnv("NOTIFICATION_SERVICE_URL", "http://localhost:5002"), "/"),
		RequestTimeout:         getEnvDuration("REQUEST_TIMEOUT", defaultRequestTimeout),
		BackendDialTimeout:     getEnvDuration("BACKEND_DIAL_TIMEOUT", defaultBackendDialTimeout),
		RateLimitRequests:      getEnvInt("RATE_LIMIT_REQUESTS", defaultRateLimitRequests),
		RateLimitWindow:        window,
		RateLimitEvictAfter:    getEnvDuration("RATE_LIMIT_EVICT_AFTER", 3*window),
		RateLimitStore:         strings.ToLower(getEnv("RATE_LIMIT_STORE", StoreMemory)),
		RedisAddr:              getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:          getEnv("REDIS_PASSWORD", ""),
		RedisDB:                getEnvInt("REDIS_DB", 0),
		TrustForwardedFor:      getEnvBool("TRUST_FORWARDED_FOR", false),
		MaxBodyBytes:           getEnvInt64("MAX_BODY_BYTES", defaultMaxBodyBytes),
		NotifyRPS:              getEnvFloat("NOTIFY_RPS", 50),
		NotifyBurst:            getEnvInt("NOTIFY_BURST", 100),
		RequestIDHeader:        getEnv("REQUEST_ID_HEADER", "X-Request-Id"),
		RequestIDGenerator:     generator.Type(strings.ToLower(getEnv("REQUEST_ID_GENERATOR", string(generator.TypeUUID)))),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogFormat:              strings.ToLower(getEnv("LOG_FORMAT", "console")),
		ReadTimeout:            getEnvDuration("READ_TIMEOUT", defaultReadTimeout),
		WriteTimeout:           getEnvDuration("WRITE_TIMEOUT", defaultWriteTimeout),
		IdleTimeout:            getEnvDuration("IDLE_TIMEOUT", defaultIdleTimeout),
		ReadHeaderTimeout:      getEnvDuration("READ_HEADER_TIMEOUT", defaultReadHeaderTimeout),
	}

	headers, err := parseHeaders(getEnv("FORWARD_HEADERS", defaultForwardHeaders))
	if err != nil {
		return nil, fmt.Errorf("invalid FORWARD_HEADERS: %w", err)
	}
	cfg.ForwardHeaders = headers

	if routesStr := getEnv("ROUTES", ""); routesStr != "" {
		routes, err := parseRoutes(routesStr)
		if err != nil {
			return nil, fmt.Errorf("invalid ROUTES: %w", err)
		}
		cfg.Routes = routes
	} else {
		cfg.Routes = route.Defaults(cfg.UserFileServiceURL, cfg.NotificationServiceURL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadDotEnv() error {
	if path := os.Getenv("ENV_FILE"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load ENV_FILE %q: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// parseRoutes parses a JSON array of routes.
// Format: [{"name":"user","methods":["GET"],"pattern":"/user/*","target":"http://localhost:5001"}]
func parseRoutes(input string) ([]route.Route, error) {
	var routes []route.Route
	if err := json.Unmarshal([]byte(input), &routes); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w (expected format: [{\"name\":\"user\",\"methods\":[\"GET\"],\"pattern\":\"/user/*\",\"target\":\"http://localhost:5001\"}])", err)
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("at least one route must be specified")
	}
	return routes, nil
}

// Validate checks if the configuration values are valid.
func (c *GatewayConfig) Validate() error {
	if c.GatewayPort < 1 || c.GatewayPort > 65535 {
		return fmt.Errorf("invalid gateway port: %d (must be 1-65535, e.g., GATEWAY_PORT=3000)", c.GatewayPort)
	}

	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d (must be 1-65535, e.g., METRICS_PORT=9091)", c.MetricsPort)
	}

	if c.GatewayPort == c.MetricsPort {
		return fmt.Errorf("gateway port and metrics port cannot be the same: %d (use different ports, e.g., GATEWAY_PORT=3000 METRICS_PORT=9091)", c.GatewayPort)
	}

	if err := validateServiceURL("USER_FILE_SERVICE_URL", c.UserFileServiceURL); err != nil {
		return err
	}
	if err := validateServiceURL("NOTIFICATION_SERVICE_URL", c.NotificationServiceURL); err != nil {
		return err
	}

	if c.RateLimitRequests < 1 {
		return fmt.Errorf("invalid rate limit: %d (must be at least 1, e.g., RATE_LIMIT_REQUESTS=15)", c.RateLimitRequests)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("invalid rate limit window: %v (must be positive, e.g., 60s)", c.RateLimitWindow)
	}
	if c.RateLimitEvictAfter < c.RateLimitWindow {
		return fmt.Errorf("invalid rate limit eviction: %v (must be at least the window %v)", c.RateLimitEvictAfter, c.RateLimitWindow)
	}

	switch c.RateLimitStore {
	case StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis address cannot be empty when RATE_LIMIT_STORE=redis (e.g., REDIS_ADDR=localhost:6379)")
		}
	default:
		return fmt.Errorf("invalid rate limit store: %s (must be memory or redis)", c.RateLimitStore)
	}

	if len(c.ForwardHeaders) == 0 {
		return fmt.Errorf("at least one forward header must be specified (e.g., FORWARD_HEADERS=Authorization,Content-Type)")
	}

	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("invalid max body size: %d (must be positive, e.g., MAX_BODY_BYTES=33554432)", c.MaxBodyBytes)
	}

	if c.NotifyBurst < 1 {
		return fmt.Errorf("invalid notification burst: %d (must be at least 1, e.g., NOTIFY_BURST=100)", c.NotifyBurst)
	}

	if err := validateHeaderName(c.RequestIDHeader); err != nil {
		return fmt.Errorf("invalid REQUEST_ID_HEADER: %w", err)
	}
	if _, err := generator.New(c.RequestIDGenerator); err != nil {
		return err
	}

	if _, err := route.New(c.Routes); err != nil {
		return fmt.Errorf("invalid route table: %w", err)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.LogFormat)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("invalid request timeout: %v (must be positive, e.g., 10s)", c.RequestTimeout)
	}
	if c.BackendDialTimeout <= 0 {
		return fmt.Errorf("invalid backend dial timeout: %v (must be positive, e.g., 5s)", c.BackendDialTimeout)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("invalid read timeout: %v (must be positive, e.g., 30s)", c.ReadTimeout)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("invalid write timeout: %v (must be positive, e.g., 30s)", c.WriteTimeout)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("invalid idle timeout: %v (must be positive, e.g., 60s)", c.IdleTimeout)
	}
	if c.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("invalid read header timeout: %v (must be positive, e.g., 5s)", c.ReadHeaderTimeout)
	}

	return nil
}

// BackendAddrs returns the host:port of every distinct backend, for readiness checks.
func (c *GatewayConfig) BackendAddrs() []string {
	seen := make(map[string]bool)
	var addrs []string
	add := func(raw string) {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return
		}
		addr := u.Host
		if u.Port() == "" {
			port := "80"
			if u.Scheme == "https" {
				port = "443"
			}
			addr = u.Hostname() + ":" + port
		}
		if !seen[addr] {
			seen[addr] = true
			addrs = append(addrs, addr)
		}
	}

	add(c.UserFileServiceURL)
	add(c.NotificationServiceURL)
	for _, r := range c.Routes {
		add(r.Target)
	}
	return addrs
}

func validateServiceURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("invalid %s: %q (must be an absolute URL, e.g., %s=http://localhost:5001)", key, raw, key)
	}
	return nil
}

// headerNameRegex validates HTTP header names per RFC 7230.
// Header names must contain only alphanumeric characters and hyphens.
var headerNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]*$`)

// validateHeaderName checks if a header name is valid per RFC 7230.
func validateHeaderName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("header name cannot be empty")
	}
	if len(name) > 256 {
		return fmt.Errorf("header name %q exceeds maximum length of 256 characters", name)
	}
	if !headerNameRegex.MatchString(name) {
		return fmt.Errorf("header name %q is invalid: must contain only alphanumeric characters and hyphens, starting with alphanumeric (e.g., Authorization, X-Request-Id)", name)
	}
	return nil
}

// parseHeaders splits a comma-separated header string into a slice of trimmed header names.
func parseHeaders(input string) ([]string, error) {
	parts := strings.Split(input, ",")
	headers := make([]string, 0, len(parts))

	for _, part := range parts {
		header := strings.TrimSpace(part)
		if header != "" {
			if err := validateHeaderName(header); err != nil {
				return nil, err
			}
			headers = append(headers, header)
		}
	}

	return headers, nil
}

// getEnv returns the value of an environment variable or a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default value.
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvDuration returns the duration value of an environment variable or a default value.
// Duration strings are parsed using time.ParseDuration (e.g., "15s", "1m30s", "500ms").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvBool returns the boolean value of an environment variable or a default value.
// Accepts "true", "1", "yes" as true; "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	switch strings.ToLower(valueStr) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

// getEnvFloat returns the float64 value of an environment variable or a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}
