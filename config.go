package clickhouse

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
)

const (
	DefaultHost           = "localhost"
	DefaultHTTPPort       = 8123
	DefaultHTTPSPort      = 8443
	DefaultUser           = "default"
	DefaultTimeout        = 30 * time.Second
	DefaultConnectTimeout = 5 * time.Second
	DefaultConcurrency    = 5
)

// Config describes how to reach a ClickHouse server.
type Config struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	// Database is sent as the database parameter; empty uses the server default.
	Database string `koanf:"database"`

	HTTPS              bool `koanf:"https"`
	InsecureSkipVerify bool `koanf:"insecure_skip_verify"`

	// Settings are server settings sent with every request.
	Settings map[string]any `koanf:"settings"`

	// MaxConcurrency bounds the requests in flight for async and batch operations.
	MaxConcurrency int `koanf:"max_concurrency"`

	// Compression gzips bulk upload bodies and asks the server to compress responses.
	Compression bool `koanf:"compression"`

	// Timeout bounds each request. ConnectTimeout bounds dialing.
	Timeout        time.Duration `koanf:"timeout"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`

	// RetryAttempts retries requests that failed at the transport level.
	// Zero disables retries, so inserts are never replayed implicitly.
	RetryAttempts int `koanf:"retry_attempts"`
}

// DefaultConfig returns a Config for a local server.
func DefaultConfig() Config {
	return Config{
		Host:           DefaultHost,
		Port:           DefaultHTTPPort,
		Username:       DefaultUser,
		MaxConcurrency: DefaultConcurrency,
		Timeout:        DefaultTimeout,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

// BaseURL returns the server endpoint, e.g. "http://localhost:8123/".
func (c Config) BaseURL() string {
	scheme := "http"
	if c.HTTPS {
		scheme = "https"
	}
	port := c.Port
	if port == 0 {
		port = DefaultHTTPPort
		if c.HTTPS {
			port = DefaultHTTPSPort
		}
	}
	return fmt.Sprintf("%s://%s:%d/", scheme, c.Host, port)
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.Port == 0 {
		c.Port = DefaultHTTPPort
		if c.HTTPS {
			c.Port = DefaultHTTPSPort
		}
	}
	if c.Username == "" {
		c.Username = def.Username
	}
	if c.MaxConcurrency < 1 {
		c.MaxConcurrency = def.MaxConcurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	return c
}

// ParseDSN parses a ClickHouse DSN.
//
// Format: clickhouse://[user[:password]@]host[:port][/database][?key=value&...]
//
//	clickhouses://... uses HTTPS
//
// Query params: compression, max_concurrency, timeout, connect_timeout,
// retry_attempts, insecure_skip_verify. Unrecognized params become server settings.
// Durations accept d and w units besides those of time.ParseDuration.
func ParseDSN(dsn string) (Config, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DSN: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Settings = map[string]any{}

	switch u.Scheme {
	case "clickhouse", "http":
	case "clickhouses", "https":
		cfg.HTTPS = true
		cfg.Port = DefaultHTTPSPort
	default:
		return Config{}, fmt.Errorf("unsupported scheme %q: must be clickhouse or clickhouses", u.Scheme)
	}

	// User info
	if u.User != nil {
		cfg.Username = u.User.Username()
		if p, ok := u.User.Password(); ok {
			cfg.Password = p
		}
	}

	// Host and port
	cfg.Host = u.Hostname()
	if cfg.Host == "" {
		return Config{}, fmt.Errorf("missing host in DSN")
	}
	if p := u.Port(); p != "" {
		if cfg.Port, err = strconv.Atoi(p); err != nil {
			return Config{}, fmt.Errorf("invalid port %q: %w", p, err)
		}
	}

	// Path: /database
	cfg.Database = strings.Trim(u.Path, "/")

	// Query params
	for key, values := range u.Query() {
		val := values[0]
		switch key {
		case "compression":
			cfg.Compression, err = strconv.ParseBool(val)
		case "insecure_skip_verify":
			cfg.InsecureSkipVerify, err = strconv.ParseBool(val)
		case "max_concurrency":
			cfg.MaxConcurrency, err = strconv.Atoi(val)
		case "retry_attempts":
			cfg.RetryAttempts, err = strconv.Atoi(val)
		case "timeout":
			cfg.Timeout, err = str2duration.ParseDuration(val)
		case "connect_timeout":
			cfg.ConnectTimeout, err = str2duration.ParseDuration(val)
		default:
			cfg.Settings[key] = val
		}
		if err != nil {
			return Config{}, fmt.Errorf("invalid DSN parameter %s=%q: %w", key, val, err)
		}
	}

	return cfg, nil
}
