package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/ethanyzhang/clickhouse-http-go"
	"github.com/ethanyzhang/clickhouse-http-go/chauth/kerberos"
	"github.com/ethanyzhang/clickhouse-http-go/chauth/oauth2"
)

const (
	// EnvPrefix marks environment variables read as configuration, e.g. CHQ_HOST.
	EnvPrefix = "CHQ_"

	defaultConfigFile = "chq.yaml"
	defaultOutput     = "table"
)

// Config is the configuration of the chq command.
type Config struct {
	// DSN, when set, replaces every field of Server.
	DSN     string `koanf:"dsn"`
	Verbose bool   `koanf:"verbose"`
	Output  string `koanf:"output"`

	Server clickhouse.Config `koanf:"server"`
	Auth   AuthConfig        `koanf:"auth"`

	// dsnBearer is the bearer option built from the DSN's parameters.
	dsnBearer clickhouse.RequestOption
}

// AuthConfig selects an authentication method other than basic auth. At most
// one of them may be configured.
type AuthConfig struct {
	// Token is a pre-obtained bearer token, e.g. a JWT.
	Token    string          `koanf:"token"`
	OAuth2   oauth2.Config   `koanf:"oauth2"`
	Kerberos kerberos.Config `koanf:"kerberos"`
}

func (a AuthConfig) validate() error {
	n := 0
	if a.Token != "" {
		n++
	}
	if a.OAuth2.Enabled() {
		n++
	}
	if a.Kerberos.Enabled() {
		n++
	}
	if n > 1 {
		return fmt.Errorf("auth: token, oauth2 and kerberos are mutually exclusive")
	}
	return nil
}

// serverKeys are the top-level env and flag names that configure the server.
var serverKeys = map[string]bool{
	"host":                 true,
	"port":                 true,
	"username":             true,
	"password":             true,
	"database":             true,
	"https":                true,
	"insecure_skip_verify": true,
	"max_concurrency":      true,
	"compression":          true,
	"timeout":              true,
	"connect_timeout":      true,
	"retry_attempts":       true,
}

// configKey maps a flag or env name to its config key.
func configKey(name string) string {
	key := strings.ReplaceAll(strings.ToLower(name), "-", "_")
	switch key {
	case "user":
		key = "username"
	case "config":
		return ""
	}
	if serverKeys[key] {
		return "server." + key
	}
	if key == "token" {
		return "auth.token"
	}
	return key
}

// findConfigFile returns the explicit path, or ./chq.yaml when it exists.
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	return ""
}

// LoadConfig loads configuration from defaults, a YAML file, environment
// variables and flags. Precedence (highest to lowest): flags > env vars >
// config file > defaults.
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	def := clickhouse.DefaultConfig()
	if err := k.Load(confmap.Provider(map[string]any{
		"output":                 defaultOutput,
		"verbose":                false,
		"server.host":            def.Host,
		"server.port":            def.Port,
		"server.username":        def.Username,
		"server.max_concurrency": def.MaxConcurrency,
		"server.timeout":         def.Timeout.String(),
		"server.connect_timeout": def.ConnectTimeout.String(),
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(cfgFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	// CHQ_MAX_CONCURRENCY -> server.max_concurrency
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return configKey(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			// Only flags set on the command line override lower layers.
			if !f.Changed {
				return "", nil
			}
			return configKey(f.Name), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if cfg.DSN != "" {
		if err := cfg.applyDSN(); err != nil {
			return nil, err
		}
	}
	if err := cfg.Auth.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDSN replaces Server with the DSN's settings. Bearer and kerberos DSN
// parameters fill Auth instead of becoming server settings.
func (c *Config) applyDSN() error {
	bearer, dsn, err := oauth2.FromDSN(c.DSN)
	if err != nil {
		return err
	}
	krb, dsn, err := kerberos.FromDSN(dsn)
	if err != nil {
		return err
	}
	server, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return err
	}
	c.Server = server
	c.dsnBearer = bearer
	if krb.Enabled() {
		c.Auth.Kerberos = krb
	}
	return nil
}
