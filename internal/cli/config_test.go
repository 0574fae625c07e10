package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethanyzhang/clickhouse-http-go/chauth/kerberos"
)

func TestConfigKey(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"host", "server.host"},
		{"max-concurrency", "server.max_concurrency"},
		{"MAX_CONCURRENCY", "server.max_concurrency"},
		{"user", "server.username"},
		{"verbose", "verbose"},
		{"dsn", "dsn"},
		{"config", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, configKey(tt.name))
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "table", cfg.Output)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8123, cfg.Server.Port)
	assert.Equal(t, "default", cfg.Server.Username)
	assert.Equal(t, 5, cfg.Server.MaxConcurrency)
	assert.Equal(t, 30*time.Second, cfg.Server.Timeout)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chq.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_Layers(t *testing.T) {
	path := writeConfig(t, `
output: json
server:
  host: file-host
  port: 9000
  database: metrics
  timeout: 1m
  settings:
    max_execution_time: 10
`)

	t.Run("File", func(t *testing.T) {
		cfg, err := LoadConfig(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "json", cfg.Output)
		assert.Equal(t, "file-host", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "metrics", cfg.Server.Database)
		assert.Equal(t, time.Minute, cfg.Server.Timeout)
		assert.EqualValues(t, 10, cfg.Server.Settings["max_execution_time"])
		assert.Equal(t, "default", cfg.Server.Username, "defaults fill unset keys")
	})

	t.Run("Env overrides file", func(t *testing.T) {
		t.Setenv("CHQ_HOST", "env-host")
		t.Setenv("CHQ_MAX_CONCURRENCY", "8")
		cfg, err := LoadConfig(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "env-host", cfg.Server.Host)
		assert.Equal(t, 8, cfg.Server.MaxConcurrency)
		assert.Equal(t, 9000, cfg.Server.Port)
	})

	t.Run("Flags override env", func(t *testing.T) {
		t.Setenv("CHQ_HOST", "env-host")
		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flags.String("host", "", "")
		flags.Int("port", 0, "")
		flags.String("user", "", "")
		require.NoError(t, flags.Parse([]string{"--host", "flag-host", "--user", "reader"}))

		cfg, err := LoadConfig(path, flags)
		require.NoError(t, err)
		assert.Equal(t, "flag-host", cfg.Server.Host)
		assert.Equal(t, "reader", cfg.Server.Username)
		assert.Equal(t, 9000, cfg.Server.Port, "unset flags do not override")
	})

	t.Run("DSN replaces server fields", func(t *testing.T) {
		t.Setenv("CHQ_DSN", "clickhouses://u:p@dsn-host/logs")
		cfg, err := LoadConfig(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "dsn-host", cfg.Server.Host)
		assert.True(t, cfg.Server.HTTPS)
		assert.Equal(t, 8443, cfg.Server.Port)
		assert.Equal(t, "logs", cfg.Server.Database)
	})
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.ErrorContains(t, err, "error reading config file")

	t.Setenv("CHQ_DSN", "mysql://x")
	_, err = LoadConfig("", nil)
	assert.ErrorContains(t, err, "unsupported scheme")
}

func TestParseStructure(t *testing.T) {
	s, err := parseStructure("site_id Int32, price Decimal(10, 2),  url  String")
	require.NoError(t, err)
	require.Len(t, s, 3)
	assert.Equal(t, "site_id Int32, price Decimal(10, 2), url String", s.String())

	_, err = parseStructure("site_id")
	assert.Error(t, err)
}

func TestLoadConfig_Auth(t *testing.T) {
	t.Run("Token from env", func(t *testing.T) {
		t.Setenv("CHQ_TOKEN", "jwt")
		cfg, err := LoadConfig("", nil)
		require.NoError(t, err)
		assert.Equal(t, "jwt", cfg.Auth.Token)
	})

	t.Run("OAuth2 from file", func(t *testing.T) {
		path := writeConfig(t, `
auth:
  oauth2:
    client_id: id
    client_secret: secret
    token_url: http://auth/token
    scopes: [read]
`)
		cfg, err := LoadConfig(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "id", cfg.Auth.OAuth2.ClientID)
		assert.Equal(t, []string{"read"}, cfg.Auth.OAuth2.Scopes)
	})

	t.Run("Methods are exclusive", func(t *testing.T) {
		path := writeConfig(t, `
auth:
  token: jwt
  kerberos:
    keytab: /etc/ch.keytab
`)
		_, err := LoadConfig(path, nil)
		assert.ErrorContains(t, err, "mutually exclusive")
	})

	t.Run("DSN auth params", func(t *testing.T) {
		t.Setenv("CHQ_DSN", "clickhouse://h/db?access_token=abc&kerberos_principal=svc&max_block_size=5")
		cfg, err := LoadConfig("", nil)
		require.NoError(t, err)
		assert.NotNil(t, cfg.dsnBearer)
		assert.Equal(t, map[string]any{"max_block_size": "5"}, cfg.Server.Settings)
		assert.False(t, cfg.Auth.Kerberos.Enabled())
	})
}

func TestAuthOptions(t *testing.T) {
	opts, closeAuth, err := authOptions(&Config{})
	require.NoError(t, err)
	assert.Empty(t, opts)
	closeAuth()

	opts, _, err = authOptions(&Config{Auth: AuthConfig{Token: "jwt"}})
	require.NoError(t, err)
	require.Len(t, opts, 1)

	_, _, err = authOptions(&Config{Auth: AuthConfig{Kerberos: kerberos.Config{KeytabPath: "/k"}}})
	assert.ErrorContains(t, err, "kerberos:")
}
