package kerberos

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	full := Config{KeytabPath: "/etc/clickhouse.keytab", Principal: "svc", Realm: "REALM", ConfigPath: "/etc/krb5.conf"}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"complete", func(*Config) {}, ""},
		{"realm from principal", func(c *Config) { c.Realm = ""; c.Principal = "svc@REALM" }, ""},
		{"missing keytab", func(c *Config) { c.KeytabPath = "" }, "kerberos: KeytabPath required"},
		{"missing realm", func(c *Config) { c.Realm = "" }, "kerberos: Realm required"},
		{"missing several", func(c *Config) { c.Principal = ""; c.ConfigPath = "" }, "kerberos: Principal, ConfigPath required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := full
			tt.modify(&cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestConfig_Enabled(t *testing.T) {
	var nilCfg *Config
	assert.False(t, nilCfg.Enabled())
	assert.False(t, (&Config{Principal: "svc"}).Enabled())
	assert.True(t, (&Config{KeytabPath: "/k"}).Enabled())
}

func TestSplitPrincipal(t *testing.T) {
	user, realm := splitPrincipal("svc@EXAMPLE.COM", "OTHER")
	assert.Equal(t, "svc", user)
	assert.Equal(t, "EXAMPLE.COM", realm)

	user, realm = splitPrincipal("svc", "OTHER")
	assert.Equal(t, "svc", user)
	assert.Equal(t, "OTHER", realm)
}

func TestSPN(t *testing.T) {
	assert.Equal(t, "HTTP/ch1.example.com", (&Config{}).spn("ch1.example.com"))
	assert.Equal(t, "HTTP/lb.example.com", (&Config{ServiceSPN: "HTTP/lb.example.com"}).spn("ch1.example.com"))
}

func TestFromDSN(t *testing.T) {
	t.Run("Strips kerberos params", func(t *testing.T) {
		dsn := "clickhouse://host:8123/db?kerberos_keytab=/etc/ch.keytab&kerberos_principal=user@REALM" +
			"&kerberos_config=/etc/krb5.conf&kerberos_service_spn=HTTP/ch.example.com&max_block_size=1000"
		cfg, stripped, err := FromDSN(dsn)
		require.NoError(t, err)

		assert.Equal(t, Config{
			KeytabPath: "/etc/ch.keytab",
			Principal:  "user@REALM",
			ConfigPath: "/etc/krb5.conf",
			ServiceSPN: "HTTP/ch.example.com",
		}, cfg)
		assert.Equal(t, "clickhouse://host:8123/db?max_block_size=1000", stripped)
	})

	t.Run("No kerberos params", func(t *testing.T) {
		cfg, stripped, err := FromDSN("clickhouse://host:8123/db?max_block_size=1000")
		require.NoError(t, err)
		assert.False(t, cfg.Enabled())
		assert.Equal(t, "clickhouse://host:8123/db?max_block_size=1000", stripped)
	})

	t.Run("Invalid DSN", func(t *testing.T) {
		_, _, err := FromDSN("://bad")
		assert.ErrorContains(t, err, "invalid DSN")
	})
}

func TestNewRequestOption_Errors(t *testing.T) {
	t.Run("Missing keytab file", func(t *testing.T) {
		_, _, err := NewRequestOption(Config{
			KeytabPath: filepath.Join(t.TempDir(), "clickhouse.keytab"),
			Principal:  "user@REALM",
			ConfigPath: "/etc/krb5.conf",
		})
		assert.ErrorContains(t, err, "kerberos: load keytab")
	})

	t.Run("Corrupt keytab", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.keytab")
		require.NoError(t, os.WriteFile(path, []byte("not a keytab"), 0o600))
		_, _, err := NewRequestOption(Config{KeytabPath: path, Principal: "user@REALM", ConfigPath: "/etc/krb5.conf"})
		assert.ErrorContains(t, err, "kerberos: load keytab")
	})
}

func TestOpen_ValidationError(t *testing.T) {
	_, _, err := Open("clickhouse://host:8123/db?kerberos_principal=user@REALM&kerberos_config=/etc/krb5.conf")
	assert.EqualError(t, err, "kerberos: KeytabPath required")
}
