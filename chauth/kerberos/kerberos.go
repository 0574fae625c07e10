// Package kerberos adds SPNEGO (HTTP Negotiate) authentication to the
// clickhouse client, for servers configured with a Kerberos realm. It keeps
// the gokrb5 dependency tree out of the core package.
package kerberos

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/spnego"
	"github.com/rs/zerolog/log"

	clickhouse "github.com/ethanyzhang/clickhouse-http-go"
)

// Config locates the keytab and krb5.conf used to log in.
type Config struct {
	KeytabPath string `koanf:"keytab"`
	Principal  string `koanf:"principal"` // "user" or "user@EXAMPLE.COM"
	Realm      string `koanf:"realm"`     // used when Principal has no realm
	ConfigPath string `koanf:"config"`    // krb5.conf
	ServiceSPN string `koanf:"service_spn"`
}

// Enabled reports whether a keytab is configured.
func (c *Config) Enabled() bool {
	return c != nil && c.KeytabPath != ""
}

func (c *Config) validate() error {
	var missing []string
	if c.KeytabPath == "" {
		missing = append(missing, "KeytabPath")
	}
	if c.Principal == "" {
		missing = append(missing, "Principal")
	}
	if c.Realm == "" && !strings.Contains(c.Principal, "@") {
		missing = append(missing, "Realm")
	}
	if c.ConfigPath == "" {
		missing = append(missing, "ConfigPath")
	}
	if len(missing) > 0 {
		return fmt.Errorf("kerberos: %s required", strings.Join(missing, ", "))
	}
	return nil
}

// splitPrincipal splits "user@REALM", falling back to defaultRealm.
func splitPrincipal(principal, defaultRealm string) (username, realm string) {
	if user, r, ok := strings.Cut(principal, "@"); ok {
		return user, r
	}
	return principal, defaultRealm
}

// spn is the service principal for host. ClickHouse registers HTTP/<fqdn>
// unless a load balancer fronts several servers under one name.
func (c *Config) spn(host string) string {
	if c.ServiceSPN != "" {
		return c.ServiceSPN
	}
	return "HTTP/" + host
}

type session struct {
	cl *client.Client
}

func (s *session) Close() error {
	s.cl.Destroy()
	return nil
}

// NewRequestOption logs in with the keytab and returns an option setting the
// Negotiate header of each request. Close the returned io.Closer to destroy
// the Kerberos session once the client is no longer used.
func NewRequestOption(cfg Config) (clickhouse.RequestOption, io.Closer, error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	kt, err := keytab.Load(cfg.KeytabPath)
	if err != nil {
		return nil, nil, fmt.Errorf("kerberos: load keytab %q: %w", cfg.KeytabPath, err)
	}
	krb5, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("kerberos: load krb5 config %q: %w", cfg.ConfigPath, err)
	}

	user, realm := splitPrincipal(cfg.Principal, cfg.Realm)
	cl := client.NewWithKeytab(user, realm, kt, krb5)
	if err := cl.Login(); err != nil {
		return nil, nil, fmt.Errorf("kerberos: login as %s@%s: %w", user, realm, err)
	}

	opt := func(req *http.Request) {
		// A request without the header is answered with 401 and surfaces as
		// a DatabaseError.
		if err := spnego.SetSPNEGOHeader(cl, req, cfg.spn(req.URL.Hostname())); err != nil {
			log.Debug().Err(err).Str("host", req.URL.Host).Msg("kerberos: failed to set SPNEGO header")
		}
	}
	return opt, &session{cl: cl}, nil
}

// DSN parameters read by FromDSN.
const (
	ParamKeytab     = "kerberos_keytab"
	ParamPrincipal  = "kerberos_principal"
	ParamRealm      = "kerberos_realm"
	ParamConfig     = "kerberos_config"
	ParamServiceSPN = "kerberos_service_spn"
)

// FromDSN reads the kerberos_* parameters of dsn and returns them with dsn
// stripped of them, so they are not sent to the server as settings.
func FromDSN(dsn string) (Config, string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return Config{}, "", fmt.Errorf("kerberos: invalid DSN: %w", err)
	}
	q := u.Query()
	take := func(key string) string {
		v := q.Get(key)
		q.Del(key)
		return v
	}
	cfg := Config{
		KeytabPath: take(ParamKeytab),
		Principal:  take(ParamPrincipal),
		Realm:      take(ParamRealm),
		ConfigPath: take(ParamConfig),
		ServiceSPN: take(ParamServiceSPN),
	}
	u.RawQuery = q.Encode()
	return cfg, u.String(), nil
}

// Open is clickhouse.Open with SPNEGO configured from the kerberos_*
// parameters of dsn. Close the returned io.Closer when done with the client.
func Open(dsn string, opts ...clickhouse.ClientOption) (*clickhouse.Client, io.Closer, error) {
	cfg, stripped, err := FromDSN(dsn)
	if err != nil {
		return nil, nil, err
	}
	opt, closer, err := NewRequestOption(cfg)
	if err != nil {
		return nil, nil, err
	}

	opts = append([]clickhouse.ClientOption{clickhouse.WithRequestOptions(opt)}, opts...)
	c, err := clickhouse.Open(stripped, opts...)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return c, closer, nil
}
