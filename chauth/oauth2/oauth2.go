// Package oauth2 adds bearer token authentication to the clickhouse client,
// for servers that accept JWTs or sit behind a token-validating proxy.
package oauth2

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	clickhouse "github.com/ethanyzhang/clickhouse-http-go"
)

// NewStaticTokenOption sends token as the bearer credential of every request.
func NewStaticTokenOption(token string) clickhouse.RequestOption {
	header := "Bearer " + token
	return func(req *http.Request) {
		req.Header.Set("Authorization", header)
	}
}

// Config describes a client credentials grant.
type Config struct {
	ClientID     string   `koanf:"client_id"`
	ClientSecret string   `koanf:"client_secret"`
	TokenURL     string   `koanf:"token_url"`
	Scopes       []string `koanf:"scopes"`
}

// Enabled reports whether any credential is configured.
func (c *Config) Enabled() bool {
	return c != nil && (c.ClientID != "" || c.ClientSecret != "" || c.TokenURL != "")
}

func (c *Config) validate() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "ClientID")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "ClientSecret")
	}
	if c.TokenURL == "" {
		missing = append(missing, "TokenURL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("oauth2: %s required", strings.Join(missing, ", "))
	}
	return nil
}

// NewRequestOption fetches tokens with the client credentials grant. Tokens
// are cached and refreshed by the token source, so one option can be shared by
// every request of a client.
func NewRequestOption(cfg Config) (clickhouse.RequestOption, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	return TokenSource(cc.TokenSource(context.Background())), nil
}

// TokenSource turns ts into a RequestOption. When no token can be obtained
// the request is sent unauthenticated and the server rejects it.
func TokenSource(ts oauth2.TokenSource) clickhouse.RequestOption {
	return func(req *http.Request) {
		tok, err := ts.Token()
		if err != nil {
			log.Debug().Err(err).Str("host", req.URL.Host).Msg("oauth2: token unavailable")
			return
		}
		tok.SetAuthHeader(req)
	}
}

// DSN parameters read by FromDSN.
const (
	ParamAccessToken  = "access_token"
	ParamClientID     = "oauth2_client_id"
	ParamClientSecret = "oauth2_client_secret"
	ParamTokenURL     = "oauth2_token_url"
	ParamScopes       = "oauth2_scopes"
)

// FromDSN reads the bearer parameters of dsn and returns the matching option,
// or nil when dsn has none, together with dsn stripped of those parameters.
// access_token wins over the client credentials parameters.
func FromDSN(dsn string) (clickhouse.RequestOption, string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, "", fmt.Errorf("oauth2: invalid DSN: %w", err)
	}
	q := u.Query()
	take := func(key string) string {
		v := q.Get(key)
		q.Del(key)
		return v
	}

	token := take(ParamAccessToken)
	cfg := Config{
		ClientID:     take(ParamClientID),
		ClientSecret: take(ParamClientSecret),
		TokenURL:     take(ParamTokenURL),
	}
	for _, s := range strings.Split(take(ParamScopes), ",") {
		if s = strings.TrimSpace(s); s != "" {
			cfg.Scopes = append(cfg.Scopes, s)
		}
	}
	u.RawQuery = q.Encode()
	stripped := u.String()

	switch {
	case token != "":
		return NewStaticTokenOption(token), stripped, nil
	case !cfg.Enabled():
		return nil, stripped, nil
	}
	opt, err := NewRequestOption(cfg)
	if err != nil {
		return nil, "", err
	}
	return opt, stripped, nil
}

// Open is clickhouse.Open for a DSN that may carry bearer parameters.
func Open(dsn string, opts ...clickhouse.ClientOption) (*clickhouse.Client, error) {
	opt, stripped, err := FromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if opt != nil {
		opts = append([]clickhouse.ClientOption{clickhouse.WithRequestOptions(opt)}, opts...)
	}
	return clickhouse.Open(stripped, opts...)
}
