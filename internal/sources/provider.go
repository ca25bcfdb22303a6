// Package sources adapts upstream data providers into monitorable checks.
package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"datafeed-sentinel/internal/monitor"
)

// CredentialProvider yields the current API key for a provider. Implemented
// by the vault store so rotated keys take effect without a restart.
type CredentialProvider interface {
	APIKey(ctx context.Context, source string) (string, error)
}

// StaticCredentials is a CredentialProvider for a fixed key
type StaticCredentials string

func (s StaticCredentials) APIKey(context.Context, string) (string, error) {
	return string(s), nil
}

// Provider describes one upstream data source
type Provider struct {
	Name        string
	BaseURL     string
	AuthHeader  string // header carrying the API key, empty for keyless sources
	Credentials CredentialProvider
	// Alternates maps a series identifier to a substitute the provider
	// also serves, used when the primary series returns unusable data.
	Alternates map[string]string

	client *http.Client
	log    zerolog.Logger
}

// NewProvider creates a provider with a shared-nothing HTTP client
func NewProvider(name, baseURL string, log zerolog.Logger) *Provider {
	return &Provider{
		Name:    name,
		BaseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: log.With().Str("component", "source").Str("source", name).Logger(),
	}
}

// WithAuth sets the credential header and provider
func (p *Provider) WithAuth(header string, creds CredentialProvider) *Provider {
	p.AuthHeader = header
	p.Credentials = creds
	return p
}

// WithAlternates sets the series substitution map
func (p *Provider) WithAlternates(alternates map[string]string) *Provider {
	p.Alternates = alternates
	return p
}

// Check builds a monitor check for one endpoint path. Request parameters
// arrive from the monitor per attempt, so healing strategies that rewrite
// params (smaller limit, alternate series) flow through unchanged.
func (p *Provider) Check(path string) monitor.CheckFunc {
	return func(ctx context.Context, params map[string]interface{}) ([]byte, int, error) {
		req, err := p.buildRequest(ctx, path, params)
		if err != nil {
			return nil, 0, err
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, 0, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return nil, resp.StatusCode, fmt.Errorf("reading response body: %w", err)
		}
		return body, resp.StatusCode, nil
	}
}

func (p *Provider) buildRequest(ctx context.Context, path string, params map[string]interface{}) (*http.Request, error) {
	u, err := url.Parse(p.BaseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint url: %w", err)
	}

	q := u.Query()
	for k, v := range params {
		q.Set(k, fmt.Sprint(v))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	if p.AuthHeader != "" && p.Credentials != nil {
		key, err := p.Credentials.APIKey(ctx, p.Name)
		if err != nil {
			return nil, fmt.Errorf("fetching credentials for %s: %w", p.Name, err)
		}
		req.Header.Set(p.AuthHeader, key)
	}
	return req, nil
}
