// Package vault stores per-source API credentials in HashiCorp Vault,
// with an in-memory fallback when Vault is disabled.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"

	"datafeed-sentinel/config"
)

// Credential holds the active key for a source plus a pre-provisioned
// standby that rotation promotes when the active key stops working.
type Credential struct {
	APIKey     string `json:"api_key"`
	StandbyKey string `json:"standby_key"`
}

// Store wraps the HashiCorp Vault client
type Store struct {
	client *api.Client
	config config.VaultConfig
	log    zerolog.Logger

	mu    sync.RWMutex
	cache map[string]*Credential // source -> credential
}

// NewStore creates a credential store. With Vault disabled all credentials
// live in memory only, which is the development and test mode.
func NewStore(cfg config.VaultConfig, log zerolog.Logger) (*Store, error) {
	s := &Store{
		config: cfg,
		cache:  make(map[string]*Credential),
		log:    log.With().Str("component", "vault").Logger(),
	}
	if !cfg.Enabled {
		return s, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	s.client = client

	return s, nil
}

// Put stores a credential for a source
func (s *Store) Put(ctx context.Context, source string, cred Credential) error {
	if s.config.Enabled {
		secretData := map[string]interface{}{
			"data": map[string]interface{}{
				"api_key":     cred.APIKey,
				"standby_key": cred.StandbyKey,
			},
		}
		if _, err := s.client.Logical().WriteWithContext(ctx, s.secretPath(source), secretData); err != nil {
			return fmt.Errorf("failed to store credential in vault: %w", err)
		}
	}

	s.mu.Lock()
	s.cache[source] = &cred
	s.mu.Unlock()
	return nil
}

// Get retrieves the credential for a source, preferring the local cache
func (s *Store) Get(ctx context.Context, source string) (*Credential, error) {
	s.mu.RLock()
	if cached, ok := s.cache[source]; ok {
		s.mu.RUnlock()
		cp := *cached
		return &cp, nil
	}
	s.mu.RUnlock()

	if !s.config.Enabled {
		return nil, fmt.Errorf("no credential for source %s and vault is disabled", source)
	}

	secret, err := s.client.Logical().ReadWithContext(ctx, s.secretPath(source))
	if err != nil {
		return nil, fmt.Errorf("failed to read credential from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no credential for source %s", source)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format for source %s", source)
	}

	cred := &Credential{
		APIKey:     getString(data, "api_key"),
		StandbyKey: getString(data, "standby_key"),
	}

	s.mu.Lock()
	s.cache[source] = cred
	s.mu.Unlock()

	cp := *cred
	return &cp, nil
}

// APIKey returns the active key for a source. Satisfies the monitor's
// credential provider so rotations take effect on the next request.
func (s *Store) APIKey(ctx context.Context, source string) (string, error) {
	cred, err := s.Get(ctx, source)
	if err != nil {
		return "", err
	}
	return cred.APIKey, nil
}

// Rotate promotes the standby key to active. The retired key is kept as
// the new standby so a bad rotation can be rotated again to undo itself.
func (s *Store) Rotate(ctx context.Context, source string) error {
	cred, err := s.Get(ctx, source)
	if err != nil {
		return fmt.Errorf("rotate %s: %w", source, err)
	}
	if cred.StandbyKey == "" {
		return fmt.Errorf("rotate %s: no standby key provisioned", source)
	}

	rotated := Credential{
		APIKey:     cred.StandbyKey,
		StandbyKey: cred.APIKey,
	}
	if err := s.Put(ctx, source, rotated); err != nil {
		return fmt.Errorf("rotate %s: %w", source, err)
	}

	s.log.Info().Str("source", source).Msg("credential rotated")
	return nil
}

// Delete removes a source's credential
func (s *Store) Delete(ctx context.Context, source string) error {
	s.mu.Lock()
	delete(s.cache, source)
	s.mu.Unlock()

	if !s.config.Enabled {
		return nil
	}
	if _, err := s.client.Logical().DeleteWithContext(ctx, s.metadataPath(source)); err != nil {
		return fmt.Errorf("failed to delete credential from vault: %w", err)
	}
	return nil
}

// IsEnabled returns whether Vault is enabled
func (s *Store) IsEnabled() bool {
	return s.config.Enabled
}

// Health checks the Vault connection
func (s *Store) Health(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}

	health, err := s.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func (s *Store) secretPath(source string) string {
	return fmt.Sprintf("%s/data/%s/%s", s.config.MountPath, s.config.SecretPath, source)
}

func (s *Store) metadataPath(source string) string {
	return fmt.Sprintf("%s/metadata/%s/%s", s.config.MountPath, s.config.SecretPath, source)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
