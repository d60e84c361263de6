package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ferdinandre/tradingdemo/config"

	"github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"
)

// ErrCredentialsNotFound is returned when no credentials are stored for a broker
var ErrCredentialsNotFound = errors.New("broker credentials not found")

// Credentials are the broker API keys stored in Vault
type Credentials struct {
	KeyID     string `json:"key_id"`
	SecretKey string `json:"secret_key"`
	Broker    string `json:"broker"`
	Paper     bool   `json:"paper"`
}

// Complete reports whether both halves of the key pair are present
func (c Credentials) Complete() bool {
	return c.KeyID != "" && c.SecretKey != ""
}

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	config config.VaultConfig
	mu     sync.RWMutex
	cache  map[string]Credentials // broker_network -> credentials
	logger zerolog.Logger
}

// NewClient creates a new Vault client. A disabled config yields a cache-only client.
func NewClient(cfg config.VaultConfig, logger zerolog.Logger) (*Client, error) {
	c := &Client{
		config: cfg,
		cache:  make(map[string]Credentials),
		logger: logger.With().Str("component", "Vault").Logger(),
	}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		if err := vaultConfig.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	c.client = client
	return c, nil
}

// StoreCredentials writes broker credentials to Vault
func (c *Client) StoreCredentials(ctx context.Context, creds Credentials) error {
	key := cacheKey(creds.Broker, creds.Paper)
	if c.config.Enabled {
		secretData := map[string]interface{}{
			"data": map[string]interface{}{
				"key_id":     creds.KeyID,
				"secret_key": creds.SecretKey,
				"broker":     creds.Broker,
				"paper":      creds.Paper,
			},
		}
		if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(creds.Broker, creds.Paper), secretData); err != nil {
			return fmt.Errorf("failed to store credentials in vault: %w", err)
		}
	}

	c.mu.Lock()
	c.cache[key] = creds
	c.mu.Unlock()
	return nil
}

// GetCredentials reads broker credentials, serving repeats from the cache
func (c *Client) GetCredentials(ctx context.Context, broker string, paper bool) (Credentials, error) {
	key := cacheKey(broker, paper)
	c.mu.RLock()
	cached, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	if !c.config.Enabled {
		return Credentials{}, ErrCredentialsNotFound
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(broker, paper))
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return Credentials{}, ErrCredentialsNotFound
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return Credentials{}, fmt.Errorf("invalid secret format at %s", c.secretPath(broker, paper))
	}

	creds := Credentials{
		KeyID:     getString(data, "key_id"),
		SecretKey: getString(data, "secret_key"),
		Broker:    broker,
		Paper:     getBool(data, "paper"),
	}
	if !creds.Complete() {
		return Credentials{}, ErrCredentialsNotFound
	}

	c.mu.Lock()
	c.cache[key] = creds
	c.mu.Unlock()
	return creds, nil
}

// DeleteCredentials removes broker credentials and all their versions
func (c *Client) DeleteCredentials(ctx context.Context, broker string, paper bool) error {
	c.mu.Lock()
	delete(c.cache, cacheKey(broker, paper))
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}
	if _, err := c.client.Logical().DeleteWithContext(ctx, c.metadataPath(broker, paper)); err != nil {
		return fmt.Errorf("failed to delete credentials from vault: %w", err)
	}
	return nil
}

// Resolve returns Vault credentials when available, otherwise fallback.
// Only a missing secret falls back; transport errors are returned.
func (c *Client) Resolve(ctx context.Context, broker string, paper bool, fallback Credentials) (Credentials, error) {
	if c == nil {
		return fallback, nil
	}
	creds, err := c.GetCredentials(ctx, broker, paper)
	switch {
	case err == nil:
		return creds, nil
	case errors.Is(err, ErrCredentialsNotFound):
		if c.config.Enabled {
			c.logger.Warn().Str("broker", broker).Bool("paper", paper).Msg("No credentials in vault, using environment")
		}
		return fallback, nil
	default:
		return Credentials{}, err
	}
}

// ClearCache clears the in-memory cache
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]Credentials)
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return errors.New("vault is sealed")
	}
	return nil
}

func network(paper bool) string {
	if paper {
		return "paper"
	}
	return "live"
}

func (c *Client) secretPath(broker string, paper bool) string {
	return fmt.Sprintf("%s/data/%s/%s_%s", c.config.MountPath, c.config.SecretPath, broker, network(paper))
}

func (c *Client) metadataPath(broker string, paper bool) string {
	return fmt.Sprintf("%s/metadata/%s/%s_%s", c.config.MountPath, c.config.SecretPath, broker, network(paper))
}

func cacheKey(broker string, paper bool) string {
	return broker + "_" + network(paper)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	if val, ok := data[key]; ok {
		switch v := val.(type) {
		case bool:
			return v
		case string:
			return v == "true"
		case json.Number:
			n, _ := v.Int64()
			return n != 0
		}
	}
	return false
}
