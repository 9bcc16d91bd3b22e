package provider

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	svccrypto "github.com/arcbridge/bridge-core/internal/crypto"
)

// Config is one provider's configuration, including its API credential.
type Config struct {
	ID             string    `json:"id"`
	ProviderType   string    `json:"provider_type"` // "oracle", "dex"
	APIKey         string    `json:"api_key"`
	Endpoint       string    `json:"endpoint,omitempty"`
	Priority       int       `json:"priority"`
	Enabled        bool      `json:"enabled"`
	StaticConfidence float64 `json:"static_confidence,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// configFile is the on-disk, encrypted-at-rest structure.
type configFile struct {
	Version   string             `json:"version"`
	Configs   map[string]Config  `json:"configs"` // id -> config
	UpdatedAt time.Time          `json:"updated_at"`
}

const configFileVersion = "1.0"

// ConfigStore persists provider credentials AES-256-GCM-encrypted at rest,
// the same on-disk shape the chain adapter layer uses for its own RPC
// provider API keys.
type ConfigStore struct {
	mu       sync.RWMutex
	configs  map[string]Config
	path     string
	password string
}

// NewConfigStore opens (or initializes) an encrypted config store at path.
func NewConfigStore(path, password string) (*ConfigStore, error) {
	s := &ConfigStore{configs: make(map[string]Config), path: path, password: password}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("provider: loading config store: %w", err)
	}
	return s, nil
}

// Set adds or replaces a provider's configuration and persists the store.
func (s *ConfigStore) Set(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.ID == "" {
		return fmt.Errorf("provider: config id is required")
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("provider: api_key is required")
	}

	now := time.Now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	s.configs[cfg.ID] = cfg
	return s.save()
}

// Get returns the configuration for providerID.
func (s *ConfigStore) Get(providerID string) (Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[providerID]
	if !ok {
		return Config{}, fmt.Errorf("provider: no config for id %q", providerID)
	}
	return cfg, nil
}

// Enabled returns every enabled configuration, highest priority first.
func (s *ConfigStore) Enabled() []Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Config, 0, len(s.configs))
	for _, cfg := range s.configs {
		if cfg.Enabled {
			out = append(out, cfg)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Priority > out[j-1].Priority; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (s *ConfigStore) load() error {
	encrypted, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	plaintext, err := svccrypto.Decrypt(encrypted, s.password)
	if err != nil {
		return fmt.Errorf("provider: decrypting config store: %w", err)
	}
	var file configFile
	if err := json.Unmarshal(plaintext, &file); err != nil {
		return fmt.Errorf("provider: parsing config store: %w", err)
	}
	if file.Version != configFileVersion {
		return fmt.Errorf("provider: unsupported config store version %q", file.Version)
	}
	s.configs = file.Configs
	if s.configs == nil {
		s.configs = make(map[string]Config)
	}
	return nil
}

// save encrypts and atomically writes the store; caller must hold s.mu.
func (s *ConfigStore) save() error {
	file := configFile{Version: configFileVersion, Configs: s.configs, UpdatedAt: time.Now()}
	plaintext, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("provider: marshaling config store: %w", err)
	}
	encrypted, err := svccrypto.Encrypt(plaintext, s.password)
	if err != nil {
		return fmt.Errorf("provider: encrypting config store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("provider: creating config directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, encrypted, 0600); err != nil {
		return fmt.Errorf("provider: writing temp config store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("provider: renaming config store: %w", err)
	}
	return nil
}
