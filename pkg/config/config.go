package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Backend names accepted in the config file.
const (
	BackendOnDisk   = "ondisk"
	BackendBoltDB   = "boltdb"
	BackendInMemory = "inmemory"
)

// DefaultPhysicalBlockSize is the block size used when none is configured.
const DefaultPhysicalBlockSize = 32 * 1024

// Config describes one vaultfs store.
type Config struct {
	Version           int    `yaml:"version"`
	Backend           string `yaml:"backend"`
	Cipher            string `yaml:"cipher"`
	PhysicalBlockSize uint64 `yaml:"physical_block_size"`
	KeyFile           string `yaml:"key_file"`
}

// Default returns the configuration new stores are created with.
func Default() Config {
	return Config{
		Version:           1,
		Backend:           BackendOnDisk,
		Cipher:            "aes-256-gcm",
		PhysicalBlockSize: DefaultPhysicalBlockSize,
		KeyFile:           "vaultfs.key",
	}
}

// Validate checks the config for values the engine cannot run with.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendOnDisk, BackendBoltDB, BackendInMemory:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	switch c.Cipher {
	case "aes-256-gcm", "xchacha20-poly1305":
	default:
		return fmt.Errorf("unknown cipher %q", c.Cipher)
	}
	if c.PhysicalBlockSize < 128 {
		return fmt.Errorf("physical block size %d too small, need at least 128", c.PhysicalBlockSize)
	}
	if c.KeyFile == "" {
		return fmt.Errorf("key file must be set")
	}
	return nil
}

// Load reads and validates a config file.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if c.Version != 1 {
		return Config{}, fmt.Errorf("unsupported config version %d", c.Version)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Save writes the config to path, creating or overwriting it.
func (c Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.WriteFile(path, b, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
