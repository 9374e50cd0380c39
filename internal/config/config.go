package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models mintline.yml.
type Config struct {
	Service struct {
		BasePath string `yaml:"base_path"`
	} `yaml:"service"`
	Ledger struct {
		RPCURL                string `yaml:"rpc_url"`
		ConfirmTimeoutSeconds int    `yaml:"confirm_timeout_seconds"`
	} `yaml:"ledger"`
	Oracle struct {
		Providers   []string `yaml:"providers"`
		MaxAttempts int      `yaml:"max_attempts"`
	} `yaml:"oracle"`
	Authority struct {
		SeedHex string `yaml:"seed_hex"`
	} `yaml:"authority"`
	Leases struct {
		TicketTTLSeconds      int `yaml:"ticket_ttl_seconds"`
		LockTTLSeconds        int `yaml:"lock_ttl_seconds"`
		ReaperIntervalSeconds int `yaml:"reaper_interval_seconds"`
	} `yaml:"leases"`
	Report struct {
		CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
	} `yaml:"report"`
	Catalog struct {
		Identities map[string]IdentityEntry `yaml:"identities"`
	} `yaml:"catalog"`
}

type IdentityEntry struct {
	MaxSupply int `yaml:"max_supply"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with ml config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Authority.SeedHex != "" {
		raw, err := hex.DecodeString(c.Authority.SeedHex)
		if err != nil {
			return fmt.Errorf("config.authority.seed_hex is not valid hex: %w", err)
		}
		if len(raw) != 32 {
			return fmt.Errorf("config.authority.seed_hex must decode to 32 bytes, got %d", len(raw))
		}
	}
	if c.Leases.TicketTTLSeconds < 0 || c.Leases.LockTTLSeconds < 0 {
		return fmt.Errorf("config.leases TTLs must not be negative")
	}
	if c.Oracle.MaxAttempts < 0 {
		return fmt.Errorf("config.oracle.max_attempts must not be negative")
	}
	for id, entry := range c.Catalog.Identities {
		if id == "" {
			return fmt.Errorf("config.catalog.identities contains empty identity")
		}
		if entry.MaxSupply < 0 {
			return fmt.Errorf("identity %s has negative max_supply", id)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "mintline.yml")
}

// TicketTTLSeconds returns the ticket lease TTL with the default applied.
func (c *Config) TicketTTLSeconds() int {
	if c.Leases.TicketTTLSeconds == 0 {
		return 300
	}
	return c.Leases.TicketTTLSeconds
}

// LockTTLSeconds returns the escrow lock TTL with the default applied.
func (c *Config) LockTTLSeconds() int {
	if c.Leases.LockTTLSeconds == 0 {
		return 300
	}
	return c.Leases.LockTTLSeconds
}

// ReportCacheTTLSeconds returns the report cache TTL with the default applied.
func (c *Config) ReportCacheTTLSeconds() int {
	if c.Report.CacheTTLSeconds == 0 {
		return 15
	}
	return c.Report.CacheTTLSeconds
}

// MaxSupply returns the cap for an identity; 0 means uncapped. Identities
// absent from the catalog are uncapped.
func (c *Config) MaxSupply(identity string) int {
	entry, ok := c.Catalog.Identities[identity]
	if !ok {
		return 0
	}
	return entry.MaxSupply
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `service:
  base_path: /v0

ledger:
  rpc_url: http://127.0.0.1:8899
  confirm_timeout_seconds: 30

oracle:
  providers:
    - http://127.0.0.1:9101
    - http://127.0.0.1:9102
  max_attempts: 3

authority:
  seed_hex: ""

leases:
  ticket_ttl_seconds: 300
  lock_ttl_seconds: 300
  reaper_interval_seconds: 30

report:
  cache_ttl_seconds: 15

catalog:
  identities:
    "1": { max_supply: 250 }
    "2": { max_supply: 250 }
    "3": { max_supply: 100 }
    "4": { max_supply: 100 }
    "5": { max_supply: 50 }
`
