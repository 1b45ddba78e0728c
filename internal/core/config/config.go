package config

import (
	"time"

	redisclient "github.com/vietddude/ethbridge/internal/infra/redis"
	"github.com/vietddude/ethbridge/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Validator ValidatorConfig    `yaml:"validator"`
	Instances []InstanceConfig   `yaml:"instances"`
	Polling   PollingConfig      `yaml:"polling"`
	Runtime   RuntimeConfig      `yaml:"runtime"`
	Redis     redisclient.Config `yaml:"redis"`
	Database  postgres.Config    `yaml:"database"`
	Bolt      BoltConfig         `yaml:"bolt"`
	Logging   LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ValidatorConfig identifies this node and the genesis validator set.
type ValidatorConfig struct {
	KeyHex  string `yaml:"key_hex"`
	KeyFile string `yaml:"key_file"`
	// Set lists the genesis validator addresses; this node's address is added when missing.
	Set []string `yaml:"set"`
}

// InstanceConfig describes one bridge instance.
type InstanceConfig struct {
	ID             uint64           `yaml:"id"`
	ChainID        uint64           `yaml:"chain_id"`
	BridgeContract string           `yaml:"bridge_contract"`
	RangeLength    uint32           `yaml:"range_length"`
	Confirmations  uint64           `yaml:"confirmations"`
	Events         []string         `yaml:"events"` // empty = every known kind
	Providers      []ProviderConfig `yaml:"providers"`
}

// ProviderConfig holds settings for a JSON-RPC provider.
type ProviderConfig struct {
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	// DailyLimit caps the calls made per day; 0 means unlimited.
	DailyLimit int `yaml:"daily_limit"`
}

// PollingConfig drives the orchestrator loop.
type PollingConfig struct {
	Interval   time.Duration `yaml:"interval"`
	RetryLimit int           `yaml:"retry_limit"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// RuntimeConfig holds host runtime settings.
type RuntimeConfig struct {
	VotingPeriod  uint64        `yaml:"voting_period"` // host blocks
	BlockTime     time.Duration `yaml:"block_time"`
	PruneInterval time.Duration `yaml:"prune_interval"`
	RetainBlocks  uint64        `yaml:"retain_blocks"` // 0 = keep everything
}

// BoltConfig selects the embedded store.
type BoltConfig struct {
	Path string `yaml:"path"`
}

// StorageBackend names the store selected by the configuration.
func (c *AppConfig) StorageBackend() string {
	switch {
	case c.Database.URL != "":
		return "postgres"
	case c.Bolt.Path != "":
		return "bolt"
	default:
		return "memory"
	}
}
