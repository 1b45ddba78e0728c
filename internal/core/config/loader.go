package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/ethbridge/internal/core/domain"
)

var ErrInvalidConfig = errors.New("invalid config")

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content, applies defaults and validates the result.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Polling.Interval == 0 {
		c.Polling.Interval = 60 * time.Second
	}
	if c.Polling.RetryLimit == 0 {
		c.Polling.RetryLimit = 3
	}
	if c.Polling.RetryDelay == 0 {
		c.Polling.RetryDelay = 5 * time.Second
	}
	if c.Runtime.VotingPeriod == 0 {
		c.Runtime.VotingPeriod = 100
	}
	if c.Runtime.BlockTime == 0 {
		c.Runtime.BlockTime = 6 * time.Second
	}
	if c.Runtime.PruneInterval == 0 {
		c.Runtime.PruneInterval = time.Hour
	}
	if c.Redis.LockTTL == 0 {
		c.Redis.LockTTL = 3 * c.Polling.Interval
	}

	for i := range c.Instances {
		inst := &c.Instances[i]
		if inst.RangeLength == 0 {
			inst.RangeLength = 20
		}
		if inst.Confirmations == 0 {
			inst.Confirmations = 20
		}
		for j := range inst.Providers {
			if inst.Providers[j].Timeout == 0 {
				inst.Providers[j].Timeout = 30 * time.Second
			}
			if inst.Providers[j].Name == "" {
				inst.Providers[j].Name = fmt.Sprintf("instance-%d-%d", inst.ID, j)
			}
		}
	}
}

// Validate reports the first configuration error.
func (c *AppConfig) Validate() error {
	if c.Validator.KeyHex == "" && c.Validator.KeyFile == "" {
		return fmt.Errorf("%w: validator.key_hex or validator.key_file is required", ErrInvalidConfig)
	}
	for _, v := range c.Validator.Set {
		if !common.IsHexAddress(v) {
			return fmt.Errorf("%w: validator.set: bad address %q", ErrInvalidConfig, v)
		}
	}
	if len(c.Instances) == 0 {
		return fmt.Errorf("%w: at least one instance is required", ErrInvalidConfig)
	}

	seen := make(map[uint64]bool)
	for _, inst := range c.Instances {
		if seen[inst.ID] {
			return fmt.Errorf("%w: duplicate instance id %d", ErrInvalidConfig, inst.ID)
		}
		seen[inst.ID] = true
		if inst.ChainID == 0 {
			return fmt.Errorf("%w: instance %d: chain_id is required", ErrInvalidConfig, inst.ID)
		}
		if !common.IsHexAddress(inst.BridgeContract) {
			return fmt.Errorf("%w: instance %d: bad bridge_contract %q", ErrInvalidConfig, inst.ID, inst.BridgeContract)
		}
		if len(inst.Providers) == 0 {
			return fmt.Errorf("%w: instance %d: at least one provider is required", ErrInvalidConfig, inst.ID)
		}
		for _, p := range inst.Providers {
			if p.URL == "" {
				return fmt.Errorf("%w: instance %d: provider %s has no url", ErrInvalidConfig, inst.ID, p.Name)
			}
		}
		if _, err := inst.EventKinds(); err != nil {
			return fmt.Errorf("%w: instance %d: %v", ErrInvalidConfig, inst.ID, err)
		}
	}
	return nil
}

// Instance converts the configuration to the domain type.
func (i InstanceConfig) Instance() domain.Instance {
	return domain.Instance{
		ID:             domain.InstanceID(i.ID),
		ChainID:        i.ChainID,
		BridgeContract: common.HexToAddress(i.BridgeContract),
		RangeLength:    i.RangeLength,
		Confirmations:  i.Confirmations,
	}
}

// EventKinds returns the configured kinds, every known kind when none is set.
func (i InstanceConfig) EventKinds() ([]domain.EventKind, error) {
	if len(i.Events) == 0 {
		return domain.AllEventKinds, nil
	}
	known := make(map[domain.EventKind]bool, len(domain.AllEventKinds))
	for _, k := range domain.AllEventKinds {
		known[k] = true
	}
	out := make([]domain.EventKind, 0, len(i.Events))
	for _, e := range i.Events {
		k := domain.EventKind(e)
		if !known[k] {
			return nil, fmt.Errorf("unknown event kind %q", e)
		}
		out = append(out, k)
	}
	return out, nil
}

// Validators parses the configured validator set.
func (v ValidatorConfig) Validators() []domain.AccountID {
	out := make([]domain.AccountID, 0, len(v.Set))
	for _, s := range v.Set {
		out = append(out, common.HexToAddress(s))
	}
	return out
}
