package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"agentscan/internal/chain"
)

const (
	ModeSync   = "sync"
	ModeFollow = "follow"
)

// Config models agentscan.yml.
type Config struct {
	RPC struct {
		URL string `yaml:"url"`
	} `yaml:"rpc"`
	Sync struct {
		Mode         string `yaml:"mode"`
		FromBlock    uint64 `yaml:"from_block"`
		PollInterval string `yaml:"poll_interval"`
	} `yaml:"sync"`
	Server struct {
		Listen   string `yaml:"listen"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Deployments struct {
		ChainID    int64  `yaml:"chain_id"`
		Identity   string `yaml:"identity"`
		Reputation string `yaml:"reputation"`
		Validation string `yaml:"validation"`
		JobBoard   string `yaml:"job_board"`
	} `yaml:"deployments"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it or pass --config", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.RPC.URL == "" {
		return fmt.Errorf("config.rpc.url is required")
	}
	if c.Sync.Mode != ModeSync && c.Sync.Mode != ModeFollow {
		return fmt.Errorf("config.sync.mode must be '%s' or '%s'", ModeSync, ModeFollow)
	}
	if c.Sync.PollInterval != "" {
		if _, err := time.ParseDuration(c.Sync.PollInterval); err != nil {
			return fmt.Errorf("config.sync.poll_interval: %w", err)
		}
	}
	if c.Deployments.ChainID <= 0 {
		return fmt.Errorf("config.deployments.chain_id is required")
	}
	for name, addr := range map[string]string{
		"identity":   c.Deployments.Identity,
		"reputation": c.Deployments.Reputation,
		"validation": c.Deployments.Validation,
	} {
		if addr == "" {
			return fmt.Errorf("config.deployments.%s is required", name)
		}
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("config.deployments.%s is not a hex address", name)
		}
	}
	if c.Deployments.JobBoard != "" && !common.IsHexAddress(c.Deployments.JobBoard) {
		return fmt.Errorf("config.deployments.job_board is not a hex address")
	}
	return nil
}

// PollInterval returns the configured poll interval, or zero when unset.
func (c *Config) PollInterval() time.Duration {
	if c.Sync.PollInterval == "" {
		return 0
	}
	d, _ := time.ParseDuration(c.Sync.PollInterval)
	return d
}

// Listen returns the server listen address with its default applied.
func (c *Config) Listen() string {
	if c.Server.Listen == "" {
		return ":8420"
	}
	return c.Server.Listen
}

// ChainDeployments converts the configured addresses into the form the
// decoder works with.
func (c *Config) ChainDeployments() chain.Deployments {
	d := chain.Deployments{
		ChainID:    c.Deployments.ChainID,
		Identity:   common.HexToAddress(c.Deployments.Identity),
		Reputation: common.HexToAddress(c.Deployments.Reputation),
		Validation: common.HexToAddress(c.Deployments.Validation),
	}
	if c.Deployments.JobBoard != "" {
		jb := common.HexToAddress(c.Deployments.JobBoard)
		d.JobBoard = &jb
	}
	return d
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "agentscan.yml")
}

// GenerateDefault returns default config YAML for the given RPC endpoint.
func GenerateDefault(rpcURL string) string {
	return fmt.Sprintf(defaultTemplate, rpcURL)
}

const defaultTemplate = `rpc:
  url: %s

sync:
  mode: follow
  from_block: 0
  poll_interval: 4s

server:
  listen: ":8420"

deployments:
  chain_id: 31337
  identity: "0x0000000000000000000000000000000000000000"
  reputation: "0x0000000000000000000000000000000000000000"
  validation: "0x0000000000000000000000000000000000000000"
  # job_board is optional; leave unset when the job board is not deployed.
  job_board: ""
`
