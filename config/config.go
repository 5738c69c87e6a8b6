// Package config loads the publisher configuration from a YAML file, with
// secrets taken from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/ruteri/blob-publisher/funding"
	"github.com/ruteri/blob-publisher/interfaces"
	"github.com/ruteri/blob-publisher/storagenode"
	"github.com/ruteri/blob-publisher/upload"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvPrivateKey = "PUBLISHER_PRIVATE_KEY"
	EnvRPCURL     = "LEDGER_RPC_URL"
	EnvFaucetURL  = "FAUCET_URL"
)

// Config represents the configs used by the publisher binaries.
type Config struct {
	Environment string           `yaml:"environment"`
	Network     NetworkConfig    `yaml:"network"`
	Upload      UploadConfig     `yaml:"upload"`
	NodeClient  NodeClientConfig `yaml:"storage_node_client"`
	Committee   []NodeConfig     `yaml:"committee"`
	Funding     FundingConfig    `yaml:"funding"`
	Archive     ArchiveConfig    `yaml:"archive"`
	Server      ServerConfig     `yaml:"server"`

	// PrivateKey is the hex-encoded signing key of the uploading account.
	PrivateKey string `yaml:"-"`
}

type NetworkConfig struct {
	RPCURL          string   `yaml:"rpc_url"`
	SystemPackage   string   `yaml:"system_package"`
	BlobObjectType  string   `yaml:"blob_object_type"`
	PaymentToken    string   `yaml:"payment_token"`
	ExchangeObjects []string `yaml:"exchange_objects"`
	FaucetURL       string   `yaml:"faucet_url"`
	FaucetTimeout   int      `yaml:"faucet_timeout_in_ms"`
	PollInterval    int      `yaml:"poll_interval_in_ms"`
}

type UploadConfig struct {
	QuorumThreshold      uint64 `yaml:"quorum_threshold"`
	NodeTimeout          int    `yaml:"node_timeout_in_ms"`
	DistributionDeadline int    `yaml:"distribution_deadline_in_ms"`
	QuorumGrace          int    `yaml:"quorum_grace_in_ms"`
	MaxConcurrentNodes   int    `yaml:"max_concurrent_nodes"`
	VerifyCertified      bool   `yaml:"verify_certified"`
	MaxEpochs            uint32 `yaml:"max_epochs"`
	DefaultEpochs        uint32 `yaml:"default_epochs"`
}

type NodeClientConfig struct {
	Timeout      int `yaml:"timeout_in_ms"`
	Retries      int `yaml:"retries"`
	RetryWaitMin int `yaml:"retry_wait_min_in_ms"`
	RetryWaitMax int `yaml:"retry_wait_max_in_ms"`
}

type NodeConfig struct {
	ID       string `yaml:"id"`
	Endpoint string `yaml:"endpoint"`
	Address  string `yaml:"address"`
	Weight   uint64 `yaml:"weight"`
}

// FundingConfig thresholds are decimal amounts in base units.
type FundingConfig struct {
	MinGasBalance     string `yaml:"min_gas_balance"`
	MinPaymentBalance string `yaml:"min_payment_balance"`
	SwapAmount        string `yaml:"swap_amount"`
}

type ArchiveConfig struct {
	Locations []string `yaml:"locations"`
}

type ServerConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	Drain       int    `yaml:"drain_in_ms"`
	RunTTL      int    `yaml:"run_ttl_in_ms"`
	MaxRuns     uint64 `yaml:"max_runs"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, Error{reason: err.Error()}
	}
	defer file.Close()

	config := &Config{}
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil {
		return nil, Error{reason: err.Error()}
	}

	if config.Environment != "prod" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, Error{reason: err.Error()}
		}
	}

	config.PrivateKey = os.Getenv(EnvPrivateKey)
	if rpc := os.Getenv(EnvRPCURL); rpc != "" {
		config.Network.RPCURL = rpc
	}
	if faucet := os.Getenv(EnvFaucetURL); faucet != "" {
		config.Network.FaucetURL = faucet
	}

	if err := config.basicCheck(); err != nil {
		return nil, Error{reason: err.Error()}
	}
	return config, nil
}

// basicCheck validates what can be checked without a ledger connection.
func (c *Config) basicCheck() error {
	if !common.IsHexAddress(c.Network.SystemPackage) {
		return fmt.Errorf("network.system_package %q is not an address", c.Network.SystemPackage)
	}
	for _, id := range c.Network.ExchangeObjects {
		if len(common.FromHex(id)) != common.HashLength {
			return fmt.Errorf("network.exchange_objects: %q is not an object id", id)
		}
	}
	if _, err := c.StorageCommittee(); err != nil {
		return err
	}
	if _, err := c.FundingConfig(); err != nil {
		return err
	}
	if _, err := c.ArchiveLocations(); err != nil {
		return err
	}
	return nil
}

// UploadConfig returns the configuration injected into the orchestrator.
func (c *Config) UploadConfig() upload.Config {
	return upload.Config{
		NetworkEndpoint:      c.Network.RPCURL,
		PaymentToken:         c.paymentToken(),
		SystemPackage:        common.HexToAddress(c.Network.SystemPackage),
		BlobObjectType:       c.Network.BlobObjectType,
		QuorumThreshold:      c.Upload.QuorumThreshold,
		NodeTimeout:          ms(c.Upload.NodeTimeout),
		DistributionDeadline: ms(c.Upload.DistributionDeadline),
		QuorumGrace:          ms(c.Upload.QuorumGrace),
		MaxConcurrentNodes:   c.Upload.MaxConcurrentNodes,
		VerifyCertified:      c.Upload.VerifyCertified,
		MaxEpochs:            c.Upload.MaxEpochs,
	}.WithDefaults()
}

// DefaultEpochs returns the storage period used when a request names none.
func (c *Config) DefaultEpochs() uint32 {
	if c.Upload.DefaultEpochs == 0 {
		return upload.DefaultEpochs
	}
	return c.Upload.DefaultEpochs
}

func (c *Config) NodeClientConfig() storagenode.Config {
	return storagenode.Config{
		Timeout:      ms(c.NodeClient.Timeout),
		Retries:      c.NodeClient.Retries,
		RetryWaitMin: ms(c.NodeClient.RetryWaitMin),
		RetryWaitMax: ms(c.NodeClient.RetryWaitMax),
	}
}

// StorageCommittee builds the committee in configuration order.
func (c *Config) StorageCommittee() (*interfaces.Committee, error) {
	nodes := make([]interfaces.StorageNode, len(c.Committee))
	for i, n := range c.Committee {
		if n.Address != "" && !common.IsHexAddress(n.Address) {
			return nil, fmt.Errorf("committee[%d]: invalid address %q", i, n.Address)
		}
		weight := n.Weight
		if weight == 0 {
			weight = 1
		}
		nodes[i] = interfaces.StorageNode{
			ID:       n.ID,
			Endpoint: n.Endpoint,
			Address:  common.HexToAddress(n.Address),
			Weight:   weight,
		}
	}
	committee, err := interfaces.NewCommittee(nodes)
	if err != nil {
		return nil, fmt.Errorf("committee: %w", err)
	}
	return committee, nil
}

// FundingConfig returns the provisioner thresholds; unset amounts keep the defaults.
func (c *Config) FundingConfig() (funding.Config, error) {
	exchanges := make([]interfaces.ObjectID, len(c.Network.ExchangeObjects))
	for i, id := range c.Network.ExchangeObjects {
		exchanges[i] = common.HexToHash(id)
	}
	cfg := funding.DefaultConfig(c.paymentToken(), exchanges...)

	for _, amount := range []struct {
		name  string
		value string
		dst   **big.Int
	}{
		{"min_gas_balance", c.Funding.MinGasBalance, &cfg.MinGasBalance},
		{"min_payment_balance", c.Funding.MinPaymentBalance, &cfg.MinPaymentBalance},
		{"swap_amount", c.Funding.SwapAmount, &cfg.SwapAmount},
	} {
		if amount.value == "" {
			continue
		}
		parsed, ok := new(big.Int).SetString(amount.value, 10)
		if !ok || parsed.Sign() < 0 {
			return funding.Config{}, fmt.Errorf("funding.%s: invalid amount %q", amount.name, amount.value)
		}
		*amount.dst = parsed
	}
	return cfg, nil
}

// ArchiveLocations parses the checkpoint archive URIs.
func (c *Config) ArchiveLocations() ([]interfaces.StorageBackendLocation, error) {
	locs := make([]interfaces.StorageBackendLocation, 0, len(c.Archive.Locations))
	for _, raw := range c.Archive.Locations {
		loc, err := interfaces.NewStorageBackendLocation(raw)
		if err != nil {
			return nil, fmt.Errorf("archive.locations: %w", err)
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

func (c *Config) FaucetTimeout() time.Duration {
	return ms(c.Network.FaucetTimeout)
}

func (c *Config) PollInterval() time.Duration {
	return ms(c.Network.PollInterval)
}

func (c *Config) DrainDuration() time.Duration {
	return ms(c.Server.Drain)
}

func (c *Config) RunTTL() time.Duration {
	return ms(c.Server.RunTTL)
}

func (c *Config) paymentToken() interfaces.TokenType {
	if c.Network.PaymentToken == "" {
		return interfaces.NativeToken
	}
	return interfaces.TokenType(c.Network.PaymentToken)
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
