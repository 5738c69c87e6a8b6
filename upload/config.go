package upload

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/blob-publisher/interfaces"
)

const (
	DefaultNodeTimeout          = 60 * time.Second
	DefaultDistributionDeadline = 5 * time.Minute
	DefaultMaxEpochs            = 53
	DefaultEpochs               = 3
)

// Config is the network configuration injected into the workflow.
type Config struct {
	// NetworkEndpoint is the ledger RPC endpoint, informational for the core.
	NetworkEndpoint string
	PaymentToken    interfaces.TokenType

	// SystemPackage is the address of the blob system contract.
	SystemPackage interfaces.Address
	// BlobObjectType is the type of blob objects created by registration.
	// Defaults to the blob type of SystemPackage.
	BlobObjectType string

	// QuorumThreshold is the confirmed weight required for certification.
	// Zero selects the committee's Byzantine quorum.
	QuorumThreshold uint64

	NodeTimeout          time.Duration
	DistributionDeadline time.Duration
	// QuorumGrace is how long distribution keeps collecting confirmations
	// once quorum is reached. Zero waits for every node.
	QuorumGrace time.Duration
	// MaxConcurrentNodes bounds parallel node requests. Zero means one
	// request per node.
	MaxConcurrentNodes int

	// VerifyCertified reads the blob object back after certification.
	VerifyCertified bool
	MaxEpochs       uint32
}

// WithDefaults returns a copy with unset fields filled in.
func (c Config) WithDefaults() Config {
	if c.NodeTimeout <= 0 {
		c.NodeTimeout = DefaultNodeTimeout
	}
	if c.DistributionDeadline <= 0 {
		c.DistributionDeadline = DefaultDistributionDeadline
	}
	if c.MaxEpochs == 0 {
		c.MaxEpochs = DefaultMaxEpochs
	}
	if c.BlobObjectType == "" && c.SystemPackage != (common.Address{}) {
		c.BlobObjectType = interfaces.BlobObjectType(c.SystemPackage)
	}
	return c
}

// Validate checks the configuration against the committee.
func (c Config) Validate(committee *interfaces.Committee) error {
	if c.SystemPackage == (common.Address{}) {
		return fmt.Errorf("system package address is required")
	}
	if c.BlobObjectType == "" {
		return fmt.Errorf("blob object type is required")
	}
	if committee == nil || len(committee.Nodes) == 0 {
		return fmt.Errorf("storage committee is empty")
	}
	if c.QuorumThreshold > committee.TotalWeight() {
		return fmt.Errorf("quorum threshold %d exceeds committee weight %d", c.QuorumThreshold, committee.TotalWeight())
	}
	if c.MaxConcurrentNodes < 0 {
		return fmt.Errorf("max concurrent nodes must not be negative")
	}
	return nil
}

// Quorum returns the confirmed weight required for the committee.
func (c Config) Quorum(committee *interfaces.Committee) uint64 {
	if c.QuorumThreshold > 0 {
		return c.QuorumThreshold
	}
	return committee.DefaultQuorum()
}
