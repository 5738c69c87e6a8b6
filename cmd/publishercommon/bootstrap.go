// Package publishercommon wires the upload orchestrator from flags and the
// config file for the publisher binaries.
package publishercommon

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/blob-publisher/cmd/flags"
	"github.com/ruteri/blob-publisher/config"
	"github.com/ruteri/blob-publisher/encoder"
	"github.com/ruteri/blob-publisher/funding"
	"github.com/ruteri/blob-publisher/interfaces"
	"github.com/ruteri/blob-publisher/ledger"
	"github.com/ruteri/blob-publisher/storage"
	"github.com/ruteri/blob-publisher/storagenode"
	"github.com/ruteri/blob-publisher/upload"
	"github.com/urfave/cli/v2"
)

var (
	devSystemPackage   = common.HexToAddress("0x0000000000000000000000000000000000005157")
	devExchangePackage = common.HexToAddress("0x0000000000000000000000000000000000000e8c")
	devOwner           = common.HexToAddress("0x000000000000000000000000000000000000a11c")
)

// Publisher is everything a command needs to upload and inspect blobs.
type Publisher struct {
	Config       *config.Config
	Orchestrator *upload.Orchestrator
	Ledger       interfaces.LedgerClient
	// Archive is nil when no archive locations are configured.
	Archive *storage.Archive
	Owner   interfaces.Address

	close func()
}

func (p *Publisher) Close() {
	if p.close != nil {
		p.close()
	}
}

// SetupPublisher builds the orchestrator. With --dev the ledger, committee
// and storage nodes are in-memory and the config file is optional.
func SetupPublisher(cCtx *cli.Context, logger *slog.Logger) (*Publisher, error) {
	cfgPath := cCtx.String(flags.ConfigFlag.Name)
	dev := cCtx.Bool(flags.DevFlag.Name)

	var cfg *config.Config
	switch {
	case cfgPath != "":
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	case dev:
		cfg = &config.Config{Environment: "dev"}
	default:
		return nil, errors.New("--config is required outside of --dev")
	}

	if rpc := cCtx.String(flags.RpcAddrFlag.Name); rpc != "" {
		cfg.Network.RPCURL = rpc
	}

	var p *Publisher
	var err error
	if dev {
		p, err = setupDev(cfg, cCtx.Int(flags.DevNodesFlag.Name), logger)
	} else {
		p, err = setupNetwork(cCtx.Context, cfg, logger)
	}
	if err != nil {
		return nil, err
	}

	locs, err := cfg.ArchiveLocations()
	if err != nil {
		p.Close()
		return nil, err
	}
	if len(locs) > 0 {
		backend, err := storage.NewStorageBackendFactory(logger).CreateMultiBackend(locs)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.Archive = storage.NewArchive(backend, logger)
		logger.Info("checkpoint archive enabled", "backend", backend.Name())
	}

	return p, nil
}

func setupDev(cfg *config.Config, nodeCount int, logger *slog.Logger) (*Publisher, error) {
	network, nodes, err := storagenode.NewMemoryNetwork(nodeCount)
	if err != nil {
		return nil, err
	}
	committee, err := interfaces.NewCommittee(nodes)
	if err != nil {
		return nil, err
	}
	enc, err := encoder.NewDevEncoder(committee)
	if err != nil {
		return nil, err
	}

	uploadCfg := cfg.UploadConfig()
	uploadCfg.SystemPackage = devSystemPackage
	mem := ledger.NewMemoryLedger(devSystemPackage)
	mem.SetCommittee(committee)
	uploadCfg.BlobObjectType = mem.BlobObjectType()

	owner := devOwner
	if cfg.PrivateKey != "" {
		key, err := parseKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		owner = crypto.PubkeyToAddress(key.PublicKey)
	}

	fundingCfg, err := cfg.FundingConfig()
	if err != nil {
		return nil, err
	}
	mem.SetBalance(owner, interfaces.NativeToken, new(big.Int).Mul(big.NewInt(10), funding.GasTokenUnit))
	if !uploadCfg.PaymentToken.IsNative() {
		fundingCfg.ExchangeObjects = []interfaces.ObjectID{mem.AddExchange(devExchangePackage, uploadCfg.PaymentToken)}
	}
	funds := funding.NewProvisioner(mem, nil, fundingCfg, logger)

	orchestrator, err := upload.NewOrchestrator(uploadCfg, committee, mem, enc, network, funds, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("running against in-memory network",
		"nodes", nodeCount,
		"owner", owner.Hex(),
		"quorum", uploadCfg.Quorum(committee))

	return &Publisher{
		Config:       cfg,
		Orchestrator: orchestrator,
		Ledger:       mem,
		Owner:        owner,
	}, nil
}

func setupNetwork(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Publisher, error) {
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("%s is not set", config.EnvPrivateKey)
	}
	key, err := parseKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)

	uploadCfg := cfg.UploadConfig()
	committee, err := cfg.StorageCommittee()
	if err != nil {
		return nil, err
	}

	logger.Info("Connecting to ledger RPC", "address", cfg.Network.RPCURL)
	eth, client, err := ledger.DialEthLedger(ctx, cfg.Network.RPCURL, uploadCfg.SystemPackage, logger)
	if err != nil {
		return nil, err
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("could not read chain id: %w", err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		client.Close()
		return nil, err
	}
	eth.SetTransactOpts(auth)
	eth.SetPollInterval(cfg.PollInterval())

	var faucet interfaces.Faucet
	if cfg.Network.FaucetURL != "" {
		faucet = funding.NewHTTPFaucet(cfg.Network.FaucetURL, cfg.FaucetTimeout(), logger)
	}
	fundingCfg, err := cfg.FundingConfig()
	if err != nil {
		client.Close()
		return nil, err
	}
	funds := funding.NewProvisioner(eth, faucet, fundingCfg, logger)

	enc, err := encoder.NewDevEncoder(committee)
	if err != nil {
		client.Close()
		return nil, err
	}
	nodes := storagenode.NewClient(cfg.NodeClientConfig(), logger)

	orchestrator, err := upload.NewOrchestrator(uploadCfg, committee, eth, enc, nodes, funds, logger)
	if err != nil {
		client.Close()
		return nil, err
	}

	logger.Info("publisher configured",
		"owner", owner.Hex(),
		"chainId", chainID.String(),
		"nodes", len(committee.Nodes),
		"quorum", uploadCfg.Quorum(committee))

	return &Publisher{
		Config:       cfg,
		Orchestrator: orchestrator,
		Ledger:       eth,
		Owner:        owner,
		close:        client.Close,
	}, nil
}

func parseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", config.EnvPrivateKey, err)
	}
	return key, nil
}
