package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/blob-publisher/contracts"
	"github.com/ruteri/blob-publisher/interfaces"
)

// RegisterOptions are the attributes recorded with a blob registration.
type RegisterOptions struct {
	Owner interfaces.Address
	// Size overrides the unencoded length taken from the encoded blob.
	Size      uint64
	Deletable bool
	Epochs    uint32
}

// Registrar registers encoded blobs on the ledger.
type Registrar struct {
	ledger interfaces.LedgerClient
	cfg    Config
	log    *slog.Logger
}

// NewRegistrar creates a registration step.
func NewRegistrar(ledger interfaces.LedgerClient, cfg Config, log *slog.Logger) *Registrar {
	if log == nil {
		log = slog.Default()
	}
	return &Registrar{ledger: ledger, cfg: cfg.WithDefaults(), log: log}
}

// Register submits the registration, waits for finality and returns the
// created blob object in status Registered. A transaction that executed with
// a failure status yields ErrExecutionFailed; a successful one without a blob
// object of the configured type yields ErrObjectNotFound.
func (r *Registrar) Register(ctx context.Context, encoded *interfaces.EncodedBlob, opts RegisterOptions) (*interfaces.BlobObjectRecord, error) {
	start := time.Now()

	size := opts.Size
	if size == 0 {
		size = encoded.Size()
	}

	data, err := contracts.PackRegisterBlob(contracts.RegisterBlobParams{
		BlobID:       encoded.BlobID,
		RootHash:     encoded.RootHash,
		Size:         size,
		EncodingType: encoded.Metadata.EncodingType,
		Deletable:    opts.Deletable,
		Epochs:       opts.Epochs,
		Owner:        opts.Owner,
	})
	if err != nil {
		return nil, fmt.Errorf("could not encode registration: %w", err)
	}

	digest, err := r.ledger.Submit(ctx, &interfaces.Transaction{
		Kind:   interfaces.RegisterBlobTx,
		Sender: opts.Owner,
		Target: r.cfg.SystemPackage,
		Data:   data,
	})
	if errors.Is(err, interfaces.ErrExecutionReverted) {
		return nil, fmt.Errorf("%w: registration rejected: %w", ErrExecutionFailed, err)
	}
	if err != nil {
		return nil, fmt.Errorf("could not submit registration: %w", err)
	}

	effects, err := r.ledger.WaitForFinality(ctx, digest)
	if err != nil {
		return nil, fmt.Errorf("could not wait for registration %s: %w", digest.Hex(), err)
	}
	if !effects.Succeeded() {
		return nil, fmt.Errorf("%w: registration %s: %s", ErrExecutionFailed, digest.Hex(), effects.Error)
	}

	created, ok := effects.FindCreated(r.cfg.BlobObjectType)
	if !ok {
		return nil, fmt.Errorf("%w: registration %s created no %s", ErrObjectNotFound, digest.Hex(), r.cfg.BlobObjectType)
	}

	r.log.Info("blob registered",
		slog.String("blobId", encoded.BlobID.String()),
		slog.String("objectId", created.ObjectID.Hex()),
		slog.String("digest", digest.Hex()),
		slog.Duration("duration", time.Since(start)))

	return &interfaces.BlobObjectRecord{
		ObjectID:       created.ObjectID,
		BlobID:         encoded.BlobID,
		Owner:          opts.Owner,
		Status:         interfaces.BlobRegistered,
		RegisterDigest: digest,
	}, nil
}
