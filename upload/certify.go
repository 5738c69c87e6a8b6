package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ruteri/blob-publisher/contracts"
	"github.com/ruteri/blob-publisher/interfaces"
)

// CertifyRequest carries the confirmations proving a quorum stores the blob.
type CertifyRequest struct {
	BlobID        interfaces.BlobID
	ObjectID      interfaces.ObjectID
	Deletable     bool
	Sender        interfaces.Address
	Confirmations *ConfirmationSet
}

// Certifier submits certification transactions.
type Certifier struct {
	ledger    interfaces.LedgerClient
	committee *interfaces.Committee
	cfg       Config
	log       *slog.Logger
}

// NewCertifier creates a certification step.
func NewCertifier(ledger interfaces.LedgerClient, committee *interfaces.Committee, cfg Config, log *slog.Logger) *Certifier {
	if log == nil {
		log = slog.Default()
	}
	return &Certifier{ledger: ledger, committee: committee, cfg: cfg.WithDefaults(), log: log}
}

// Certify submits the confirmation set and waits for finality. It refuses to
// submit anything below quorum, independently of what the set claims.
func (c *Certifier) Certify(ctx context.Context, req CertifyRequest) (interfaces.TransactionDigest, error) {
	start := time.Now()

	signers, signatures, weight := c.collect(req)
	quorum := c.cfg.Quorum(c.committee)
	if weight < quorum {
		return interfaces.TransactionDigest{}, &QuorumError{Required: quorum, Confirmed: weight}
	}

	data, err := contracts.PackCertifyBlob(contracts.CertifyBlobParams{
		ObjectID:   req.ObjectID,
		BlobID:     req.BlobID,
		Deletable:  req.Deletable,
		Signers:    signers,
		Signatures: signatures,
	})
	if err != nil {
		return interfaces.TransactionDigest{}, fmt.Errorf("could not encode certification: %w", err)
	}

	digest, err := c.ledger.Submit(ctx, &interfaces.Transaction{
		Kind:   interfaces.CertifyBlobTx,
		Sender: req.Sender,
		Target: c.cfg.SystemPackage,
		Data:   data,
	})
	if errors.Is(err, interfaces.ErrExecutionReverted) {
		return interfaces.TransactionDigest{}, fmt.Errorf("%w: certification rejected: %w", ErrExecutionFailed, err)
	}
	if err != nil {
		return interfaces.TransactionDigest{}, fmt.Errorf("could not submit certification: %w", err)
	}

	effects, err := c.ledger.WaitForFinality(ctx, digest)
	if err != nil {
		return digest, fmt.Errorf("could not wait for certification %s: %w", digest.Hex(), err)
	}
	if !effects.Succeeded() {
		return digest, fmt.Errorf("%w: certification %s: %s", ErrExecutionFailed, digest.Hex(), effects.Error)
	}

	if c.cfg.VerifyCertified {
		if err := c.verify(ctx, req); err != nil {
			return digest, err
		}
	}

	c.log.Info("blob certified",
		slog.String("blobId", req.BlobID.String()),
		slog.String("objectId", req.ObjectID.Hex()),
		slog.String("digest", digest.Hex()),
		slog.Int("signers", len(signers)),
		slog.Duration("duration", time.Since(start)))

	return digest, nil
}

// collect returns the distinct committee signers that confirmed this blob,
// ordered by committee index, and their total weight.
func (c *Certifier) collect(req CertifyRequest) ([]uint16, [][]byte, uint64) {
	if req.Confirmations == nil {
		return nil, nil, 0
	}

	byIndex := make(map[uint16]interfaces.NodeConfirmation)
	for _, conf := range req.Confirmations.Confirmations {
		if conf.BlobID != req.BlobID || conf.Deletable != req.Deletable {
			continue
		}
		idx := c.committee.Index(conf.NodeID)
		if idx < 0 || uint16(idx) != conf.NodeIndex {
			continue
		}
		byIndex[conf.NodeIndex] = conf
	}

	indices := make([]uint16, 0, len(byIndex))
	for idx := range byIndex {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	var weight uint64
	signatures := make([][]byte, 0, len(indices))
	for _, idx := range indices {
		weight += c.committee.Nodes[idx].Weight
		signatures = append(signatures, byIndex[idx].Signature)
	}
	return indices, signatures, weight
}

func (c *Certifier) verify(ctx context.Context, req CertifyRequest) error {
	obj, err := c.ledger.Object(ctx, req.ObjectID)
	if err != nil {
		if errors.Is(err, interfaces.ErrObjectNotFound) {
			return fmt.Errorf("%w: %w", ErrNotCertified, err)
		}
		return fmt.Errorf("could not read blob object %s: %w", req.ObjectID.Hex(), err)
	}

	blob, err := decodeBlobObject(obj, c.cfg.BlobObjectType)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotCertified, err)
	}
	if blob.BlobID != req.BlobID || !blob.Certified {
		return fmt.Errorf("%w: object %s", ErrNotCertified, req.ObjectID.Hex())
	}
	return nil
}

func decodeBlobObject(obj *interfaces.LedgerObject, blobType string) (*contracts.BlobObject, error) {
	if obj.Type != blobType {
		return nil, fmt.Errorf("object %s has type %s, expected %s", obj.ID.Hex(), obj.Type, blobType)
	}
	return contracts.DecodeBlobObject(obj.Data)
}
