package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ruteri/blob-publisher/interfaces"
	"github.com/ruteri/blob-publisher/upload"
)

// Archive persists certification checkpoints of failed uploads and receipts
// of certified ones, addressed by the hash of their JSON encoding.
type Archive struct {
	backend interfaces.StorageBackend
	log     *slog.Logger
}

// NewArchive creates an archive on top of a backend.
func NewArchive(backend interfaces.StorageBackend, log *slog.Logger) *Archive {
	if log == nil {
		log = slog.Default()
	}
	return &Archive{backend: backend, log: log}
}

// SaveCheckpoint stores a checkpoint for a later ResumeCertification.
func (a *Archive) SaveCheckpoint(ctx context.Context, cp *upload.Checkpoint) (interfaces.ContentID, error) {
	id, err := a.save(ctx, cp, interfaces.CheckpointType)
	if err != nil {
		return id, err
	}
	a.log.Info("saved certification checkpoint",
		slog.String("blobId", cp.BlobID.String()),
		slog.String("checkpoint", id.String()))
	return id, nil
}

// LoadCheckpoint reads a checkpoint back.
func (a *Archive) LoadCheckpoint(ctx context.Context, id interfaces.ContentID) (*upload.Checkpoint, error) {
	var cp upload.Checkpoint
	if err := a.load(ctx, id, interfaces.CheckpointType, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// SaveReceipt stores the result of a certified upload.
func (a *Archive) SaveReceipt(ctx context.Context, result *upload.Result) (interfaces.ContentID, error) {
	return a.save(ctx, result, interfaces.ReceiptType)
}

// LoadReceipt reads a receipt back.
func (a *Archive) LoadReceipt(ctx context.Context, id interfaces.ContentID) (*upload.Result, error) {
	var result upload.Result
	if err := a.load(ctx, id, interfaces.ReceiptType, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (a *Archive) save(ctx context.Context, v any, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return interfaces.ContentID{}, fmt.Errorf("could not encode %s: %w", contentType, err)
	}
	id, err := a.backend.Store(ctx, data, contentType)
	if err != nil {
		return id, fmt.Errorf("could not store %s: %w", contentType, err)
	}
	return id, nil
}

func (a *Archive) load(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType, v any) error {
	data, err := a.backend.Fetch(ctx, id, contentType)
	if err != nil {
		return fmt.Errorf("could not fetch %s %s: %w", contentType, id, err)
	}
	if interfaces.ComputeID(data) != id {
		return fmt.Errorf("%s %s does not match its content", contentType, id)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("could not decode %s %s: %w", contentType, id, err)
	}
	return nil
}
