package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/blob-publisher/interfaces"
)

// namespaces maps content types to the directory or key prefix they live under.
var namespaces = map[interfaces.ContentType]string{
	interfaces.CheckpointType: "checkpoints",
	interfaces.ReceiptType:    "receipts",
}

func namespace(contentType interfaces.ContentType) (string, error) {
	ns, ok := namespaces[contentType]
	if !ok {
		return "", fmt.Errorf("unknown content type %d", contentType)
	}
	return ns, nil
}

// FileBackend stores archived content on the local file system, one
// directory per content type.
type FileBackend struct {
	baseDir string
	log     *slog.Logger
}

// NewFileBackend creates baseDir and its namespace directories.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if log == nil {
		log = slog.Default()
	}
	for _, ns := range namespaces {
		if err := os.MkdirAll(filepath.Join(baseDir, ns), 0o755); err != nil {
			return nil, fmt.Errorf("could not create %s directory: %w", ns, err)
		}
	}
	return &FileBackend{baseDir: baseDir, log: log}, nil
}

// Fetch reads content by ID. Missing files yield ErrContentNotFound.
func (b *FileBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	path, err := b.path(id, contentType)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, interfaces.ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", path, err)
	}

	b.log.Debug("fetched content from file", slog.String("path", path), slog.Int("size", len(data)))
	return data, nil
}

// Store writes data under its content ID. Writes go through a temporary
// file so readers never observe partial content.
func (b *FileBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)
	path, err := b.path(id, contentType)
	if err != nil {
		return id, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return id, fmt.Errorf("could not create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return id, fmt.Errorf("could not write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return id, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return id, fmt.Errorf("could not move content into place: %w", err)
	}

	b.log.Debug("stored content in file", slog.String("path", path), slog.String("contentId", id.String()))
	return id, nil
}

// Available reports whether the base directory is reachable.
func (b *FileBackend) Available(ctx context.Context) bool {
	if _, err := os.Stat(b.baseDir); err != nil {
		b.log.Debug("file backend unavailable", "err", err)
		return false
	}
	return true
}

func (b *FileBackend) Name() string {
	return "file-" + filepath.Base(b.baseDir)
}

func (b *FileBackend) LocationURI() string {
	return "file://" + b.baseDir
}

func (b *FileBackend) path(id interfaces.ContentID, contentType interfaces.ContentType) (string, error) {
	ns, err := namespace(contentType)
	if err != nil {
		return "", err
	}
	return filepath.Join(b.baseDir, ns, id.String()), nil
}
