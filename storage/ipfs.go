package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/blob-publisher/interfaces"
)

// IPFSBackend archives content in the mutable file system of an IPFS node,
// under root/<namespace>/<content id>.
type IPFSBackend struct {
	shell   *shell.Shell
	apiAddr string
	root    string
	log     *slog.Logger
}

// NewIPFSBackend connects to the node API at apiAddr (host:port). Requests
// that do not carry their own deadline are bounded by timeout.
func NewIPFSBackend(apiAddr, root string, timeout time.Duration, log *slog.Logger) *IPFSBackend {
	if log == nil {
		log = slog.Default()
	}
	if root == "" {
		root = "/blob-publisher"
	}
	sh := shell.NewShellWithClient(apiAddr, &http.Client{Timeout: timeout})
	return &IPFSBackend{shell: sh, apiAddr: apiAddr, root: "/" + strings.Trim(root, "/"), log: log}
}

// Fetch reads content from the node's file system.
func (b *IPFSBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	start := time.Now()
	p, err := b.path(id, contentType)
	if err != nil {
		return nil, err
	}

	reader, err := b.shell.FilesRead(ctx, p)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			return nil, interfaces.ErrContentNotFound
		}
		return nil, fmt.Errorf("%w: could not read %s from ipfs: %w", interfaces.ErrBackendUnavailable, p, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("could not read %s from ipfs: %w", p, err)
	}

	b.log.Debug("fetched content from ipfs",
		slog.String("path", p),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))
	return data, nil
}

// Store writes data under its content ID, creating parent directories.
func (b *IPFSBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)
	p, err := b.path(id, contentType)
	if err != nil {
		return id, err
	}

	err = b.shell.FilesWrite(ctx, p, bytes.NewReader(data),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		return id, fmt.Errorf("could not write %s to ipfs: %w", p, err)
	}

	b.log.Debug("stored content in ipfs", slog.String("path", p), slog.String("contentId", id.String()))
	return id, nil
}

// Available reports whether the node API answers.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

func (b *IPFSBackend) Name() string {
	return "ipfs-" + b.apiAddr
}

func (b *IPFSBackend) LocationURI() string {
	return fmt.Sprintf("ipfs://%s%s", b.apiAddr, b.root)
}

func (b *IPFSBackend) path(id interfaces.ContentID, contentType interfaces.ContentType) (string, error) {
	ns, err := namespace(contentType)
	if err != nil {
		return "", err
	}
	return path.Join(b.root, ns, id.String()), nil
}
