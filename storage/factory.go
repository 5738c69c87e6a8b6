package storage

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/ruteri/blob-publisher/interfaces"
)

const (
	defaultIPFSPort    = "5001"
	defaultIPFSTimeout = 30 * time.Second
)

// StorageBackendFactory creates storage backends from location URIs.
type StorageBackendFactory struct {
	log *slog.Logger
}

// NewStorageBackendFactory creates a factory.
func NewStorageBackendFactory(log *slog.Logger) *StorageBackendFactory {
	if log == nil {
		log = slog.Default()
	}
	return &StorageBackendFactory{log: log}
}

// StorageBackendFor creates the backend for one location:
//
//	file:///var/lib/blob-publisher
//	s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=eu-west-1&endpoint=https://minio:9000&path_style=true
//	ipfs://127.0.0.1:5001/blob-publisher?timeout=30s
func (f *StorageBackendFactory) StorageBackendFor(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	f.log.Debug("creating storage backend", slog.String("scheme", loc.Scheme), slog.String("host", loc.Host))

	switch loc.Scheme {
	case interfaces.SchemeFile:
		return f.fileBackend(loc)
	case interfaces.SchemeS3:
		return f.s3Backend(loc)
	case interfaces.SchemeIPFS:
		return f.ipfsBackend(loc)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
}

// CreateMultiBackend creates every backend it can and aggregates them.
// Locations that fail to produce a backend are logged and skipped.
func (f *StorageBackendFactory) CreateMultiBackend(locs []interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	backends := make([]interfaces.StorageBackend, 0, len(locs))
	for _, loc := range locs {
		backend, err := f.StorageBackendFor(loc)
		if err != nil {
			f.log.Warn("could not create storage backend", slog.String("location", loc.Redacted()), "err", err)
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid storage backends among %d locations", len(locs))
	}
	return NewMultiStorageBackend(backends, f.log), nil
}

func (f *StorageBackendFactory) fileBackend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	// file://./relative/dir puts "." in the host.
	dir := loc.Path
	if loc.Host != "" {
		dir = loc.Host + "/" + strings.TrimPrefix(loc.Path, "/")
	}
	if dir == "" {
		return nil, fmt.Errorf("%w: empty path in %s", interfaces.ErrInvalidLocationURI, loc.Raw)
	}
	return NewFileBackend(dir, f.log)
}

func (f *StorageBackendFactory) s3Backend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	cfg := S3Config{
		Bucket:    loc.Host,
		Prefix:    loc.Path,
		Region:    loc.Param("region"),
		Endpoint:  loc.Param("endpoint"),
		PathStyle: loc.ParamBool("path_style"),
	}
	if user, secret, ok := loc.Credentials(); ok {
		cfg.AccessKey = user
		cfg.SecretKey = secret
	}
	return NewS3Backend(cfg, f.log)
}

func (f *StorageBackendFactory) ipfsBackend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	if loc.Host == "" {
		return nil, fmt.Errorf("%w: ipfs host is required", interfaces.ErrInvalidLocationURI)
	}
	addr := loc.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, defaultIPFSPort)
	}

	timeout := defaultIPFSTimeout
	if raw := loc.Param("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid ipfs timeout %q", interfaces.ErrInvalidLocationURI, raw)
		}
		timeout = parsed
	}

	return NewIPFSBackend(addr, loc.Path, timeout, f.log), nil
}
