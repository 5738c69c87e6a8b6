package interfaces

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

var (
	// ErrContentNotFound is returned when an archive holds no content under the requested ID.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendUnavailable is returned when an archive backend cannot be reached.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned for malformed or unsupported archive locations.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// ContentID addresses archived content by the SHA-256 of its bytes.
type ContentID [32]byte

// ComputeID returns the content ID of data.
func ComputeID(data []byte) ContentID {
	return sha256.Sum256(data)
}

// ParseContentID parses a hex content ID, with or without a 0x prefix.
func ParseContentID(s string) (ContentID, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return ContentID{}, fmt.Errorf("invalid content ID %q: %w", s, err)
	}
	if len(raw) != len(ContentID{}) {
		return ContentID{}, fmt.Errorf("invalid content ID %q: want %d bytes, got %d", s, len(ContentID{}), len(raw))
	}
	return ContentID(raw), nil
}

func (id ContentID) String() string {
	return hex.EncodeToString(id[:])
}

// ContentType selects the archive namespace content is kept under.
type ContentType int

const (
	// CheckpointType holds certification checkpoints of failed uploads.
	CheckpointType ContentType = iota
	// ReceiptType holds results of certified uploads.
	ReceiptType
)

func (ct ContentType) String() string {
	switch ct {
	case CheckpointType:
		return "checkpoint"
	case ReceiptType:
		return "receipt"
	default:
		return "unknown"
	}
}

// Archive location schemes.
const (
	SchemeFile = "file"
	SchemeS3   = "s3"
	SchemeIPFS = "ipfs"
)

// StorageBackendLocation is a parsed archive location URI such as
// s3://KEY:SECRET@bucket/prefix?region=eu-west-1.
type StorageBackendLocation struct {
	Raw    string
	Scheme string
	Host   string
	Path   string
	Query  url.Values

	user *url.Userinfo
}

// NewStorageBackendLocation parses uri and checks that its scheme is supported.
func NewStorageBackendLocation(uri string) (StorageBackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StorageBackendLocation{}, fmt.Errorf("%w: %w", ErrInvalidLocationURI, err)
	}

	switch parsed.Scheme {
	case SchemeFile, SchemeS3, SchemeIPFS:
	default:
		return StorageBackendLocation{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	return StorageBackendLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		user:   parsed.User,
	}, nil
}

func (loc StorageBackendLocation) String() string {
	return loc.Raw
}

// Credentials returns the user and secret embedded in the URI, if any.
func (loc StorageBackendLocation) Credentials() (user, secret string, ok bool) {
	if loc.user == nil {
		return "", "", false
	}
	secret, _ = loc.user.Password()
	return loc.user.Username(), secret, true
}

// Redacted returns the URI with embedded credentials masked, for logging.
func (loc StorageBackendLocation) Redacted() string {
	if loc.user == nil {
		return loc.Raw
	}
	return strings.Replace(loc.Raw, loc.user.String()+"@", "***@", 1)
}

// Param returns a query parameter.
func (loc StorageBackendLocation) Param(name string) string {
	return loc.Query.Get(name)
}

// ParamBool reports whether a query parameter is set to a true value.
func (loc StorageBackendLocation) ParamBool(name string) bool {
	v, err := strconv.ParseBool(loc.Query.Get(name))
	return err == nil && v
}

// StorageBackend keeps content-addressed blobs of archived state.
type StorageBackend interface {
	// Fetch returns the content stored under id, or ErrContentNotFound.
	Fetch(ctx context.Context, id ContentID, contentType ContentType) ([]byte, error)

	// Store saves data and returns its content ID.
	Store(ctx context.Context, data []byte, contentType ContentType) (ContentID, error)

	Available(ctx context.Context) bool

	// Name identifies the backend in logs.
	Name() string

	// LocationURI identifies the backend's location, without credentials.
	LocationURI() string
}

// StorageBackendFactory builds backends from archive locations.
type StorageBackendFactory interface {
	StorageBackendFor(loc StorageBackendLocation) (StorageBackend, error)

	// CreateMultiBackend aggregates the backends of every usable location.
	CreateMultiBackend(locs []StorageBackendLocation) (StorageBackend, error)
}
