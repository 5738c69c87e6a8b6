// Package storagenode implements the storage node protocol used to hand slivers
// to storage nodes and collect their signed confirmations.
//
// A node receives, for one blob:
//
//	PUT {endpoint}/v1/blobs/{blobId}/metadata                           JSON metadata
//	PUT {endpoint}/v1/blobs/{blobId}/slivers/{pairIndex}/primary        octet-stream
//	PUT {endpoint}/v1/blobs/{blobId}/slivers/{pairIndex}/secondary      octet-stream
//	GET {endpoint}/v1/blobs/{blobId}/confirmation/permanent
//	GET {endpoint}/v1/blobs/{blobId}/confirmation/deletable/{objectId}
//
// and answers the confirmation request with {"signature":"0x..."}.
package storagenode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/ruteri/blob-publisher/interfaces"
)

// DefaultTimeout is the per-request timeout towards a single node.
const DefaultTimeout = 60 * time.Second

// ErrNodeRejected is returned when a node answers with a non-success status.
var ErrNodeRejected = errors.New("storage node rejected request")

// Config tunes the HTTP client.
type Config struct {
	// Timeout bounds every single HTTP request.
	Timeout time.Duration
	// Retries is the number of retries on connection errors and 5xx responses.
	Retries      int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// ConfirmationResponse is the body of a confirmation response.
type ConfirmationResponse struct {
	Signature string `json:"signature"`
}

// Client implements interfaces.StorageNodeClient over HTTP.
type Client struct {
	http *retryablehttp.Client
	log  *slog.Logger
}

// NewClient creates a storage node client.
func NewClient(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	rc.Logger = log
	rc.RetryMax = cfg.Retries
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.RetryWaitMax
	}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{http: rc, log: log}
}

// StoreSlivers uploads metadata and slivers to the node and fetches its confirmation.
func (c *Client) StoreSlivers(ctx context.Context, node interfaces.StorageNode, upload interfaces.SliverUpload) (*interfaces.NodeConfirmation, error) {
	start := time.Now()
	base := blobURL(node.Endpoint, upload.BlobID)

	metadata, err := json.Marshal(upload.Metadata)
	if err != nil {
		return nil, fmt.Errorf("could not encode metadata: %w", err)
	}
	if err := c.put(ctx, base+"/metadata", "application/json", metadata); err != nil {
		return nil, fmt.Errorf("node %s metadata: %w", node.ID, err)
	}

	for _, pair := range upload.Slivers {
		for _, sliver := range []struct {
			kind interfaces.SliverType
			data []byte
		}{
			{interfaces.PrimarySliver, pair.Primary},
			{interfaces.SecondarySliver, pair.Secondary},
		} {
			url := fmt.Sprintf("%s/slivers/%d/%s", base, pair.Index, sliver.kind)
			if err := c.put(ctx, url, "application/octet-stream", sliver.data); err != nil {
				return nil, fmt.Errorf("node %s sliver %d/%s: %w", node.ID, pair.Index, sliver.kind, err)
			}
		}
	}

	signature, err := c.confirmation(ctx, base, upload)
	if err != nil {
		return nil, fmt.Errorf("node %s confirmation: %w", node.ID, err)
	}

	c.log.Debug("slivers stored",
		slog.String("node", node.ID),
		slog.String("blobId", upload.BlobID.String()),
		slog.Int("pairs", len(upload.Slivers)),
		slog.Duration("duration", time.Since(start)))

	return &interfaces.NodeConfirmation{
		NodeID:    node.ID,
		BlobID:    upload.BlobID,
		ObjectID:  upload.ObjectID,
		Deletable: upload.Deletable,
		Signature: signature,
	}, nil
}

func (c *Client) put(ctx context.Context, url, contentType string, body []byte) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return checkStatus(resp)
}

// do runs the request. The passthrough error handler may hand back a
// response together with an error; its body is closed here.
func (c *Client) do(req *retryablehttp.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) confirmation(ctx context.Context, base string, upload interfaces.SliverUpload) ([]byte, error) {
	url := base + "/confirmation/permanent"
	if upload.Deletable {
		url = base + "/confirmation/deletable/" + upload.ObjectID.Hex()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var out ConfirmationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("could not decode confirmation: %w", err)
	}

	signature, err := hexutil.Decode(out.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid confirmation signature encoding: %w", err)
	}
	return signature, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%w: %d %s", ErrNodeRejected, resp.StatusCode, string(bytes.TrimSpace(body)))
}

func blobURL(endpoint string, blobID interfaces.BlobID) string {
	return strings.TrimRight(endpoint, "/") + "/v1/blobs/" + blobID.String()
}
