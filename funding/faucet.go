package funding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/ruteri/blob-publisher/interfaces"
)

// FaucetRequest is the body of a faucet gas request.
type FaucetRequest struct {
	FixedAmountRequest FixedAmountRequest `json:"FixedAmountRequest"`
}

// FixedAmountRequest asks the faucet for its fixed amount of gas.
type FixedAmountRequest struct {
	Recipient string `json:"recipient"`
}

// FaucetResponse is the faucet answer. Status is the string "Success" or a
// structured failure.
type FaucetResponse struct {
	Status json.RawMessage `json:"status"`
}

// HTTPFaucet requests gas from a faucet service.
type HTTPFaucet struct {
	host string
	http *retryablehttp.Client
}

// NewHTTPFaucet creates a faucet client. Requests are not retried; the
// caller decides whether to try again.
func NewHTTPFaucet(host string, timeout time.Duration, log *slog.Logger) *HTTPFaucet {
	if log == nil {
		log = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: timeout}
	rc.Logger = log
	rc.RetryMax = 0
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPFaucet{host: strings.TrimRight(host, "/"), http: rc}
}

// RequestFunds implements interfaces.Faucet.
func (f *HTTPFaucet) RequestFunds(ctx context.Context, recipient interfaces.Address) error {
	body, err := json.Marshal(FaucetRequest{FixedAmountRequest: FixedAmountRequest{Recipient: recipient.Hex()}})
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, f.host+"/v2/gas", body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("faucet request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("could not read faucet response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("faucet returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var out FaucetResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("could not decode faucet response: %w", err)
	}

	var status string
	if err := json.Unmarshal(out.Status, &status); err != nil || status != "Success" {
		return fmt.Errorf("faucet request rejected: %s", bytes.TrimSpace(out.Status))
	}

	return nil
}
