package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const facilitatorTimeout = 10 * time.Second

// FacilitatorClient calls an optional external payment verifier. The remote
// API is not pinned to one provider, so the response is scanned for any of
// the field shapes seen in the wild: verified, valid, or status=="success".
// A facilitator is never load-bearing — callers treat any non-affirmative
// outcome as "ask the chain".
type FacilitatorClient struct {
	verifyURL string
	client    *http.Client
}

func NewFacilitatorClient(verifyURL string) *FacilitatorClient {
	return &FacilitatorClient{
		verifyURL: verifyURL,
		client:    &http.Client{Timeout: facilitatorTimeout},
	}
}

func (f *FacilitatorClient) Verify(ctx context.Context, req Request) (bool, error) {
	body, err := json.Marshal(map[string]any{
		"txSignature":    req.TxSignature,
		"paymentId":      req.PaymentID,
		"expectedAmount": req.ExpectedAmount.String(),
		"mint":           req.Mint,
		"recipient":      req.Recipient,
	})
	if err != nil {
		return false, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.verifyURL, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("facilitator status %d", resp.StatusCode)
	}

	var out struct {
		Verified bool   `json:"verified"`
		Valid    bool   `json:"valid"`
		Status   string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("facilitator response: %w", err)
	}
	return out.Verified || out.Valid || out.Status == "success", nil
}
