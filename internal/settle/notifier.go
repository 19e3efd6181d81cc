// Package settle performs best-effort settlement notification to an
// external facilitator. It never gates serving the RPC response.
package settle

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const notifyTimeout = 10 * time.Second

type Notifier struct {
	settleURL string
	chainTag  string
	client    *http.Client
	log       *zap.Logger
}

func NewNotifier(settleURL, chainTag string, log *zap.Logger) *Notifier {
	return &Notifier{
		settleURL: settleURL,
		chainTag:  chainTag,
		client:    &http.Client{Timeout: notifyTimeout},
		log:       log,
	}
}

// Notify reports the consumed payment to the facilitator and reduces every
// outcome to a single settled boolean. With no facilitator configured there
// is nothing to notify and the payment counts as settled.
func (n *Notifier) Notify(ctx context.Context, txSignature, paymentID string) bool {
	if n.settleURL == "" {
		return true
	}

	body, err := json.Marshal(map[string]string{
		"txSignature": txSignature,
		"paymentId":   paymentID,
		"chain":       n.chainTag,
	})
	if err != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.settleURL, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn("settlement notify failed",
			zap.String("paymentId", paymentID),
			zap.Error(err),
		)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		n.log.Warn("settlement notify rejected",
			zap.String("paymentId", paymentID),
			zap.Int("status", resp.StatusCode),
		)
		return false
	}
	return true
}
