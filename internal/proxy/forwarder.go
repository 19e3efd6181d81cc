// Package proxy forwards JSON-RPC envelopes to upstream providers, failing
// over across the registry when a provider misbehaves.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/archivepay/archive-gateway/internal/provider"
)

const upstreamTimeout = 30 * time.Second

// Forwarder posts envelopes verbatim to a selected provider. No body
// transformation in either direction.
type Forwarder struct {
	registry *provider.Registry
	client   *http.Client
	log      *zap.Logger
}

func NewForwarder(registry *provider.Registry, log *zap.Logger) *Forwarder {
	return &Forwarder{
		registry: registry,
		client:   &http.Client{Timeout: upstreamTimeout},
		log:      log,
	}
}

// Forward sends the raw envelope to the best provider for the method, then
// walks the remaining providers in registry order on failure. When every
// provider fails it returns a synthesised -32603 error envelope; by this
// point the payment is spent, so the caller still gets a well-formed
// JSON-RPC response.
func (f *Forwarder) Forward(ctx context.Context, body []byte, method string, id json.RawMessage) []byte {
	primary, ok := f.registry.Select(method, false)
	if !ok {
		return errorEnvelope(id, -32603, "no upstream providers configured")
	}

	if resp, err := f.attempt(ctx, primary, body); err == nil {
		f.registry.ReportSuccess(primary.ID)
		return resp
	} else {
		f.registry.ReportFailure(primary.ID)
		f.log.Warn("primary provider failed",
			zap.String("provider", primary.ID),
			zap.String("method", method),
			zap.Error(err),
		)
	}

	for _, p := range f.registry.All() {
		if p.ID == primary.ID {
			continue
		}
		resp, err := f.attempt(ctx, p, body)
		if err == nil {
			f.registry.ReportSuccess(p.ID)
			return resp
		}
		f.registry.ReportFailure(p.ID)
		f.log.Warn("fallback provider failed",
			zap.String("provider", p.ID),
			zap.String("method", method),
			zap.Error(err),
		)
	}

	f.log.Error("all upstream providers failed", zap.String("method", method))
	return errorEnvelope(id, -32603, "all upstream providers unavailable")
}

func (f *Forwarder) attempt(ctx context.Context, p provider.Provider, body []byte) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, upstreamTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, &statusError{code: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

type statusError struct{ code int }

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream status %d", e.code)
}

func errorEnvelope(id json.RawMessage, code int, message string) []byte {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	env := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"code": code, "message": message},
	}
	out, _ := json.Marshal(env)
	return out
}
