package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/archivepay/archive-gateway/internal/provider"
)

var envelope = []byte(`{"jsonrpc":"2.0","id":1,"method":"getBlock","params":[14000000]}`)

func registryWith(t *testing.T, urls ...string) *provider.Registry {
	t.Helper()
	r := provider.NewRegistry(zap.NewNop())
	for i, u := range urls {
		r.Add(provider.Provider{
			ID:         string(rune('a' + i)),
			Name:       u,
			URL:        u,
			Tier:       provider.TierPublic,
			Reputation: float64(90 - i), // earlier providers score higher
			Uptime:     99,
			LatencyMs:  100,
			Features:   []string{provider.FeatureHistorical},
		})
	}
	return r
}

func TestForwardVerbatim(t *testing.T) {
	var gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"blockhash":"H"}}`)) //nolint:errcheck
	}))
	defer upstream.Close()

	reg := registryWith(t, upstream.URL)
	f := NewForwarder(reg, zap.NewNop())

	resp := f.Forward(context.Background(), envelope, "getBlock", json.RawMessage("1"))
	if string(resp) != `{"jsonrpc":"2.0","id":1,"result":{"blockhash":"H"}}` {
		t.Errorf("response not verbatim: %s", resp)
	}
	if gotBody != string(envelope) {
		t.Errorf("envelope not forwarded verbatim: %s", gotBody)
	}

	h, _ := reg.HealthOf("a")
	if h.Status != provider.StatusHealthy || h.ConsecutiveFailures != 0 {
		t.Errorf("success not reported: %+v", h)
	}
}

func TestForwardFailover(t *testing.T) {
	var aCalls, bCalls atomic.Int32
	a := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		aCalls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer a.Close()
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bCalls.Add(1)
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"from-b"}`)) //nolint:errcheck
	}))
	defer b.Close()

	reg := registryWith(t, a.URL, b.URL)
	f := NewForwarder(reg, zap.NewNop())

	resp := f.Forward(context.Background(), envelope, "getBlock", json.RawMessage("1"))
	if string(resp) != `{"jsonrpc":"2.0","id":1,"result":"from-b"}` {
		t.Errorf("expected b's body, got %s", resp)
	}
	if aCalls.Load() != 1 || bCalls.Load() != 1 {
		t.Errorf("calls a=%d b=%d", aCalls.Load(), bCalls.Load())
	}

	ha, _ := reg.HealthOf("a")
	hb, _ := reg.HealthOf("b")
	if ha.ConsecutiveFailures != 1 {
		t.Errorf("a failures = %d, want 1", ha.ConsecutiveFailures)
	}
	if hb.ConsecutiveFailures != 0 || hb.Status != provider.StatusHealthy {
		t.Errorf("b health: %+v", hb)
	}
}

func TestForwardAllDown(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	alsoDown := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer alsoDown.Close()

	reg := registryWith(t, down.URL, alsoDown.URL)
	f := NewForwarder(reg, zap.NewNop())

	resp := f.Forward(context.Background(), envelope, "getBlock", json.RawMessage("1"))

	var env struct {
		JSONRPC string `json:"jsonrpc"`
		ID      int    `json:"id"`
		Error   struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp, &env); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, resp)
	}
	if env.Error.Code != -32603 {
		t.Errorf("code %d, want -32603", env.Error.Code)
	}
	if env.ID != 1 {
		t.Errorf("id %d, want 1", env.ID)
	}
}

func TestForwardNoProviders(t *testing.T) {
	reg := provider.NewRegistry(zap.NewNop())
	f := NewForwarder(reg, zap.NewNop())
	resp := f.Forward(context.Background(), envelope, "getBlock", nil)

	var env struct {
		Error struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp, &env); err != nil || env.Error.Code != -32603 {
		t.Errorf("expected -32603 envelope, got %s", resp)
	}
}
