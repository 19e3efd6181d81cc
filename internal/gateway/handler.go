// Package gateway is the request pipeline: challenge unpaid requests, verify
// receipts, consume invoices, and proxy the JSON-RPC call upstream.
package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/archivepay/archive-gateway/internal/invoice"
	"github.com/archivepay/archive-gateway/internal/payment"
	"github.com/archivepay/archive-gateway/internal/pricing"
	"github.com/archivepay/archive-gateway/internal/provider"
	"github.com/archivepay/archive-gateway/internal/proxy"
	"github.com/archivepay/archive-gateway/internal/settle"
	"github.com/archivepay/archive-gateway/internal/verify"
)

const (
	maxMethodLen  = 100
	maxArrayParam = 10
)

// Config wires the pipeline's collaborators. Everything is an explicit
// dependency so the whole pipeline runs against doubles in tests.
type Config struct {
	Store         invoice.Store
	Policy        *pricing.Policy
	Verifier      *verify.Verifier
	Forwarder     *proxy.Forwarder
	Notifier      *settle.Notifier
	Registry      *provider.Registry
	WalletAddress string
	Mint          string
	TokenSymbol   string
	ChainTag      string
}

// Handler is the HTTP face of the gateway.
type Handler struct {
	cfg Config
	log *zap.Logger
}

func NewHandler(cfg Config, log *zap.Logger) *Handler {
	return &Handler{cfg: cfg, log: log}
}

// Register mounts the billing endpoint plus the observability routes.
func (h *Handler) Register(r *gin.Engine) {
	r.POST("/", h.handleRPC)
	r.POST("/rpc", h.handleRPC)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/stats", h.handleStats)
}

// rpcEnvelope is the inbound JSON-RPC request. ID and Params stay raw: they
// are forwarded verbatim.
type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func (h *Handler) handleRPC(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.invalidRequest(c, nil)
		return
	}

	var env rpcEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.invalidRequest(c, nil)
		return
	}
	if !envelopeValid(&env) {
		h.invalidRequest(c, env.ID)
		return
	}

	receiptHeader := c.GetHeader(payment.Header)
	if receiptHeader == "" {
		h.challenge(c, &env, payment.CodePaymentRequired, "Payment required")
		return
	}

	// ── PARSE ─────────────────────────────────────────────────────────────
	receipt, err := payment.DecodeReceipt(receiptHeader)
	if err != nil {
		h.reject(c, payment.CodeInvalidHeader, "invalid payment header", "")
		return
	}
	if err := receipt.Validate(); err != nil {
		h.reject(c, payment.CodeInvalidPayload, "invalid payment payload", "")
		return
	}

	ctx := c.Request.Context()

	// ── LOOKUP ────────────────────────────────────────────────────────────
	inv, err := h.cfg.Store.Get(ctx, receipt.PaymentID)
	if err != nil {
		h.storeUnavailable(c)
		return
	}
	if inv == nil {
		// Expired or never existed; mint a fresh challenge so the caller
		// can redo the flow.
		h.challenge(c, &env, payment.CodePaymentRequired, "Payment ID not found or expired")
		return
	}

	// ── CHECK-USED ────────────────────────────────────────────────────────
	if inv.Used {
		h.reject(c, payment.CodeAlreadyUsed, "payment already used", "")
		return
	}

	// ── VERIFY ────────────────────────────────────────────────────────────
	amount, err := decimal.NewFromString(inv.Amount)
	if err != nil {
		h.log.Error("invoice has unparseable amount",
			zap.String("paymentId", inv.PaymentID),
			zap.String("amount", inv.Amount),
		)
		h.internalError(c)
		return
	}
	result := h.cfg.Verifier.Verify(ctx, verify.Request{
		TxSignature:    receipt.TxSignature,
		PaymentID:      receipt.PaymentID,
		ExpectedAmount: h.cfg.Policy.BaseUnits(amount),
		Mint:           inv.Mint,
		Recipient:      inv.Recipient,
	})
	if !result.Valid {
		h.reject(c, payment.CodePaymentInvalid, "payment verification failed", result.Reason)
		return
	}

	// ── MARK-USED ─────────────────────────────────────────────────────────
	// Must commit before PROXY. A failure here means the caller has paid
	// for nothing; log everything operators need to reconcile.
	claimed, err := h.cfg.Store.MarkUsed(ctx, receipt.PaymentID)
	if errors.Is(err, invoice.ErrNotFound) {
		h.challenge(c, &env, payment.CodePaymentRequired, "Payment ID not found or expired")
		return
	}
	if err != nil {
		h.log.Error("mark-used failed after successful verification — manual reconciliation required",
			zap.String("paymentId", receipt.PaymentID),
			zap.String("txSignature", receipt.TxSignature),
			zap.Error(err),
		)
		h.internalError(c)
		return
	}
	if !claimed {
		h.reject(c, payment.CodeAlreadyUsed, "payment already used", "")
		return
	}

	// ── PROXY + settlement, concurrently ─────────────────────────────────
	settledCh := make(chan bool, 1)
	go func() {
		settledCh <- h.cfg.Notifier.Notify(ctx, receipt.TxSignature, receipt.PaymentID)
	}()

	respBody := h.cfg.Forwarder.Forward(ctx, body, env.Method, env.ID)
	settled := <-settledCh

	hdr, err := payment.EncodeSettlement(payment.Settlement{
		TxSignature: receipt.TxSignature,
		PaymentID:   receipt.PaymentID,
		Settled:     settled,
	})
	if err == nil {
		c.Header(payment.ResponseHeader, hdr)
	}
	c.Data(http.StatusOK, "application/json", respBody)
}

// challenge prices the request, mints an invoice, and emits the 402 body.
func (h *Handler) challenge(c *gin.Context, env *rpcEnvelope, code, message string) {
	amount := h.cfg.Policy.Price(env.Method, env.Params)
	inv := &invoice.Invoice{
		PaymentID: uuid.NewString(),
		Amount:    pricing.Display(amount),
		Mint:      h.cfg.Mint,
		Recipient: h.cfg.WalletAddress,
		Method:    env.Method,
		CreatedAt: time.Now().Unix(),
	}
	if err := h.cfg.Store.Create(c.Request.Context(), inv); err != nil {
		h.storeUnavailable(c)
		return
	}

	c.JSON(http.StatusPaymentRequired, payment.Required{
		Error:   code,
		Message: message,
		Accepts: []payment.Requirement{{
			Asset:          h.cfg.TokenSymbol,
			Chain:          h.cfg.ChainTag,
			Amount:         inv.Amount,
			PaymentAddress: h.cfg.WalletAddress,
			PaymentID:      inv.PaymentID,
			Scheme:         payment.Scheme,
			Method:         env.Method,
		}},
	})
}

// reject emits a 402 without minting a new invoice.
func (h *Handler) reject(c *gin.Context, code, message, details string) {
	c.JSON(http.StatusPaymentRequired, payment.Required{
		Error:   code,
		Message: message,
		Details: details,
	})
}

func (h *Handler) invalidRequest(c *gin.Context, id json.RawMessage) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   gin.H{"code": -32600, "message": "invalid request"},
	})
}

func (h *Handler) storeUnavailable(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": payment.CodeStoreUnavailable})
}

func (h *Handler) internalError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": payment.CodeInternalError})
}

func (h *Handler) handleStats(c *gin.Context) {
	st, err := h.cfg.Store.Stats(c.Request.Context())
	if err != nil {
		h.storeUnavailable(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"invoices":  st,
		"providers": h.cfg.Registry.Snapshot(),
	})
}

func envelopeValid(env *rpcEnvelope) bool {
	if env.JSONRPC != "2.0" {
		return false
	}
	if env.Method == "" || len(env.Method) > maxMethodLen {
		return false
	}
	if len(env.Params) > 0 && env.Params[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(env.Params, &arr); err != nil {
			return false
		}
		if len(arr) > maxArrayParam {
			return false
		}
	}
	return true
}
