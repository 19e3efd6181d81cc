// Package chain reads confirmed transactions from the billing chain and
// exposes their token-balance tables for payment verification.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// TokenBalance is one row of a transaction's pre- or post- token-balance
// table. Amount is in base units of the mint.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       string
	Decimals     int
}

// Transaction is the slice of on-chain transaction state the verifier needs.
type Transaction struct {
	Signature         string
	Slot              uint64
	Failed            bool
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// Client fetches transactions at confirmed commitment.
type Client struct {
	rpc *rpc.Client
	log *zap.Logger
}

func NewClient(rpcURL string, log *zap.Logger) *Client {
	return &Client{rpc: rpc.New(rpcURL), log: log}
}

// Transaction looks up a transaction by signature. Returns (nil, nil) when
// the chain does not know the signature at confirmed commitment.
func (c *Client) Transaction(ctx context.Context, signature string) (*Transaction, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("parse signature: %w", err)
	}

	maxVersion := uint64(0)
	out, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, nil
		}
		c.log.Warn("getTransaction failed", zap.String("signature", signature), zap.Error(err))
		return nil, fmt.Errorf("getTransaction: %w", err)
	}
	if out == nil {
		return nil, nil
	}

	tx := &Transaction{
		Signature: signature,
		Slot:      out.Slot,
	}
	if out.Meta != nil {
		tx.Failed = out.Meta.Err != nil
		tx.PreTokenBalances = convertBalances(out.Meta.PreTokenBalances)
		tx.PostTokenBalances = convertBalances(out.Meta.PostTokenBalances)
	}
	return tx, nil
}

func convertBalances(in []rpc.TokenBalance) []TokenBalance {
	out := make([]TokenBalance, 0, len(in))
	for _, tb := range in {
		b := TokenBalance{
			AccountIndex: int(tb.AccountIndex),
			Mint:         tb.Mint.String(),
		}
		if tb.Owner != nil {
			b.Owner = tb.Owner.String()
		}
		if tb.UiTokenAmount != nil {
			b.Amount = tb.UiTokenAmount.Amount
			b.Decimals = int(tb.UiTokenAmount.Decimals)
		}
		out = append(out, b)
	}
	return out
}
