package main

// checktx is an operator tool for payment reconciliation: it fetches a
// transaction, prints its token-balance deltas, and optionally runs the same
// verification the gateway applies to receipts.

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"

	"go.uber.org/zap"

	"github.com/archivepay/archive-gateway/internal/chain"
	"github.com/archivepay/archive-gateway/internal/verify"
)

func main() {
	rpcURL := flag.String("rpc", "https://api.mainnet-beta.solana.com", "chain RPC endpoint")
	mint := flag.String("mint", "", "expected billing mint (enables verification)")
	amount := flag.String("amount", "", "expected amount in base units")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: checktx [flags] <signature>")
		os.Exit(2)
	}
	sig := flag.Arg(0)

	log := zap.NewNop()
	client := chain.NewClient(*rpcURL, log)

	tx, err := client.Transaction(context.Background(), sig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lookup failed: %v\n", err)
		os.Exit(1)
	}
	if tx == nil {
		fmt.Println("tx not found at confirmed commitment")
		os.Exit(1)
	}

	fmt.Printf("slot:    %d\n", tx.Slot)
	fmt.Printf("failed:  %v\n", tx.Failed)
	pre := make(map[int]string, len(tx.PreTokenBalances))
	for _, b := range tx.PreTokenBalances {
		pre[b.AccountIndex] = b.Amount
	}
	for _, b := range tx.PostTokenBalances {
		fmt.Printf("account %d mint %s: %s -> %s\n", b.AccountIndex, b.Mint, pre[b.AccountIndex], b.Amount)
	}

	if *mint == "" || *amount == "" {
		return
	}
	expected, ok := new(big.Int).SetString(*amount, 10)
	if !ok {
		fmt.Fprintf(os.Stderr, "bad -amount %q\n", *amount)
		os.Exit(2)
	}
	v := verify.New(client, nil, log)
	res := v.Verify(context.Background(), verify.Request{
		TxSignature:    sig,
		ExpectedAmount: expected,
		Mint:           *mint,
	})
	if res.Valid {
		fmt.Println("verification: valid")
	} else {
		fmt.Printf("verification: invalid (%s)\n", res.Reason)
		os.Exit(1)
	}
}
