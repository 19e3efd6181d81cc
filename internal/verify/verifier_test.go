package verify

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/archivepay/archive-gateway/internal/chain"
)

const (
	testMint      = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	testRecipient = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	testSig       = "5wHu1qwD7q5ifaN5nwdcDqNFo53GJqa7nLp2BeeEpcHCusb4GzARz4GjgzsEHMkBMgCJMuWESXDFicHQoZWZfVFA"
)

// fakeChain returns a canned transaction, error, or nil.
type fakeChain struct {
	tx  *chain.Transaction
	err error
}

func (f *fakeChain) Transaction(context.Context, string) (*chain.Transaction, error) {
	return f.tx, f.err
}

func transferTx(mint, preAmt, postAmt string) *chain.Transaction {
	return &chain.Transaction{
		Signature: testSig,
		Slot:      250000000,
		PreTokenBalances: []chain.TokenBalance{
			{AccountIndex: 1, Mint: mint, Owner: testRecipient, Amount: preAmt, Decimals: 6},
		},
		PostTokenBalances: []chain.TokenBalance{
			{AccountIndex: 1, Mint: mint, Owner: testRecipient, Amount: postAmt, Decimals: 6},
		},
	}
}

func req(amount int64) Request {
	return Request{
		TxSignature:    testSig,
		PaymentID:      "11111111-1111-4111-8111-111111111111",
		ExpectedAmount: big.NewInt(amount),
		Mint:           testMint,
		Recipient:      testRecipient,
	}
}

func TestVerifyHappyPath(t *testing.T) {
	v := New(&fakeChain{tx: transferTx(testMint, "1000000", "1001000")}, nil, zap.NewNop())
	res := v.Verify(context.Background(), req(1000))
	if !res.Valid {
		t.Fatalf("expected valid, got reason %q", res.Reason)
	}
}

func TestVerifyTxNotFound(t *testing.T) {
	v := New(&fakeChain{}, nil, zap.NewNop())
	res := v.Verify(context.Background(), req(1000))
	if res.Valid || res.Reason != "tx not found" {
		t.Fatalf("got %+v", res)
	}
}

func TestVerifyTxFailed(t *testing.T) {
	tx := transferTx(testMint, "1000000", "1001000")
	tx.Failed = true
	v := New(&fakeChain{tx: tx}, nil, zap.NewNop())
	res := v.Verify(context.Background(), req(1000))
	if res.Valid || res.Reason != "tx failed" {
		t.Fatalf("got %+v", res)
	}
}

func TestVerifyNoBalanceTables(t *testing.T) {
	tx := &chain.Transaction{Signature: testSig}
	v := New(&fakeChain{tx: tx}, nil, zap.NewNop())
	res := v.Verify(context.Background(), req(1000))
	if res.Valid || res.Reason != "no token balance changes" {
		t.Fatalf("got %+v", res)
	}
}

func TestVerifyChainError(t *testing.T) {
	v := New(&fakeChain{err: errors.New("rpc timeout")}, nil, zap.NewNop())
	res := v.Verify(context.Background(), req(1000))
	if res.Valid {
		t.Fatal("chain error must fail closed")
	}
	if !strings.Contains(res.Reason, "chain lookup failed") {
		t.Errorf("reason should name the condition, got %q", res.Reason)
	}
}

func TestVerifyWrongMint(t *testing.T) {
	otherMint := "So11111111111111111111111111111111111111112"
	v := New(&fakeChain{tx: transferTx(otherMint, "1000000", "1001000")}, nil, zap.NewNop())
	res := v.Verify(context.Background(), req(1000))
	if res.Valid {
		t.Fatal("wrong mint accepted")
	}
	if !strings.Contains(res.Reason, "wrong mint") ||
		!strings.Contains(res.Reason, otherMint) ||
		!strings.Contains(res.Reason, testMint) {
		t.Errorf("diagnostic should carry both mints, got %q", res.Reason)
	}
}

// TestVerifyTolerance pins the 100-base-unit boundary: a delta off by 99 is
// accepted, off by 100 is not.
func TestVerifyTolerance(t *testing.T) {
	cases := []struct {
		post  string
		valid bool
	}{
		{"1001099", true},  // delta 1099, |1099-1000| = 99
		{"1001100", false}, // delta 1100, |1100-1000| = 100
		{"1000901", true},  // delta 901, |901-1000| = 99
		{"1000900", false}, // delta 900, |900-1000| = 100
	}
	for _, c := range cases {
		v := New(&fakeChain{tx: transferTx(testMint, "1000000", c.post)}, nil, zap.NewNop())
		res := v.Verify(context.Background(), req(1000))
		if res.Valid != c.valid {
			t.Errorf("post=%s: valid=%v, want %v (reason %q)", c.post, res.Valid, c.valid, res.Reason)
		}
	}
}

func TestVerifyDebitIgnored(t *testing.T) {
	// The payer's side of the transfer is a negative delta; only credits count.
	v := New(&fakeChain{tx: transferTx(testMint, "1001000", "1000000")}, nil, zap.NewNop())
	res := v.Verify(context.Background(), req(1000))
	if res.Valid {
		t.Fatal("debited account accepted as payment")
	}
}

func TestVerifyFreshTokenAccount(t *testing.T) {
	// Post entry with no matching pre entry: credited from zero.
	tx := &chain.Transaction{
		Signature: testSig,
		PreTokenBalances: []chain.TokenBalance{
			{AccountIndex: 0, Mint: testMint, Amount: "5000", Decimals: 6},
		},
		PostTokenBalances: []chain.TokenBalance{
			{AccountIndex: 0, Mint: testMint, Amount: "4000", Decimals: 6},
			{AccountIndex: 2, Mint: testMint, Amount: "1000", Decimals: 6},
		},
	}
	v := New(&fakeChain{tx: tx}, nil, zap.NewNop())
	res := v.Verify(context.Background(), req(1000))
	if !res.Valid {
		t.Fatalf("fresh token account credit rejected: %q", res.Reason)
	}
}

func TestFacilitatorTrustedWhenValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"verified": true}`)) //nolint:errcheck
	}))
	defer srv.Close()

	// Chain would reject; the facilitator's yes wins.
	v := New(&fakeChain{}, NewFacilitatorClient(srv.URL), zap.NewNop())
	res := v.Verify(context.Background(), req(1000))
	if !res.Valid {
		t.Fatalf("facilitator valid not trusted: %q", res.Reason)
	}
}

func TestFacilitatorInvalidFallsThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"valid": false}`)) //nolint:errcheck
	}))
	defer srv.Close()

	// Facilitator says no, chain says yes: the chain decides.
	v := New(&fakeChain{tx: transferTx(testMint, "1000000", "1001000")}, NewFacilitatorClient(srv.URL), zap.NewNop())
	res := v.Verify(context.Background(), req(1000))
	if !res.Valid {
		t.Fatalf("chain verdict lost after facilitator fall-through: %q", res.Reason)
	}
}

func TestFacilitatorErrorFallsThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	v := New(&fakeChain{tx: transferTx(testMint, "1000000", "1001000")}, NewFacilitatorClient(srv.URL), zap.NewNop())
	res := v.Verify(context.Background(), req(1000))
	if !res.Valid {
		t.Fatalf("facilitator error should fall through to chain: %q", res.Reason)
	}
}

func TestFacilitatorStatusSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "success"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	v := New(&fakeChain{}, NewFacilitatorClient(srv.URL), zap.NewNop())
	res := v.Verify(context.Background(), req(1000))
	if !res.Valid {
		t.Fatalf("status==success not accepted: %q", res.Reason)
	}
}
