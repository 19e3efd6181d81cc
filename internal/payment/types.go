// Package payment defines the wire contract of the micropayment protocol:
// the 402 challenge body, the receipt headers, and their base64(JSON)
// encoding. The encoding is the compatibility contract with existing wallets
// and CLIs; do not change it.
package payment

import "github.com/go-playground/validator/v10"

// Request/response header names.
const (
	Header         = "X-Payment"
	ResponseHeader = "X-Payment-Response"
)

// Scheme is the only settlement scheme the gateway speaks.
const Scheme = "exact"

// 402 error codes.
const (
	CodePaymentRequired  = "payment_required"
	CodeInvalidHeader    = "invalid_payment_header"
	CodeInvalidPayload   = "invalid_payment_payload"
	CodeInvalidPaymentID = "invalid_payment_id"
	CodeAlreadyUsed      = "payment_already_used"
	CodePaymentInvalid   = "payment_invalid"
	CodeStoreUnavailable = "store_unavailable"
	CodeInternalError    = "internal_error"
)

// Requirement is one entry of the challenge's accepts array.
type Requirement struct {
	Asset          string `json:"asset"`
	Chain          string `json:"chain"`
	Amount         string `json:"amount"`
	PaymentAddress string `json:"paymentAddress"`
	PaymentID      string `json:"paymentId"`
	Scheme         string `json:"scheme"`
	Method         string `json:"method"`
}

// Required is the 402 challenge body.
type Required struct {
	Error   string        `json:"error"`
	Message string        `json:"message"`
	Accepts []Requirement `json:"accepts,omitempty"`
	Details string        `json:"details,omitempty"`
}

// Receipt is the decoded X-Payment request header.
type Receipt struct {
	TxSignature string `json:"txSignature" validate:"required,min=80,max=100"`
	PaymentID   string `json:"paymentId" validate:"required,uuid4"`
}

// Settlement is the decoded X-Payment-Response header attached to 200
// responses.
type Settlement struct {
	TxSignature string `json:"txSignature"`
	PaymentID   string `json:"paymentId"`
	Settled     bool   `json:"settled"`
}

var validate = validator.New()

// Validate checks the receipt's field constraints: a plausible transaction
// signature and a UUID paymentId.
func (r Receipt) Validate() error {
	return validate.Struct(r)
}
