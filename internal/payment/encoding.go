package payment

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// DecodeReceipt parses a base64(JSON) X-Payment header value.
func DecodeReceipt(encoded string) (Receipt, error) {
	var r Receipt
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return r, fmt.Errorf("decode base64: %w", err)
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("unmarshal receipt: %w", err)
	}
	return r, nil
}

// EncodeReceipt renders a receipt as a base64(JSON) header value.
func EncodeReceipt(r Receipt) (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal receipt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// EncodeSettlement renders the X-Payment-Response header value.
func EncodeSettlement(s Settlement) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeSettlement parses an X-Payment-Response header value.
func DecodeSettlement(encoded string) (Settlement, error) {
	var s Settlement
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return s, fmt.Errorf("decode base64: %w", err)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("unmarshal settlement: %w", err)
	}
	return s, nil
}
