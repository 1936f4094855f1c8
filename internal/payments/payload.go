package payments

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	GatewayComplete = "COMPLETE"
	GatewayFailed   = "FAILED"
)

// ReturnPayload is what the gateway reports when it sends the browser back.
type ReturnPayload struct {
	TransactionID    string          `json:"transaction_uuid"`
	TransactionCode  string          `json:"transaction_code"`
	Status           string          `json:"status"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	ProductCode      string          `json:"product_code,omitempty"`
	SignedFieldNames string          `json:"signed_field_names,omitempty"`
	Signature        string          `json:"signature,omitempty"`
}

// Complete reports whether the gateway claims the payment went through. The
// claim still has to be verified with the backend.
func (p ReturnPayload) Complete() bool {
	return strings.EqualFold(p.Status, GatewayComplete)
}

// Terminal reports a gateway decline that will not turn into a payment later.
func (p ReturnPayload) Terminal() bool {
	switch strings.ToUpper(p.Status) {
	case "FAILED", "CANCELED", "CANCELLED", "NOT_FOUND", "FULL_REFUND", "PARTIAL_REFUND":
		return true
	}
	return false
}

type returnDTO struct {
	TransactionCode  string          `json:"transaction_code"`
	Status           string          `json:"status"`
	TotalAmount      json.RawMessage `json:"total_amount"`
	TransactionUUID  string          `json:"transaction_uuid"`
	ProductCode      string          `json:"product_code"`
	SignedFieldNames string          `json:"signed_field_names"`
	Signature        string          `json:"signature"`
}

// DecodeReturnPayload base64-decodes and parses the gateway's data parameter.
func DecodeReturnPayload(data string) (ReturnPayload, error) {
	raw, err := decodeBase64(data)
	if err != nil {
		return ReturnPayload{}, fmt.Errorf("%w: base64: %v", ErrMalformedGatewayPayload, err)
	}

	var dto returnDTO
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&dto); err != nil {
		return ReturnPayload{}, fmt.Errorf("%w: json: %v", ErrMalformedGatewayPayload, err)
	}

	p := ReturnPayload{
		TransactionID:    strings.TrimSpace(dto.TransactionUUID),
		TransactionCode:  strings.TrimSpace(dto.TransactionCode),
		Status:           strings.ToUpper(strings.TrimSpace(dto.Status)),
		ProductCode:      strings.TrimSpace(dto.ProductCode),
		SignedFieldNames: dto.SignedFieldNames,
		Signature:        strings.TrimSpace(dto.Signature),
	}
	if p.TransactionID == "" {
		return ReturnPayload{}, fmt.Errorf("%w: missing transaction_uuid", ErrMalformedGatewayPayload)
	}

	amount, err := parseAmountJSON(dto.TotalAmount)
	if err != nil {
		return ReturnPayload{}, err
	}
	p.TotalAmount = amount
	return p, nil
}

// ParseReturn reads either return shape: a single base64 "data" parameter, or
// the legacy discrete parameters. Legacy returns carry no status, so the
// caller supplies the one implied by the endpoint that was hit.
func ParseReturn(q url.Values, defaultStatus string) (ReturnPayload, error) {
	if data := strings.TrimSpace(q.Get("data")); data != "" {
		p, err := DecodeReturnPayload(data)
		if err != nil {
			return ReturnPayload{}, err
		}
		if p.Status == "" {
			p.Status = strings.ToUpper(defaultStatus)
		}
		return p, nil
	}

	p := ReturnPayload{
		TransactionID:   first(q, "transaction_uuid", "oid"),
		TransactionCode: first(q, "transaction_code", "refId"),
		Status:          strings.ToUpper(first(q, "status")),
	}
	if p.Status == "" {
		p.Status = strings.ToUpper(defaultStatus)
	}
	if p.TransactionID == "" {
		return ReturnPayload{}, fmt.Errorf("%w: missing transaction id", ErrMalformedGatewayPayload)
	}

	rawAmount := first(q, "total_amount", "amount", "amt")
	if rawAmount == "" {
		return ReturnPayload{}, fmt.Errorf("%w: missing amount", ErrMalformedGatewayPayload)
	}
	amount, err := parseAmount(rawAmount)
	if err != nil {
		return ReturnPayload{}, err
	}
	p.TotalAmount = amount
	return p, nil
}

// EncodeReturnPayload is the inverse of DecodeReturnPayload. The gateway
// simulator and tests use it.
func EncodeReturnPayload(p ReturnPayload) (string, error) {
	b, err := json.Marshal(struct {
		TransactionCode  string `json:"transaction_code"`
		Status           string `json:"status"`
		TotalAmount      string `json:"total_amount"`
		TransactionUUID  string `json:"transaction_uuid"`
		ProductCode      string `json:"product_code,omitempty"`
		SignedFieldNames string `json:"signed_field_names,omitempty"`
		Signature        string `json:"signature,omitempty"`
	}{
		TransactionCode:  p.TransactionCode,
		Status:           p.Status,
		TotalAmount:      p.TotalAmount.StringFixed(2),
		TransactionUUID:  p.TransactionID,
		ProductCode:      p.ProductCode,
		SignedFieldNames: p.SignedFieldNames,
		Signature:        p.Signature,
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func first(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

func decodeBase64(s string) ([]byte, error) {
	// A '+' in an unescaped query string arrives as a space.
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "+")

	var lastErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding,
	} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// eSewa may send total_amount as a number or as a string like "1,500.0".
func parseAmountJSON(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Decimal{}, fmt.Errorf("%w: missing total_amount", ErrMalformedGatewayPayload)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Decimal{}, fmt.Errorf("%w: total_amount: %v", ErrMalformedGatewayPayload, err)
		}
		return parseAmount(s)
	}
	return parseAmount(string(raw))
}

func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: missing total_amount", ErrMalformedGatewayPayload)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: invalid total_amount %q", ErrMalformedGatewayPayload, s)
	}
	return d, nil
}
