package payments

import (
	"encoding/base64"
	"errors"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeReturnPayload_RoundTrip(t *testing.T) {
	cases := []ReturnPayload{
		{TransactionID: "tx-1", TransactionCode: "000AWEO", Status: "COMPLETE", TotalAmount: decimal.RequireFromString("1500.00")},
		{TransactionID: "241028-abc", Status: "FAILED", TotalAmount: decimal.RequireFromString("0.01")},
		{TransactionID: "x", TransactionCode: "c", Status: "PENDING", TotalAmount: decimal.RequireFromString("99999.99"),
			ProductCode: "EPAYTEST", SignedFieldNames: "transaction_code,status,total_amount", Signature: "sig=="},
	}

	for _, want := range cases {
		enc, err := EncodeReturnPayload(want)
		require.NoError(t, err)

		got, err := DecodeReturnPayload(enc)
		require.NoError(t, err)

		assert.Equal(t, want.TransactionID, got.TransactionID)
		assert.Equal(t, want.TransactionCode, got.TransactionCode)
		assert.Equal(t, want.Status, got.Status)
		assert.True(t, want.TotalAmount.Equal(got.TotalAmount), "%s != %s", want.TotalAmount, got.TotalAmount)
		assert.Equal(t, want.ProductCode, got.ProductCode)
		assert.Equal(t, want.Signature, got.Signature)
	}
}

func TestDecodeReturnPayload_GatewayShapes(t *testing.T) {
	raw := `{"transaction_code":"000AWEO","status":"COMPLETE","total_amount":"1,000.0","transaction_uuid":"250610-162413","product_code":"EPAYTEST"}`
	p, err := DecodeReturnPayload(base64.StdEncoding.EncodeToString([]byte(raw)))
	require.NoError(t, err)
	assert.True(t, p.TotalAmount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, p.Complete())

	numeric := `{"status":"complete","total_amount":100.5,"transaction_uuid":"t"}`
	p, err = DecodeReturnPayload(base64.RawURLEncoding.EncodeToString([]byte(numeric)))
	require.NoError(t, err)
	assert.Equal(t, "COMPLETE", p.Status)
	assert.True(t, p.TotalAmount.Equal(decimal.RequireFromString("100.5")))
}

func TestDecodeReturnPayload_PlusTurnedIntoSpace(t *testing.T) {
	enc, err := EncodeReturnPayload(ReturnPayload{TransactionID: "t>>>?", Status: "COMPLETE", TotalAmount: decimal.NewFromInt(10)})
	require.NoError(t, err)

	q, err := url.ParseQuery("data=" + enc) // '+' decodes to ' '
	require.NoError(t, err)

	p, err := DecodeReturnPayload(q.Get("data"))
	require.NoError(t, err)
	assert.Equal(t, "t>>>?", p.TransactionID)
}

func TestDecodeReturnPayload_Malformed(t *testing.T) {
	b64 := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

	for name, in := range map[string]string{
		"not base64":     "%%%not-base64%%%",
		"not json":       b64("hello"),
		"json array":     b64(`[1,2]`),
		"missing uuid":   b64(`{"status":"COMPLETE","total_amount":"10"}`),
		"missing amount": b64(`{"status":"COMPLETE","transaction_uuid":"t"}`),
		"null amount":    b64(`{"transaction_uuid":"t","total_amount":null}`),
		"bad amount":     b64(`{"transaction_uuid":"t","total_amount":"ten"}`),
		"empty":          "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeReturnPayload(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedGatewayPayload))
		})
	}
}

func TestParseReturn_LegacyParams(t *testing.T) {
	q := url.Values{"oid": {"tx-7"}, "amt": {"250.0"}, "refId": {"R123"}}

	p, err := ParseReturn(q, GatewayComplete)
	require.NoError(t, err)
	assert.Equal(t, "tx-7", p.TransactionID)
	assert.Equal(t, "R123", p.TransactionCode)
	assert.Equal(t, GatewayComplete, p.Status)
	assert.True(t, p.TotalAmount.Equal(decimal.NewFromInt(250)))

	q = url.Values{"transaction_uuid": {"tx-8"}, "amount": {"10"}, "transaction_code": {"C"}, "status": {"canceled"}}
	p, err = ParseReturn(q, GatewayComplete)
	require.NoError(t, err)
	assert.Equal(t, "CANCELED", p.Status)
	assert.True(t, p.Terminal())
}

func TestParseReturn_PrefersData(t *testing.T) {
	enc, err := EncodeReturnPayload(ReturnPayload{TransactionID: "from-data", Status: "FAILED", TotalAmount: decimal.NewFromInt(1)})
	require.NoError(t, err)

	p, err := ParseReturn(url.Values{"data": {enc}, "oid": {"from-legacy"}, "amt": {"1"}}, GatewayComplete)
	require.NoError(t, err)
	assert.Equal(t, "from-data", p.TransactionID)
	assert.Equal(t, "FAILED", p.Status)
}

func TestParseReturn_LegacyMissingFields(t *testing.T) {
	_, err := ParseReturn(url.Values{"amt": {"1"}}, GatewayComplete)
	assert.True(t, errors.Is(err, ErrMalformedGatewayPayload))

	_, err = ParseReturn(url.Values{"oid": {"t"}}, GatewayComplete)
	assert.True(t, errors.Is(err, ErrMalformedGatewayPayload))
}
