package validate

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name   string          `json:"name" validate:"required"`
	Phone  string          `json:"phone" validate:"omitempty,nepaliphone"`
	Amount decimal.Decimal `json:"amount" validate:"money"`
	Items  []int           `json:"items" validate:"min=1"`
}

func TestStruct_Valid(t *testing.T) {
	err := Struct(sample{Name: "a", Phone: "9841234567", Amount: decimal.RequireFromString("10.50"), Items: []int{1}})
	assert.NoError(t, err)
}

func TestStruct_CollectsFieldErrors(t *testing.T) {
	err := Struct(sample{Phone: "12345", Amount: decimal.RequireFromString("-1"), Items: nil})
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "is required", verr.Fields["name"])
	assert.Equal(t, "must be a valid Nepali mobile number", verr.Fields["phone"])
	assert.Contains(t, verr.Fields["amount"], "non-negative")
	assert.Contains(t, verr.Fields["items"], "at least 1")
}

func TestMoney_RejectsSubPaisaPrecision(t *testing.T) {
	err := Struct(sample{Name: "a", Amount: decimal.RequireFromString("1.005"), Items: []int{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amount")
}

func TestValidationError_MessageIsStable(t *testing.T) {
	e := &ValidationError{}
	e.Add("b", "two")
	e.Add("a", "one")
	e.Add("a", "ignored")
	assert.Equal(t, "validation failed: a: one; b: two", e.Error())
	assert.False(t, e.Empty())
}
