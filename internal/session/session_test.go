package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_RoundTrip(t *testing.T) {
	m := NewManager("s3cret", "laundry", time.Hour)

	id, token, err := m.New()
	require.NoError(t, err)

	got, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestManager_Rejects(t *testing.T) {
	m := NewManager("s3cret", "laundry", time.Hour)
	_, token, err := m.New()
	require.NoError(t, err)

	other := NewManager("different", "laundry", time.Hour)
	_, err = other.Parse(token)
	assert.ErrorIs(t, err, ErrInvalid)

	wrongIss := NewManager("s3cret", "someone-else", time.Hour)
	_, err = wrongIss.Parse(token)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = m.Parse("not-a-token")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestManager_Expired(t *testing.T) {
	m := NewManager("s3cret", "laundry", time.Minute)
	_, token, err := m.New()
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = m.Parse(token)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestManager_RejectsNoneAlg(t *testing.T) {
	m := NewManager("s3cret", "laundry", time.Hour)
	claims := jwt.RegisteredClaims{
		Subject:   "5f0c2d2e-8d4b-4a8e-9a57-1b9a0f7d6c11",
		Issuer:    "laundry",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = m.Parse(token)
	assert.ErrorIs(t, err, ErrInvalid)
}
