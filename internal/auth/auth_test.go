package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminode/devicehub-go/pkg/errors"
)

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestValidatePrincipal(t *testing.T) {
	v := NewJWTValidator("hub-secret")

	token := signToken(t, "hub-secret", Claims{
		UserID: "user-1",
		Name:   "Ada",
		Role:   "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	principal, err := v.ValidatePrincipal(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", principal.UserID)
	assert.Equal(t, "Ada", principal.Name)
	assert.Equal(t, "admin", principal.Role)
}

func TestValidatePrincipalRejectsEmptyToken(t *testing.T) {
	v := NewJWTValidator("hub-secret")
	_, err := v.ValidatePrincipal("")
	assert.ErrorIs(t, err, errors.ErrUnauthorized)
}

func TestValidatePrincipalRejectsWrongSecret(t *testing.T) {
	v := NewJWTValidator("hub-secret")
	token := signToken(t, "other-secret", Claims{UserID: "user-1"})

	_, err := v.ValidatePrincipal(token)
	assert.ErrorIs(t, err, errors.ErrUnauthorized)
}

func TestValidatePrincipalRejectsExpiredToken(t *testing.T) {
	v := NewJWTValidator("hub-secret")
	token := signToken(t, "hub-secret", Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})

	_, err := v.ValidatePrincipal(token)
	assert.ErrorIs(t, err, errors.ErrUnauthorized)
}

func TestValidatePrincipalRequiresUserID(t *testing.T) {
	v := NewJWTValidator("hub-secret")
	token := signToken(t, "hub-secret", Claims{})

	_, err := v.ValidatePrincipal(token)
	assert.ErrorIs(t, err, errors.ErrUnauthorized)
}
