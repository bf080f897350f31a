package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/luminode/devicehub-go/internal/core/devices"
	"github.com/luminode/devicehub-go/pkg/errors"
)

// Validator validates bearer tokens and returns the authenticated principal
type Validator interface {
	ValidatePrincipal(token string) (*devices.Principal, error)
}

// Claims are the JWT claims carried by hub-issued tokens
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator validates HMAC-signed tokens
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator creates a validator for the configured secret
func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

// ValidatePrincipal parses and verifies a token, returning the principal
func (v *JWTValidator) ValidatePrincipal(tokenString string) (*devices.Principal, error) {
	if tokenString == "" {
		return nil, errors.WithDetails(errors.ErrUnauthorized, "missing token")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, errors.WithDetails(errors.ErrUnauthorized, err.Error())
	}
	if !token.Valid || claims.UserID == "" {
		return nil, errors.WithDetails(errors.ErrUnauthorized, "invalid token")
	}

	return &devices.Principal{
		UserID: claims.UserID,
		Name:   claims.Name,
		Role:   claims.Role,
	}, nil
}
