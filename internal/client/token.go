package client

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the claims the client needs from its own token.
type TokenClaims struct {
	jwt.RegisteredClaims
	TokenType string `json:"token_type"`
	UserID    int    `json:"user_id"`
}

// PeekClaims decodes a bearer token without verifying its signature. The
// client only learns which user it acts for; the server verifies.
func PeekClaims(token string) (*TokenClaims, error) {
	var claims TokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if claims.UserID <= 0 {
		return nil, errors.New("token has no user_id")
	}
	return &claims, nil
}
