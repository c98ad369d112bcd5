package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates the principal assertion minted by the upstream identity
// provider. The assertion is a short-lived HS256 JWT whose subject is the
// authenticated username.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the shared assertion secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Principal parses and validates an assertion token and returns its subject.
func (v *Verifier) Principal(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid assertion: %w", err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid assertion claims")
	}
	return claims.Subject, nil
}
