// Package clientauth validates the client key presented by a chat
// client. Keys are signed JWTs carrying a client_id claim rather than
// bare opaque strings, so a compromised key can be scoped and rotated
// like any other bearer token.
package clientauth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

// ClientClaims is a client identifier plus the registered JWT fields.
type ClientClaims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// Validator decodes and verifies a client key token, returning the
// client identifier it carries.
type Validator struct {
	secret []byte
}

// NewValidator builds a Validator that checks tokens against secret
// using HMAC.
func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

// Validate parses tokenString and returns the embedded client id. An
// empty or unparseable token, or one signed with the wrong key, is
// rejected.
func (v *Validator) Validate(tokenString string) (string, error) {
	if tokenString == "" {
		return "", fmt.Errorf("empty client key")
	}

	claims := &ClientClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid client key: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid client key")
	}
	if claims.ClientID == "" {
		return "", fmt.Errorf("client key missing client_id claim")
	}
	return claims.ClientID, nil
}
