package clientauth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func signToken(t *testing.T, secret string, claims ClientClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return signed
}

func TestValidateAcceptsWellFormedToken(t *testing.T) {
	v := NewValidator("shared-secret")
	tok := signToken(t, "shared-secret", ClientClaims{ClientID: "client-42"})

	clientID, err := v.Validate(tok)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if clientID != "client-42" {
		t.Fatalf("expected client-42, got %q", clientID)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	v := NewValidator("shared-secret")
	tok := signToken(t, "wrong-secret", ClientClaims{ClientID: "client-42"})

	if _, err := v.Validate(tok); err == nil {
		t.Fatal("expected an error for a token signed with the wrong secret")
	}
}

func TestValidateRejectsMissingClientID(t *testing.T) {
	v := NewValidator("shared-secret")
	tok := signToken(t, "shared-secret", ClientClaims{})

	if _, err := v.Validate(tok); err == nil {
		t.Fatal("expected an error for a token with no client_id claim")
	}
}

func TestValidateRejectsEmptyToken(t *testing.T) {
	v := NewValidator("shared-secret")
	if _, err := v.Validate(""); err == nil {
		t.Fatal("expected an error for an empty token")
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	v := NewValidator("shared-secret")
	tok := signToken(t, "shared-secret", ClientClaims{
		ClientID: "client-42",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	if _, err := v.Validate(tok); err == nil {
		t.Fatal("expected an error for an expired token")
	}
}
