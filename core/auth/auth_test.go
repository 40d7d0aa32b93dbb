package auth

import (
	"errors"
	"testing"
	"time"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !VerifyPassword("correct horse", hash) {
		t.Error("VerifyPassword rejected the right password")
	}
	if VerifyPassword("battery staple", hash) {
		t.Error("VerifyPassword accepted the wrong password")
	}
	if _, err := HashPassword("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Error("HashPassword accepted a short password")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	iss := NewIssuer("secret", time.Hour)
	tok, err := iss.GenerateToken(42, "ada")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := iss.ParseToken(tok)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.UserID != 42 || claims.Username != "ada" {
		t.Errorf("claims = %+v, want uid 42 ada", claims)
	}
}

func TestTokenRejected(t *testing.T) {
	iss := NewIssuer("secret", time.Hour)
	tok, _ := iss.GenerateToken(1, "ada")

	expired := NewIssuer("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	tests := []struct {
		name  string
		iss   *Issuer
		token string
	}{
		{"wrong secret", NewIssuer("other", time.Hour), tok},
		{"expired", expired, tok},
		{"garbage", iss, "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.iss.ParseToken(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}
