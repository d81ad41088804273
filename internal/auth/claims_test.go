package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing-0123456789"

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("operator", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "operator" {
		t.Errorf("Subject = %q, want operator", claims.Subject)
	}
	if claims.Scope != "read" {
		t.Errorf("Scope = %q, want read", claims.Scope)
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
	if left := time.Until(claims.ExpiresAt.Time); left <= 59*time.Minute || left > time.Hour {
		t.Errorf("expiry in %v, want about 1h", left)
	}
}

func TestGenerateToken_DefaultTTL(t *testing.T) {
	token, err := GenerateToken("operator", testSecret, 0)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if left := time.Until(claims.ExpiresAt.Time); left <= DefaultTTL-time.Minute {
		t.Errorf("expiry in %v, want about %v", left, DefaultTTL)
	}
}

func TestParseToken_Failures(t *testing.T) {
	valid, err := GenerateToken("operator", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	expired, err := generateToken("operator", testSecret, time.Now().Add(-2*time.Hour), time.Hour)
	if err != nil {
		t.Fatalf("generateToken() error = %v", err)
	}
	noSubject, err := generateToken("", testSecret, time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("generateToken() error = %v", err)
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "x"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing none token: %v", err)
	}

	tests := []struct {
		name    string
		token   string
		secret  string
		wantErr error
	}{
		{"wrong secret", valid, "another-secret", ErrTokenInvalid},
		{"garbage", "not-a-valid-jwt", testSecret, ErrTokenInvalid},
		{"expired", expired, testSecret, ErrTokenExpired},
		{"missing subject", noSubject, testSecret, ErrTokenInvalid},
		{"alg none", none, testSecret, ErrTokenInvalid},
		{"no secret", valid, "", ErrNoSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, tt.secret)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseToken() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateToken_NoSecret(t *testing.T) {
	if _, err := GenerateToken("operator", "", time.Hour); !errors.Is(err, ErrNoSecret) {
		t.Errorf("GenerateToken() error = %v, want ErrNoSecret", err)
	}
}
