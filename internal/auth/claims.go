package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL is the token lifetime when none is given.
const DefaultTTL = 24 * time.Hour

// Claims are the registered JWT claims plus the caller's scope.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// GenerateToken creates a signed token for subject.
//
// Parameters:
//   - subject: Who the token identifies (operator name, service)
//   - secret: HMAC signing secret
//   - ttl: Lifetime; zero or negative uses DefaultTTL
//
// Returns:
//   - string: Signed token
//   - error: ErrNoSecret, or a signing failure
func GenerateToken(subject, secret string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return generateToken(subject, secret, time.Now(), ttl)
}

func generateToken(subject, secret string, now time.Time, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Scope: "read",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a token and returns its claims.
// It checks the signature, the algorithm, expiry and the subject.
func ParseToken(tokenString, secret string) (*Claims, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims, nil
}
