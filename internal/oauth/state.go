package oauth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// stateClaims binds the OAuth state parameter to the initiating user and
// provider so a callback cannot be replayed against another account.
type stateClaims struct {
	Provider string `json:"prv"`
	jwt.RegisteredClaims
}

func signState(secret []byte, provider, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, stateClaims{
		Provider: provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(secret)
}

func verifyState(secret []byte, provider, state string) (userID string, err error) {
	var claims stateClaims
	_, err = jwt.ParseWithClaims(state, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		return "", fmt.Errorf("invalid state: %w", err)
	}
	if claims.Provider != provider {
		return "", fmt.Errorf("state issued for provider %q, callback from %q", claims.Provider, provider)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("state missing subject")
	}
	return claims.Subject, nil
}
