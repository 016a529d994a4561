package realtime

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every handshake token failure: bad signature,
// expiry, wrong algorithm, missing subject.
var ErrInvalidToken = errors.New("invalid connection token")

// TokenVerifier checks the bearer token presented during the SSE handshake
// and extracts the connecting user's identity from the subject claim.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier over a shared HMAC secret
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Enabled reports whether a secret is configured. Without one every
// handshake is rejected.
func (v *TokenVerifier) Enabled() bool {
	return len(v.secret) > 0
}

// Verify parses and validates a token and returns the user ID it carries
func (v *TokenVerifier) Verify(tokenString string) (string, error) {
	if !v.Enabled() {
		return "", fmt.Errorf("%w: no verifier secret configured", ErrInvalidToken)
	}

	token, err := jwt.Parse(tokenString,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return sub, nil
}
