package telephony

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Stream tokens bind a media-stream connect to the call it was issued for.
// The TwiML instruction embeds a short-lived signed token as a custom
// parameter; the gateway refuses any start message whose token does not
// verify or names a different call. This is transport hardening for the
// public websocket endpoint, not user authentication.

type streamClaims struct {
	jwt.RegisteredClaims
	CallID string `json:"call_id"`
}

type StreamTokens struct {
	secret []byte
	ttl    time.Duration
}

func NewStreamTokens(secret string, ttl time.Duration) (*StreamTokens, error) {
	if secret == "" {
		return nil, errors.New("telephony: stream token secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("telephony: stream token ttl must be > 0")
	}
	return &StreamTokens{secret: []byte(secret), ttl: ttl}, nil
}

// Issue signs a token for one call.
func (t *StreamTokens) Issue(callID string, now time.Time) (string, error) {
	if callID == "" {
		return "", errors.New("telephony: call id required")
	}
	claims := streamClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		CallID: callID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify checks the signature and expiry and returns the bound call id.
func (t *StreamTokens) Verify(tokenString string, now time.Time) (string, error) {
	var claims streamClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second), // clock skew tolerance
	)
	if _, err := parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}); err != nil {
		return "", err
	}
	if claims.CallID == "" {
		return "", errors.New("telephony: token missing call id")
	}
	return claims.CallID, nil
}
