package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"custodia/pkg/platform/sentinel"
)

// reportClaims binds a report link to one request and one party.
type reportClaims struct {
	RequestID string `json:"req"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies the report-link tokens mailed to parties.
// Tokens are HS256 and expire with the verification window, so a stale
// link cannot resolve a later request.
type TokenCodec struct {
	signingKey []byte
	now        func() time.Time
}

func NewTokenCodec(signingKey string) *TokenCodec {
	return &TokenCodec{signingKey: []byte(signingKey), now: time.Now}
}

// Issue mints a token for one party's report link.
func (c *TokenCodec) Issue(requestID, partyID string, expiresAt time.Time) (string, error) {
	claims := reportClaims{
		RequestID: requestID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   partyID,
			IssuedAt:  jwt.NewNumericDate(c.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign report token: %w", err)
	}
	return token, nil
}

// Parse verifies a report token and returns its request and party ids.
func (c *TokenCodec) Parse(raw string) (requestID, partyID string, err error) {
	var claims reportClaims
	parser := jwt.NewParser(jwt.WithTimeFunc(c.now))
	_, err = parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return c.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", "", fmt.Errorf("report token expired: %w", sentinel.ErrExpired)
		}
		return "", "", fmt.Errorf("parse report token: %w", err)
	}
	if claims.RequestID == "" || claims.Subject == "" {
		return "", "", errors.New("report token missing claims")
	}
	return claims.RequestID, claims.Subject, nil
}
