// Package overlay issues and verifies the signed links that gate the
// overlay page and its websocket.
package overlay

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/redeemcast/internal/domain"
)

const issuerName = "redeemcast"

// Claims identify the broadcaster whose overlay a token opens.
type Claims struct {
	jwt.RegisteredClaims
}

// BroadcasterUserID is the token subject.
func (c *Claims) BroadcasterUserID() string {
	return c.Subject
}

// Issuer signs overlay tokens with HS256.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock
}

func NewIssuer(secret string, ttl time.Duration, clock clockwork.Clock) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, clock: clock}
}

// Issue creates a token for broadcasterUserID that expires after the issuer's TTL.
func (i *Issuer) Issue(broadcasterUserID string) (string, error) {
	if broadcasterUserID == "" {
		return "", errors.New("broadcaster user id is required")
	}

	now := i.clock.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   broadcasterUserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign overlay token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and expiry. Every failure wraps
// domain.ErrInvalidOverlayToken.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", domain.ErrInvalidOverlayToken)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidOverlayToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", domain.ErrInvalidOverlayToken)
	}
	return claims, nil
}
