// Package auth holds the authentication primitives of the userdir server:
// JWT issuing and verification, password hashing, identity stores and the
// request-scoped identity carried on context.Context.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/userdir/internal/common"
)

// MinSecretKeyLength is the shortest HMAC key NewTokenCodec accepts.
const MinSecretKeyLength = 32

// TokenCodec issues and verifies HS256 access tokens carrying a subject.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option customises a TokenCodec.
type Option func(*TokenCodec)

// WithClock replaces time.Now for issuing and validating tokens.
func WithClock(now func() time.Time) Option {
	return func(c *TokenCodec) {
		c.now = now
	}
}

// NewTokenCodec returns a codec signing with secret. Tokens live for ttl.
func NewTokenCodec(secret []byte, ttl time.Duration, opts ...Option) (*TokenCodec, error) {
	if len(secret) < MinSecretKeyLength {
		return nil, fmt.Errorf("%w: signing key must be at least %d bytes", common.ErrorConfiguration, MinSecretKeyLength)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: token validity must be positive", common.ErrorConfiguration)
	}

	c := &TokenCodec{
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL reports how long issued tokens stay valid.
func (c *TokenCodec) TTL() time.Duration {
	return c.ttl
}

// Issue signs a token for subject with iat = now and exp = now + TTL.
func (c *TokenCodec) Issue(subject string) (string, error) {
	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	})

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifySubject checks the signature and registered claims of tokenString and
// returns its subject. An expired token yields common.ErrTokenExpired; every
// other fault wraps common.ErrInvalidToken.
func (c *TokenCodec) VerifySubject(tokenString string) (string, error) {
	claims, err := c.parse(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// IsLive reports whether tokenString is correctly signed, belongs to
// expectedSubject and has not expired yet.
func (c *TokenCodec) IsLive(tokenString, expectedSubject string) bool {
	claims, err := c.parse(tokenString)
	if err != nil {
		return false
	}
	if claims.Subject != expectedSubject || claims.ExpiresAt == nil {
		return false
	}
	return c.now().Before(claims.ExpiresAt.Time)
}

func (c *TokenCodec) parse(tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)

	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
