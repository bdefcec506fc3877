// Package hooktoken issues and checks the short-lived tokens that authorize
// page callbacks for one recording session.
package hooktoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "webtestflow-recorder"

var (
	ErrInvalidToken = errors.New("invalid hook token")
	ErrWrongSession = errors.New("hook token issued for another session")
)

// Signer issues HS256 tokens whose subject is the session id. A Signer with
// an empty secret is disabled: it issues "" and accepts everything.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *Signer) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// Issue returns a token for sessionID, or "" when signing is disabled.
func (s *Signer) Issue(sessionID string) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:   issuer,
		Subject:  sessionID,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign hook token: %w", err)
	}
	return signed, nil
}

// Verify checks that token is valid and was issued for sessionID.
func (s *Signer) Verify(token, sessionID string) error {
	if !s.Enabled() {
		return nil
	}
	if token == "" {
		return ErrInvalidToken
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject != sessionID {
		return ErrWrongSession
	}
	return nil
}
