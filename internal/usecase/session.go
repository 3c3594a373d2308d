package usecase

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionTTL matches the web app's long-lived session cookie.
const DefaultSessionTTL = 90 * 24 * time.Hour

// SessionClaims are the claims carried by a session token.
type SessionClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// SessionService issues and verifies signed session tokens for the
// authenticated web page. Token plumbing only; identity verification is
// done upstream by the identity provider.
type SessionService struct {
	secret []byte
	ttl    time.Duration
}

// NewSessionService creates a session service with the given signing secret.
func NewSessionService(secret string, ttl time.Duration) *SessionService {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionService{secret: []byte(secret), ttl: ttl}
}

// TTL returns the session lifetime.
func (s *SessionService) TTL() time.Duration {
	return s.ttl
}

// IssueToken creates a signed session token for uid.
func (s *SessionService) IssueToken(uid, email string) (string, error) {
	if uid == "" {
		return "", fmt.Errorf("uid is required")
	}

	now := time.Now()
	claims := SessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// VerifyToken parses a session token and returns its claims.
func (s *SessionService) VerifyToken(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid session token")
	}
	return claims, nil
}
