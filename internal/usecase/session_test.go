package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionService_IssueAndVerify(t *testing.T) {
	svc := NewSessionService("test-secret", time.Hour)

	token, err := svc.IssueToken("u1", "user@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "user@example.com", claims.Email)
}

func TestSessionService_RequiresUID(t *testing.T) {
	svc := NewSessionService("test-secret", time.Hour)

	_, err := svc.IssueToken("", "user@example.com")
	assert.Error(t, err)
}

func TestSessionService_RejectsWrongSecret(t *testing.T) {
	issuer := NewSessionService("secret-a", time.Hour)
	verifier := NewSessionService("secret-b", time.Hour)

	token, err := issuer.IssueToken("u1", "")
	require.NoError(t, err)

	_, err = verifier.VerifyToken(token)
	assert.Error(t, err)
}

func TestSessionService_DefaultTTL(t *testing.T) {
	svc := NewSessionService("test-secret", 0)
	assert.Equal(t, DefaultSessionTTL, svc.TTL())
}
