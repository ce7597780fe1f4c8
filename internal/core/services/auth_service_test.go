package services

import (
	"context"
	"testing"
	"time"

	"officemesh/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthTokenRoundtrip(t *testing.T) {
	auth := NewAuthService("test-secret", time.Hour)

	token, err := auth.GenerateToken("alice", "Alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), claims.UserID)
	assert.Equal(t, "Alice", claims.DisplayName)
}

func TestAuthExpiredToken(t *testing.T) {
	auth := NewAuthService("test-secret", -time.Minute)

	token, err := auth.GenerateToken("alice", "Alice")
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestAuthWrongSecret(t *testing.T) {
	issuer := NewAuthService("secret-a", time.Hour)
	verifier := NewAuthService("secret-b", time.Hour)

	token, err := issuer.GenerateToken("alice", "Alice")
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthGarbageToken(t *testing.T) {
	auth := NewAuthService("test-secret", time.Hour)

	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := auth.ValidateToken(tok)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", tok)
	}
}

func TestAuthUserFromContext(t *testing.T) {
	auth := NewAuthService("test-secret", time.Hour)

	ctx := ContextWithUser(context.Background(), "alice")
	id, err := auth.GetUserFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), id)

	_, err = auth.GetUserFromContext(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}
