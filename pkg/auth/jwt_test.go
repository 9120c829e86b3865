package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager_RoundTrip(t *testing.T) {
	manager := NewJWTManager("test-secret")
	userID := uuid.New()

	token, err := manager.GenerateAccessToken(userID, "Alice", "alice@example.com",
		[]string{"manager"}, []string{"documents.approve"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := manager.ValidateAccessToken(token)
	require.NoError(t, err)

	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "Alice", claims.Name)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, []string{"manager"}, claims.Roles)
	assert.Equal(t, []string{"documents.approve"}, claims.Permissions)
	assert.Equal(t, "docflow", claims.Issuer)
	assert.Equal(t, userID.String(), claims.Subject)

	actor := claims.Actor()
	assert.Equal(t, userID, actor.ID)
	assert.Equal(t, []string{"manager"}, actor.Roles)
	assert.True(t, actor.HasAnyRole("manager"))
	assert.True(t, actor.HasPermission("documents.approve"))
}

func TestJWTManager_ValidateAccessToken_Errors(t *testing.T) {
	manager := NewJWTManager("test-secret")

	t.Run("wrong secret", func(t *testing.T) {
		other := NewJWTManager("other-secret")
		token, err := other.GenerateAccessToken(uuid.New(), "Bob", "bob@example.com", nil, nil)
		require.NoError(t, err)

		_, err = manager.ValidateAccessToken(token)
		assert.Error(t, err)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := manager.ValidateAccessToken("not.a.token")
		assert.Error(t, err)
	})

	t.Run("expired token", func(t *testing.T) {
		short := NewJWTManagerWithTTL("test-secret", -time.Minute, time.Hour)
		token, err := short.GenerateAccessToken(uuid.New(), "Bob", "bob@example.com", nil, nil)
		require.NoError(t, err)

		_, err = manager.ValidateAccessToken(token)
		assert.Error(t, err)
	})
}

func TestJWTManager_RefreshToken(t *testing.T) {
	manager := NewJWTManager("test-secret")

	first, err := manager.GenerateRefreshToken()
	require.NoError(t, err)
	second, err := manager.GenerateRefreshToken()
	require.NoError(t, err)

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
