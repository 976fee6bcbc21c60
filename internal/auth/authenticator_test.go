package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-chat-backend/internal/domain"
	"github.com/sirosfoundation/go-chat-backend/pkg/config"
)

const testSecret = "test-secret"

func signClaims(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTAuthenticator_ValidToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: testSecret}
	token, err := NewIssuer(cfg).Issue("alice", "Alice", time.Hour)
	require.NoError(t, err)

	identity, err := NewJWTAuthenticator(cfg, nil).Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.UserID)
	assert.Equal(t, "Alice", identity.DisplayName)
	assert.NotEmpty(t, identity.TokenID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), identity.ExpiresAt, 2*time.Second)
}

func TestJWTAuthenticator_Rejects(t *testing.T) {
	future := time.Now().Add(time.Hour).Unix()
	past := time.Now().Add(-time.Minute).Unix()

	tests := []struct {
		name  string
		token func(t *testing.T) string
	}{
		{"empty", func(t *testing.T) string { return "" }},
		{"malformed", func(t *testing.T) string { return "not-a-jwt" }},
		{"expired", func(t *testing.T) string {
			return signClaims(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "alice", "exp": past})
		}},
		{"missing exp", func(t *testing.T) string {
			return signClaims(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "alice"})
		}},
		{"missing user_id", func(t *testing.T) string {
			return signClaims(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{"exp": future})
		}},
		{"non-string user_id", func(t *testing.T) string {
			return signClaims(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{"user_id": 42, "exp": future})
		}},
		{"wrong secret", func(t *testing.T) string {
			return signClaims(t, "other", jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "alice", "exp": future})
		}},
		{"wrong algorithm", func(t *testing.T) string {
			return signClaims(t, testSecret, jwt.SigningMethodHS512, jwt.MapClaims{"user_id": "alice", "exp": future})
		}},
	}

	authn := NewJWTAuthenticator(config.JWTConfig{Secret: testSecret}, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity, err := authn.Authenticate(context.Background(), tt.token(t))
			require.Error(t, err)
			assert.Nil(t, identity)
			assert.Equal(t, domain.KindAuth, domain.KindOf(err))
		})
	}
}

func TestJWTAuthenticator_ExpiredMessage(t *testing.T) {
	token := signClaims(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "alice",
		"exp":     time.Now().Add(-time.Minute).Unix(),
	})

	_, err := NewJWTAuthenticator(config.JWTConfig{Secret: testSecret}, nil).Authenticate(context.Background(), token)
	require.Error(t, err)
	assert.Equal(t, "Token expired", domain.PublicMessage(err))
}

func TestJWTAuthenticator_Issuer(t *testing.T) {
	cfg := config.JWTConfig{Secret: testSecret, Issuer: "chat"}
	authn := NewJWTAuthenticator(cfg, nil)

	good, err := NewIssuer(cfg).Issue("alice", "", time.Hour)
	require.NoError(t, err)
	_, err = authn.Authenticate(context.Background(), good)
	assert.NoError(t, err)

	other, err := NewIssuer(config.JWTConfig{Secret: testSecret, Issuer: "elsewhere"}).Issue("alice", "", time.Hour)
	require.NoError(t, err)
	_, err = authn.Authenticate(context.Background(), other)
	assert.Error(t, err)
}

func TestJWTAuthenticator_Revoked(t *testing.T) {
	cfg := config.JWTConfig{Secret: testSecret}
	revocations := NewRevocationList(config.TokenRevocationConfig{Enabled: true}, zap.NewNop())
	authn := NewJWTAuthenticator(cfg, revocations)

	token, err := NewIssuer(cfg).Issue("alice", "", time.Hour)
	require.NoError(t, err)

	identity, err := authn.Authenticate(context.Background(), token)
	require.NoError(t, err)

	require.NoError(t, revocations.Revoke(context.Background(), identity.TokenID, identity.ExpiresAt))

	_, err = authn.Authenticate(context.Background(), token)
	require.Error(t, err)
	assert.Equal(t, domain.KindAuth, domain.KindOf(err))
}

func TestIssuer_RequiresUserID(t *testing.T) {
	_, err := NewIssuer(config.JWTConfig{Secret: testSecret}).Issue("", "", time.Hour)
	assert.Error(t, err)
}
