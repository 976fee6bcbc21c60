// Package auth validates the bearer tokens presented by chat clients.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sirosfoundation/go-chat-backend/internal/domain"
	"github.com/sirosfoundation/go-chat-backend/pkg/config"
)

// Authenticator maps an opaque token to an identity or fails
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.Identity, error)
}

// RevocationChecker reports whether a token id has been revoked
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) bool
}

// JWTAuthenticator validates HS256 tokens carrying a user_id claim
type JWTAuthenticator struct {
	secret  []byte
	issuer  string
	revoked RevocationChecker
	now     func() time.Time
}

// NewJWTAuthenticator creates an authenticator. revoked may be nil.
func NewJWTAuthenticator(cfg config.JWTConfig, revoked RevocationChecker) *JWTAuthenticator {
	return &JWTAuthenticator{
		secret:  []byte(cfg.Secret),
		issuer:  cfg.Issuer,
		revoked: revoked,
		now:     time.Now,
	}
}

// Authenticate validates signature, expiry and claims of token
func (a *JWTAuthenticator) Authenticate(ctx context.Context, token string) (*domain.Identity, error) {
	if token == "" {
		return nil, domain.NewAuthError("Token required", nil)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.NewAuthError("Token expired", err)
		}
		return nil, domain.NewAuthError("Invalid token", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, domain.NewAuthError("Invalid token claims", nil)
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return nil, domain.NewAuthError("Invalid user ID in token", nil)
	}

	identity := &domain.Identity{UserID: userID}
	if name, ok := claims["name"].(string); ok {
		identity.DisplayName = name
	}
	if jti, ok := claims["jti"].(string); ok {
		identity.TokenID = jti
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		identity.ExpiresAt = exp.Time
	}

	if a.revoked != nil && identity.TokenID != "" && a.revoked.IsRevoked(ctx, identity.TokenID) {
		return nil, domain.NewAuthError("Token has been revoked", nil)
	}

	return identity, nil
}

// Issuer mints tokens accepted by JWTAuthenticator
type Issuer struct {
	secret []byte
	issuer string
}

// NewIssuer creates a token issuer
func NewIssuer(cfg config.JWTConfig) *Issuer {
	return &Issuer{secret: []byte(cfg.Secret), issuer: cfg.Issuer}
}

// Issue signs a token for userID valid for ttl
func (i *Issuer) Issue(userID, name string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"jti":     uuid.New().String(),
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	}
	if name != "" {
		claims["name"] = name
	}
	if i.issuer != "" {
		claims["iss"] = i.issuer
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
