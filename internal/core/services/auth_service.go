package services

import (
	"context"
	"errors"
	"time"

	"officemesh/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// AuthService resolves the authenticated user behind each call. Session
// issuance lives elsewhere; token generation is kept for tests and tooling.
type AuthService interface {
	GenerateToken(userID domain.UserID, displayName string) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	GetUserFromContext(ctx context.Context) (domain.UserID, error)
}

type Claims struct {
	UserID      domain.UserID `json:"user_id"`
	DisplayName string        `json:"display_name,omitempty"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewAuthService(jwtSecret string, tokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

func (s *authService) GenerateToken(userID domain.UserID, displayName string) (string, error) {
	claims := &Claims{
		UserID:      userID,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		if claims.UserID == "" {
			return nil, ErrInvalidToken
		}
		return claims, nil
	}

	return nil, ErrInvalidToken
}

type contextKey string

const userIDContextKey contextKey = "user_id"

// ContextWithUser stores the authenticated user on the context; middleware
// calls this after token validation.
func ContextWithUser(ctx context.Context, userID domain.UserID) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

func (s *authService) GetUserFromContext(ctx context.Context) (domain.UserID, error) {
	if v := ctx.Value(userIDContextKey); v != nil {
		if id, ok := v.(domain.UserID); ok && id != "" {
			return id, nil
		}
	}
	return "", ErrUnauthorized
}
