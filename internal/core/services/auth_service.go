package services

import (
	"errors"
	"time"

	"chatrelay/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// AuthService verifies session credentials issued by the external auth
// collaborator. Verification happens exactly once per handshake; token
// issuance exists for tests and local tooling.
type AuthService interface {
	VerifySession(credential string) (domain.UserID, error)
	GenerateToken(userID domain.UserID, ttl time.Duration) (string, error)
}

type Claims struct {
	UserID domain.UserID `json:"user_id"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret []byte
}

func NewAuthService(jwtSecret string) AuthService {
	return &authService{jwtSecret: []byte(jwtSecret)}
}

func (s *authService) GenerateToken(userID domain.UserID, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// VerifySession maps any verification failure onto
// domain.ErrAuthenticationRejected so the lifecycle handler has a single
// handshake outcome to report.
func (s *authService) VerifySession(credential string) (domain.UserID, error) {
	claims, err := s.validateToken(credential)
	if err != nil {
		return "", domain.ErrAuthenticationRejected
	}
	if claims.UserID == "" {
		return "", domain.ErrAuthenticationRejected
	}
	return claims.UserID, nil
}

func (s *authService) validateToken(tokenString string) (*Claims, error) {
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
		return claims, nil
	}

	return nil, ErrInvalidToken
}
