package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shenikar/incident_dispatch/internal/models"
)

// Claims - содержимое токена: subject = id пользователя, rol = роль
type Claims struct {
	jwt.RegisteredClaims
	Role models.Role `json:"rol"`
}

// JWTer выпускает и проверяет токены. Выпуск нужен тестам и локальной разработке,
// в продакшене токены приходят от внешнего сервиса учетных записей.
type JWTer struct {
	SecretKey string
}

// CreateJWT подписывает токен для пользователя
func (j JWTer) CreateJWT(userID string, role models.Role, duration time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    "incident-dispatch",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
		},
		Role: role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(j.SecretKey))
	if err != nil {
		return "", fmt.Errorf("[SignedString]: %w", err)
	}
	return token, nil
}

// Authenticate проверяет токен (с префиксом "Bearer " или без) и возвращает личность
func (j JWTer) Authenticate(authHeader string) (models.Identity, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if raw == "" {
		return models.Identity{}, fmt.Errorf("no token provided: %w", models.ErrUnauthenticated)
	}
	claims := Claims{}
	tok, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		return []byte(j.SecretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		return models.Identity{}, fmt.Errorf("[jwt.Parse]: %w", errors.Join(models.ErrUnauthenticated, err))
	}
	if tok == nil || !tok.Valid {
		return models.Identity{}, fmt.Errorf("token is invalid: %w", models.ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return models.Identity{}, fmt.Errorf("subject is required: %w", models.ErrUnauthenticated)
	}
	switch claims.Role {
	case models.RoleReporter, models.RoleResponder, models.RoleSupervisor:
	default:
		return models.Identity{}, fmt.Errorf("unknown role %q: %w", claims.Role, models.ErrUnauthenticated)
	}
	return models.Identity{UserID: claims.Subject, Role: claims.Role, Token: raw}, nil
}
