// Package middleware содержит HTTP-обёртки: аутентификацию по JWT и журнал запросов.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/maynagashev/assetkeeper/internal/logger"
)

// Тип для ключа контекста.
type contextKey string

// ActorKey - ключ, под которым в контексте лежит идентификатор пользователя.
const ActorKey contextKey = "actor"

// Claims - данные токена. Пользователь передаётся в sub.
type Claims struct {
	jwt.RegisteredClaims
}

// NewAuthenticator возвращает middleware, проверяющий Bearer-токен, подписанный HS256 ключом secret.
// Токены выпускает внешний сервис, здесь только проверка.
func NewAuthenticator(secret []byte, log *logger.Logger) func(http.Handler) http.Handler {
	log = log.Component("auth")
	keyFunc := func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный метод подписи: %v", token.Header["alg"])
		}
		return secret, nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				log.Debug().Str("path", r.URL.Path).Msg("Заголовок Authorization отсутствует")
				http.Error(w, "Требуется аутентификация", http.StatusUnauthorized)
				return
			}

			// Формат "Bearer token"
			headerParts := strings.Split(authHeader, " ")
			if len(headerParts) != 2 || strings.ToLower(headerParts[0]) != "bearer" || headerParts[1] == "" {
				log.Debug().Msg("Неверный формат заголовка Authorization")
				http.Error(w, "Неверный формат токена", http.StatusUnauthorized)
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(headerParts[1], claims, keyFunc,
				jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				log.Debug().Err(err).Msg("Токен не прошёл проверку")
				http.Error(w, "Невалидный токен", http.StatusUnauthorized)
				return
			}
			if claims.Subject == "" {
				log.Debug().Msg("В токене нет sub")
				http.Error(w, "Невалидный токен", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ActorKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromContext извлекает пользователя из контекста запроса.
func ActorFromContext(ctx context.Context) (string, bool) {
	actor, ok := ctx.Value(ActorKey).(string)
	return actor, ok && actor != ""
}
