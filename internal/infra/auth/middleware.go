package auth

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/netops-governor/internal/domain"
)

// TokenValidator: то, что нужно middleware от валидатора
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

type ctxKey struct{}

// WithClaims кладет claims оператора в контекст запроса.
func WithClaims(ctx context.Context, c *domain.CustomClaims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// ClaimsFrom возвращает nil для неаутентифицированного запроса.
func ClaimsFrom(ctx context.Context) *domain.CustomClaims {
	c, _ := ctx.Value(ctxKey{}).(*domain.CustomClaims)
	return c
}

// Actor — имя оператора для журналов; "anonymous" без токена.
func Actor(ctx context.Context) string {
	if c := ClaimsFrom(ctx); c != nil {
		if c.Subject != "" {
			return c.Subject
		}
		return c.UserID
	}
	return "anonymous"
}

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err), zap.String("path", r.URL.Path))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireScope ставится после NewMiddleware; admin проходит любую проверку.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ClaimsFrom(r.Context()).Allows(scope) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
