package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scopes оператора консоли
const (
	ScopeAdmin    = "admin"
	ScopePolicy   = "policy.write"
	ScopeApprover = "escalation.decide"
	ScopeExecutor = "batch.execute"
)

type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "admin": true или "policy.write": true
	jwt.RegisteredClaims
}

// Allows: admin имеет все права.
func (c *CustomClaims) Allows(scope string) bool {
	if c == nil {
		return false
	}
	return c.Scopes[ScopeAdmin] || c.Scopes[scope]
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}

type User struct {
	ID           string          `json:"id"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"` // Никогда не отправляем наружу
	Scopes       map[string]bool `json:"scopes"`
	CreatedAt    time.Time       `json:"created_at"`
}
