package service

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/netops-governor/internal/domain"
	"github.com/xela07ax/netops-governor/internal/store"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type AuthService struct {
	users      store.UserStore
	privateKey *rsa.PrivateKey
	ttl        time.Duration
	issuer     string
	cost       int
}

func NewAuthService(users store.UserStore, privateKey *rsa.PrivateKey, ttl time.Duration, issuer string, cost int) *AuthService {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	return &AuthService{users: users, privateKey: privateKey, ttl: ttl, issuer: issuer, cost: cost}
}

func (s *AuthService) GenerateToken(ctx context.Context, username, password string) (*domain.TokenResponse, error) {
	// 1. Аутентификация (источник правды: хранилище пользователей)
	user, err := s.users.GetUserByUsername(ctx, username)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, fmt.Errorf("auth: load user: %w", err)
	}

	// 2. Проверка пароля
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	// 3. Claims: scopes берем из прав пользователя
	now := time.Now()
	expiresAt := now.Add(s.ttl)
	claims := &domain.CustomClaims{
		UserID: user.ID,
		Scopes: user.Scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.Username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	// 4. Подпись закрытым ключом (RS256)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &domain.TokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.ttl.Seconds()),
	}, nil
}

// EnsureUser создает оператора, если имя свободно. Используется для bootstrap-администратора.
func (s *AuthService) EnsureUser(ctx context.Context, username, password string, scopes ...string) error {
	if _, err := s.users.GetUserByUsername(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	set := make(map[string]bool, len(scopes))
	for _, sc := range scopes {
		set[sc] = true
	}
	err = s.users.CreateUser(ctx, &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		Scopes:       set,
	})
	if errors.Is(err, store.ErrUserExists) {
		return nil
	}
	return err
}
