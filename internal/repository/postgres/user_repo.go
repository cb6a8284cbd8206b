package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/xela07ax/netops-governor/internal/domain"
	"github.com/xela07ax/netops-governor/internal/store"
)

var _ store.UserStore = (*Store)(nil)

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT id, username, password_hash, scopes, created_at FROM users WHERE username = $1`

	var u domain.User
	var scopes []byte
	err := s.db.QueryRowContext(ctx, query, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &scopes, &u.CreatedAt)
	if err != nil {
		return nil, mapError("get user", err)
	}
	u.Scopes = map[string]bool{}
	if len(scopes) > 0 {
		var list []string
		if err := json.Unmarshal(scopes, &list); err != nil {
			return nil, fmt.Errorf("postgres: decode scopes: %w", err)
		}
		for _, sc := range list {
			u.Scopes[sc] = true
		}
	}
	return &u, nil
}

// CreateUser: дубликат имени возвращает store.ErrUserExists
func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	list := make([]string, 0, len(u.Scopes))
	for sc, ok := range u.Scopes {
		if ok {
			list = append(list, sc)
		}
	}
	sort.Strings(list)
	scopes, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("postgres: marshal scopes: %w", err)
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, scopes, created_at) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Username, u.PasswordHash, scopes, u.CreatedAt)
	if err != nil {
		mapped := mapError("create user", err)
		if errors.Is(mapped, ErrConflict) {
			return fmt.Errorf("postgres: create user %s: %w", u.Username, store.ErrUserExists)
		}
		return mapped
	}
	return nil
}
