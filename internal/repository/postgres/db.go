// Package postgres реализует store.Store поверх PostgreSQL (database/sql + драйвер pgx).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres

	"github.com/xela07ax/netops-governor/internal/domain"
	"github.com/xela07ax/netops-governor/internal/store"
)

var ErrConflict = errors.New("postgres: unique constraint violation")

type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open создает пул соединений. Доступность базы проверяется отдельно через Ping.
func Open(connString string, maxConns, minConns int) (*sql.DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 25
	}
	if minConns <= 0 || minConns > maxConns {
		minConns = maxConns
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping проверяет доступность базы при старте
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx: commit при nil от fn, иначе rollback.
func (s *Store) WithTx(ctx context.Context, fn func(store.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&sqlTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// sqlTx: операции записи, разрешенные внутри транзакции.
type sqlTx struct {
	tx *sql.Tx
}

// execer позволяет переиспользовать один SQL и в транзакции, и вне ее.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func mapError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("postgres: %s: %w", op, domain.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("postgres: %s: %w: %s", op, ErrConflict, pgErr.ConstraintName)
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
