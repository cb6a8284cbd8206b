package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xela07ax/netops-governor/internal/domain"
)

const policyColumns = `id, version, content, content_hash, diff, created_by, created_at, rolled_back_from`

func (t *sqlTx) InsertPolicyVersion(ctx context.Context, v *domain.PolicyVersion) error {
	query := `
		INSERT INTO policy_versions (` + policyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := t.tx.ExecContext(ctx, query,
		v.ID, v.Version, v.Content, v.ContentHash, v.Diff, v.CreatedBy, v.CreatedAt, nullString(v.RolledBackFrom),
	)
	if err != nil {
		return mapError("insert policy version", err)
	}
	return nil
}

func scanPolicyVersion(row rowScanner) (*domain.PolicyVersion, error) {
	var v domain.PolicyVersion
	var from sql.NullString
	if err := row.Scan(&v.ID, &v.Version, &v.Content, &v.ContentHash, &v.Diff, &v.CreatedBy, &v.CreatedAt, &from); err != nil {
		return nil, err
	}
	v.RolledBackFrom = fromNull(from)
	return &v, nil
}

func (s *Store) GetPolicyVersion(ctx context.Context, id string) (*domain.PolicyVersion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM policy_versions WHERE id = $1`, id)
	v, err := scanPolicyVersion(row)
	if err != nil {
		return nil, mapError("get policy version", err)
	}
	return v, nil
}

// LatestPolicyVersion — последняя вставленная версия (порядок по seq, не по времени).
func (s *Store) LatestPolicyVersion(ctx context.Context) (*domain.PolicyVersion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM policy_versions ORDER BY seq DESC LIMIT 1`)
	v, err := scanPolicyVersion(row)
	if err != nil {
		return nil, mapError("latest policy version", err)
	}
	return v, nil
}

func (s *Store) ListPolicyVersions(ctx context.Context, limit int) ([]domain.PolicyVersion, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+policyColumns+` FROM policy_versions ORDER BY seq DESC LIMIT $1`, limit)
	if err != nil {
		return nil, mapError("list policy versions", err)
	}
	defer rows.Close()

	out := make([]domain.PolicyVersion, 0)
	for rows.Next() {
		v, err := scanPolicyVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan policy version: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}
