package rbac

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store keeps grants in the user_permissions table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// UserPermissions lists the permissions granted to userID.
func (s *Store) UserPermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT permission FROM user_permissions WHERE user_id = $1 ORDER BY permission`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Grant adds perms to userID, ignoring ones already present.
func (s *Store) Grant(ctx context.Context, userID int64, perms []string) error {
	batch := &pgx.Batch{}
	for _, p := range perms {
		batch.Queue(`INSERT INTO user_permissions (user_id, permission) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, p)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// Revoke removes perms from userID.
func (s *Store) Revoke(ctx context.Context, userID int64, perms []string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1 AND permission = ANY($2)`, userID, perms)
	return err
}
