package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// APIKeyRepo reads provider keys users stored for themselves.
type APIKeyRepo struct {
	pool *pgxpool.Pool
}

func NewAPIKeyRepo(pool *pgxpool.Pool) *APIKeyRepo {
	return &APIKeyRepo{pool: pool}
}

// ProviderKey returns "" when the user has no key for provider.
func (r *APIKeyRepo) ProviderKey(ctx context.Context, userID uuid.UUID, provider string) (string, error) {
	var key string
	err := r.pool.QueryRow(ctx,
		"SELECT api_key FROM api_keys WHERE user_id = $1 AND lower(provider) = $2",
		userID, strings.ToLower(provider),
	).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return key, nil
}

func (r *APIKeyRepo) ProvidersWithKeys(ctx context.Context, userID uuid.UUID) (map[string]bool, error) {
	rows, err := r.pool.Query(ctx, "SELECT lower(provider) FROM api_keys WHERE user_id = $1", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out[p] = true
	}
	return out, rows.Err()
}
