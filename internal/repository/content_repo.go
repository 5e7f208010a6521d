package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"scribe-backend/internal/models"
)

type ContentRepo struct {
	pool *pgxpool.Pool
}

func NewContentRepo(pool *pgxpool.Pool) *ContentRepo {
	return &ContentRepo{pool: pool}
}

func (r *ContentRepo) Insert(ctx context.Context, c *models.Content) error {
	c.ID = uuid.New()

	query := `INSERT INTO content (id, user_id, title, body, type, model)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		c.ID, c.UserID, c.Title, c.Body, c.Type, c.Model,
	).Scan(&c.CreatedAt)
}
