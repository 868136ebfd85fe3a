package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/raakeshmj/postplane/internal/db"
	"github.com/raakeshmj/postplane/internal/repository"
)

func (s *Store) CreateCategory(ctx context.Context, category *db.Category) error {
	now := s.now().UTC()
	err := s.DB.QueryRow(ctx,
		`INSERT INTO categories (name, slug, created_at) VALUES ($1, $2, $3) RETURNING id`,
		category.Name, category.Slug, now).Scan(&category.ID)
	if err != nil {
		return mapError(err)
	}
	category.CreatedAt = now
	return nil
}

func (s *Store) ListCategories(ctx context.Context) ([]*db.Category, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, name, slug, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToAddrOfStructByPos[db.Category])
}

func (s *Store) MissingCategories(ctx context.Context, ids []int64) ([]int64, error) {
	return missingCategories(ctx, s.DB, repository.UniqueIDs(ids))
}

func missingCategories(ctx context.Context, q querier, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := q.Query(ctx,
		`SELECT want FROM unnest($1::bigint[]) AS want
		 WHERE NOT EXISTS (SELECT 1 FROM categories c WHERE c.id = want)
		 ORDER BY want`, ids)
	if err != nil {
		return nil, err
	}
	missing, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	if len(missing) == 0 {
		return nil, nil
	}
	return missing, nil
}
