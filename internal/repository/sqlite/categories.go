package sqlite

import (
	"context"

	"github.com/raakeshmj/postplane/internal/db"
	"github.com/raakeshmj/postplane/internal/repository"
)

func (s *Store) CreateCategory(ctx context.Context, category *db.Category) error {
	now := s.now().UTC()
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO categories (name, slug, created_at) VALUES (?, ?, ?)`,
		category.Name, category.Slug, toMillis(now))
	if err != nil {
		return mapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	category.ID = id
	category.CreatedAt = now
	return nil
}

func (s *Store) ListCategories(ctx context.Context) ([]*db.Category, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id, name, slug, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []*db.Category{}
	for rows.Next() {
		var (
			c         db.Category
			createdAt int64
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt = fromMillis(createdAt)
		list = append(list, &c)
	}
	return list, rows.Err()
}

func (s *Store) MissingCategories(ctx context.Context, ids []int64) ([]int64, error) {
	return missingCategories(ctx, s.sqlDB, repository.UniqueIDs(ids))
}

func missingCategories(ctx context.Context, q queryer, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.QueryContext(ctx, `SELECT id FROM categories WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[int64]struct{}, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []int64
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
