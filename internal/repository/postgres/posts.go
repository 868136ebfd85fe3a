package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/raakeshmj/postplane/internal/db"
	"github.com/raakeshmj/postplane/internal/repository"
)

const postSelect = `SELECT p.id, p.user_id, p.title, p.slug, p.content, p.status, p.published_at,
       p.cover_image, p.tags, p.meta, p.created_at, p.updated_at, p.deleted_at, u.name, u.email
FROM posts p
JOIN users u ON u.id = p.user_id`

func (s *Store) CreatePost(ctx context.Context, post *db.Post, categoryIDs []int64) error {
	now := s.now().UTC()
	ids := repository.UniqueIDs(categoryIDs)

	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := requireCategories(ctx, tx, ids); err != nil {
			return err
		}
		var id int64
		err := tx.QueryRow(ctx,
			`INSERT INTO posts (user_id, title, slug, content, status, published_at, cover_image, tags, meta, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10) RETURNING id`,
			post.UserID, post.Title, post.Slug, post.Content, string(post.Status), post.PublishedAt,
			nullString(post.CoverImage), tagsOrEmpty(post.Tags), metaOrEmpty(post.Meta), now,
		).Scan(&id)
		if err != nil {
			return mapError(err)
		}
		if len(ids) > 0 {
			if _, err := tx.Exec(ctx,
				`INSERT INTO category_post (post_id, category_id, created_at)
				 SELECT $1, unnest($2::bigint[]), $3`, id, ids, now); err != nil {
				return mapError(err)
			}
		}
		loaded, err := findPost(ctx, tx, id, false)
		if err != nil {
			return err
		}
		*post = *loaded
		return nil
	})
}

func (s *Store) FindPost(ctx context.Context, id int64, trashed bool) (*db.Post, error) {
	return findPost(ctx, s.DB, id, trashed)
}

func findPost(ctx context.Context, q querier, id int64, trashed bool) (*db.Post, error) {
	cond := "p.deleted_at IS NULL"
	if trashed {
		cond = "p.deleted_at IS NOT NULL"
	}
	rows, err := q.Query(ctx, postSelect+` WHERE p.id = $1 AND `+cond, id)
	if err != nil {
		return nil, err
	}
	posts, err := scanPosts(rows)
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, repository.ErrNotFound
	}
	if err := attachCategories(ctx, q, posts); err != nil {
		return nil, err
	}
	return posts[0], nil
}

func (s *Store) ListPosts(ctx context.Context, filter db.PostFilter) ([]*db.Post, error) {
	var (
		where = []string{"p.deleted_at IS NULL"}
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Status != "" {
		where = append(where, "p.status = "+arg(string(filter.Status)))
	}
	if filter.UserID != 0 {
		where = append(where, "p.user_id = "+arg(filter.UserID))
	}
	if filter.CategoryID != 0 {
		where = append(where, "EXISTS (SELECT 1 FROM category_post cp WHERE cp.post_id = p.id AND cp.category_id = "+arg(filter.CategoryID)+")")
	}

	query := postSelect + " WHERE " + strings.Join(where, " AND ") + " ORDER BY p.id"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	posts, err := scanPosts(rows)
	if err != nil {
		return nil, err
	}
	if err := attachCategories(ctx, s.DB, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

func (s *Store) UpdatePost(ctx context.Context, post *db.Post, categoryIDs []int64) error {
	now := s.now().UTC()

	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE posts SET title = $1, slug = $2, content = $3, status = $4, published_at = $5,
			        cover_image = $6, tags = $7, meta = $8, updated_at = $9
			 WHERE id = $10 AND deleted_at IS NULL`,
			post.Title, post.Slug, post.Content, string(post.Status), post.PublishedAt,
			nullString(post.CoverImage), tagsOrEmpty(post.Tags), metaOrEmpty(post.Meta), now, post.ID,
		)
		if err != nil {
			return mapError(err)
		}
		if tag.RowsAffected() == 0 {
			return repository.ErrNotFound
		}
		if categoryIDs != nil {
			if _, err := syncTx(ctx, tx, post.ID, categoryIDs, now); err != nil {
				return err
			}
		}
		loaded, err := findPost(ctx, tx, post.ID, false)
		if err != nil {
			return err
		}
		*post = *loaded
		return nil
	})
}

func (s *Store) SoftDeletePost(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.DB.Exec(ctx,
		`UPDATE posts SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`, at.UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) RestorePost(ctx context.Context, id int64) error {
	tag, err := s.DB.Exec(ctx,
		`UPDATE posts SET deleted_at = NULL, updated_at = $1 WHERE id = $2 AND deleted_at IS NOT NULL`,
		s.now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) SyncCategories(ctx context.Context, postID int64, categoryIDs []int64) (db.SyncResult, error) {
	var result db.SyncResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		// Lock the post row so concurrent syncs serialize.
		var id int64
		if err := tx.QueryRow(ctx, `SELECT id FROM posts WHERE id = $1 FOR UPDATE`, postID).Scan(&id); err != nil {
			return mapError(err)
		}
		var err error
		result, err = syncTx(ctx, tx, postID, categoryIDs, s.now().UTC())
		return err
	})
	return result, err
}

func syncTx(ctx context.Context, tx pgx.Tx, postID int64, categoryIDs []int64, now time.Time) (db.SyncResult, error) {
	if err := requireCategories(ctx, tx, repository.UniqueIDs(categoryIDs)); err != nil {
		return db.SyncResult{}, err
	}

	rows, err := tx.Query(ctx, `SELECT category_id FROM category_post WHERE post_id = $1`, postID)
	if err != nil {
		return db.SyncResult{}, err
	}
	current, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return db.SyncResult{}, err
	}

	attach, detach := repository.DiffCategories(current, categoryIDs)
	if len(detach) > 0 {
		if _, err := tx.Exec(ctx,
			`DELETE FROM category_post WHERE post_id = $1 AND category_id = ANY($2)`, postID, detach); err != nil {
			return db.SyncResult{}, err
		}
	}
	if len(attach) > 0 {
		if _, err := tx.Exec(ctx,
			`INSERT INTO category_post (post_id, category_id, created_at)
			 SELECT $1, unnest($2::bigint[]), $3
			 ON CONFLICT DO NOTHING`, postID, attach, now); err != nil {
			return db.SyncResult{}, mapError(err)
		}
	}
	return db.SyncResult{Attached: attach, Detached: detach}, nil
}

func requireCategories(ctx context.Context, q querier, ids []int64) error {
	missing, err := missingCategories(ctx, q, ids)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: categories %v", repository.ErrNotFound, missing)
	}
	return nil
}

func scanPosts(rows pgx.Rows) ([]*db.Post, error) {
	defer rows.Close()

	var posts []*db.Post
	for rows.Next() {
		var (
			p      db.Post
			author db.Author
			status string
			cover  *string
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.Title, &p.Slug, &p.Content, &status, &p.PublishedAt,
			&cover, &p.Tags, &p.Meta, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt, &author.Name, &author.Email); err != nil {
			return nil, err
		}
		p.Status = db.PostStatus(status)
		p.CoverImage = deref(cover)
		author.ID = p.UserID
		p.Author = &author
		p.Categories = []db.Category{}
		posts = append(posts, &p)
	}
	return posts, rows.Err()
}

func attachCategories(ctx context.Context, q querier, posts []*db.Post) error {
	if len(posts) == 0 {
		return nil
	}
	byID := make(map[int64]*db.Post, len(posts))
	ids := make([]int64, 0, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	rows, err := q.Query(ctx,
		`SELECT cp.post_id, c.id, c.name, c.slug, c.created_at
		 FROM category_post cp JOIN categories c ON c.id = cp.category_id
		 WHERE cp.post_id = ANY($1)
		 ORDER BY c.id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			postID int64
			c      db.Category
		)
		if err := rows.Scan(&postID, &c.ID, &c.Name, &c.Slug, &c.CreatedAt); err != nil {
			return err
		}
		if p, ok := byID[postID]; ok {
			p.Categories = append(p.Categories, c)
		}
	}
	return rows.Err()
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func metaOrEmpty(meta map[string]string) map[string]string {
	if meta == nil {
		return map[string]string{}
	}
	return meta
}
