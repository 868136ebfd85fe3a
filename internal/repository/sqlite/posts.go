package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/raakeshmj/postplane/internal/db"
	"github.com/raakeshmj/postplane/internal/repository"
)

const postSelect = `SELECT p.id, p.user_id, p.title, p.slug, p.content, p.status, p.published_at,
       p.cover_image, p.tags, p.meta, p.created_at, p.updated_at, p.deleted_at, u.name, u.email
FROM posts p
JOIN users u ON u.id = p.user_id`

// CreatePost inserts the post and its pivots in one transaction.
func (s *Store) CreatePost(ctx context.Context, post *db.Post, categoryIDs []int64) error {
	tags, meta, err := encodeTagsMeta(post)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	ids := repository.UniqueIDs(categoryIDs)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireCategories(ctx, tx, ids); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO posts (user_id, title, slug, content, status, published_at, cover_image, tags, meta, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			post.UserID, post.Title, post.Slug, post.Content, string(post.Status), nullMillis(post.PublishedAt),
			nullString(post.CoverImage), tags, meta, toMillis(now), toMillis(now),
		)
		if err != nil {
			return mapError(err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		for _, cid := range ids {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO category_post (post_id, category_id, created_at) VALUES (?, ?, ?)`,
				id, cid, toMillis(now)); err != nil {
				return mapError(err)
			}
		}
		loaded, err := s.findPost(ctx, tx, id, false)
		if err != nil {
			return err
		}
		*post = *loaded
		return nil
	})
}

func (s *Store) FindPost(ctx context.Context, id int64, trashed bool) (*db.Post, error) {
	return s.findPost(ctx, s.sqlDB, id, trashed)
}

func (s *Store) findPost(ctx context.Context, q queryer, id int64, trashed bool) (*db.Post, error) {
	cond := "p.deleted_at IS NULL"
	if trashed {
		cond = "p.deleted_at IS NOT NULL"
	}
	rows, err := q.QueryContext(ctx, postSelect+` WHERE p.id = ? AND `+cond, id)
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
	if filter.Status != "" {
		where = append(where, "p.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.UserID != 0 {
		where = append(where, "p.user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.CategoryID != 0 {
		where = append(where, "EXISTS (SELECT 1 FROM category_post cp WHERE cp.post_id = p.id AND cp.category_id = ?)")
		args = append(args, filter.CategoryID)
	}

	query := postSelect + " WHERE " + strings.Join(where, " AND ") + " ORDER BY p.id"
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, filter.Offset)
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	posts, err := scanPosts(rows)
	if err != nil {
		return nil, err
	}
	if err := attachCategories(ctx, s.sqlDB, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// UpdatePost writes the mutable columns and, when categoryIDs is non-nil,
// reconciles the pivot rows in the same transaction.
func (s *Store) UpdatePost(ctx context.Context, post *db.Post, categoryIDs []int64) error {
	tags, meta, err := encodeTagsMeta(post)
	if err != nil {
		return err
	}
	now := s.now().UTC()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE posts SET title = ?, slug = ?, content = ?, status = ?, published_at = ?, cover_image = ?,
			        tags = ?, meta = ?, updated_at = ?
			 WHERE id = ? AND deleted_at IS NULL`,
			post.Title, post.Slug, post.Content, string(post.Status), nullMillis(post.PublishedAt),
			nullString(post.CoverImage), tags, meta, toMillis(now), post.ID,
		)
		if err != nil {
			return mapError(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return repository.ErrNotFound
		}
		if categoryIDs != nil {
			if _, err := syncTx(ctx, tx, post.ID, categoryIDs, now); err != nil {
				return err
			}
		}
		loaded, err := s.findPost(ctx, tx, post.ID, false)
		if err != nil {
			return err
		}
		*post = *loaded
		return nil
	})
}

func (s *Store) SoftDeletePost(ctx context.Context, id int64, at time.Time) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE posts SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, toMillis(at), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) RestorePost(ctx context.Context, id int64) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE posts SET deleted_at = NULL, updated_at = ? WHERE id = ? AND deleted_at IS NOT NULL`,
		toMillis(s.now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) SyncCategories(ctx context.Context, postID int64, categoryIDs []int64) (db.SyncResult, error) {
	var result db.SyncResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts WHERE id = ?`, postID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return repository.ErrNotFound
		}
		var err error
		result, err = syncTx(ctx, tx, postID, categoryIDs, s.now().UTC())
		return err
	})
	return result, err
}

// syncTx reconciles category_post rows for postID to exactly categoryIDs.
func syncTx(ctx context.Context, tx *sql.Tx, postID int64, categoryIDs []int64, now time.Time) (db.SyncResult, error) {
	if err := requireCategories(ctx, tx, repository.UniqueIDs(categoryIDs)); err != nil {
		return db.SyncResult{}, err
	}

	rows, err := tx.QueryContext(ctx, `SELECT category_id FROM category_post WHERE post_id = ?`, postID)
	if err != nil {
		return db.SyncResult{}, err
	}
	var current []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return db.SyncResult{}, err
		}
		current = append(current, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return db.SyncResult{}, err
	}

	attach, detach := repository.DiffCategories(current, categoryIDs)
	for _, id := range detach {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM category_post WHERE post_id = ? AND category_id = ?`, postID, id); err != nil {
			return db.SyncResult{}, err
		}
	}
	for _, id := range attach {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO category_post (post_id, category_id, created_at) VALUES (?, ?, ?)
			 ON CONFLICT (post_id, category_id) DO NOTHING`, postID, id, toMillis(now)); err != nil {
			return db.SyncResult{}, mapError(err)
		}
	}
	return db.SyncResult{Attached: attach, Detached: detach}, nil
}

func requireCategories(ctx context.Context, q queryer, ids []int64) error {
	missing, err := missingCategories(ctx, q, ids)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: categories %v", repository.ErrNotFound, missing)
	}
	return nil
}

func scanPosts(rows *sql.Rows) ([]*db.Post, error) {
	defer rows.Close()

	var posts []*db.Post
	for rows.Next() {
		var (
			p                      db.Post
			author                 db.Author
			status, tags, meta     string
			publishedAt, deletedAt sql.NullInt64
			cover                  sql.NullString
			createdAt, updatedAt   int64
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.Title, &p.Slug, &p.Content, &status, &publishedAt,
			&cover, &tags, &meta, &createdAt, &updatedAt, &deletedAt, &author.Name, &author.Email); err != nil {
			return nil, err
		}
		p.Status = db.PostStatus(status)
		p.PublishedAt = timePtr(publishedAt)
		p.DeletedAt = timePtr(deletedAt)
		p.CoverImage = cover.String
		p.CreatedAt = fromMillis(createdAt)
		p.UpdatedAt = fromMillis(updatedAt)
		if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
			return nil, fmt.Errorf("decode tags for post %d: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(meta), &p.Meta); err != nil {
			return nil, fmt.Errorf("decode meta for post %d: %w", p.ID, err)
		}
		author.ID = p.UserID
		p.Author = &author
		p.Categories = []db.Category{}
		posts = append(posts, &p)
	}
	return posts, rows.Err()
}

// attachCategories loads the categories of every post with a single query.
func attachCategories(ctx context.Context, q queryer, posts []*db.Post) error {
	if len(posts) == 0 {
		return nil
	}
	byID := make(map[int64]*db.Post, len(posts))
	args := make([]any, 0, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
		args = append(args, p.ID)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT cp.post_id, c.id, c.name, c.slug, c.created_at
		 FROM category_post cp JOIN categories c ON c.id = cp.category_id
		 WHERE cp.post_id IN (`+placeholders(len(args))+`)
		 ORDER BY c.id`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			postID    int64
			c         db.Category
			createdAt int64
		)
		if err := rows.Scan(&postID, &c.ID, &c.Name, &c.Slug, &createdAt); err != nil {
			return err
		}
		c.CreatedAt = fromMillis(createdAt)
		if p, ok := byID[postID]; ok {
			p.Categories = append(p.Categories, c)
		}
	}
	return rows.Err()
}

func encodeTagsMeta(p *db.Post) (string, string, error) {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	meta := p.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return "", "", fmt.Errorf("encode tags: %w", err)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", "", fmt.Errorf("encode meta: %w", err)
	}
	return string(tagsJSON), string(metaJSON), nil
}
