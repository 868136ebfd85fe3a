package repository

import (
	"context"
	"errors"
	"time"

	"github.com/raakeshmj/postplane/internal/db"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("unique constraint violated")
	// ErrNoCredentials rejects users that have neither a password nor a provider.
	ErrNoCredentials = errors.New("user needs a password hash or a provider")
)

type UserRepository interface {
	// CreateUser inserts the user and attaches roles atomically. Duplicate
	// emails return ErrConflict.
	CreateUser(ctx context.Context, user *db.User, roles []string) error
	GetUser(ctx context.Context, id int64) (*db.User, error)
	GetUserByEmail(ctx context.Context, email string) (*db.User, error)
	LinkProvider(ctx context.Context, id int64, provider, subject string) error
}

type PostRepository interface {
	// CreatePost inserts the post and its category pivots atomically.
	CreatePost(ctx context.Context, post *db.Post, categoryIDs []int64) error
	// FindPost returns an active post, or a soft-deleted one when trashed is true.
	FindPost(ctx context.Context, id int64, trashed bool) (*db.Post, error)
	ListPosts(ctx context.Context, filter db.PostFilter) ([]*db.Post, error)
	// UpdatePost writes the mutable columns; categoryIDs is synced only when non-nil.
	UpdatePost(ctx context.Context, post *db.Post, categoryIDs []int64) error
	SoftDeletePost(ctx context.Context, id int64, at time.Time) error
	RestorePost(ctx context.Context, id int64) error
	SyncCategories(ctx context.Context, postID int64, categoryIDs []int64) (db.SyncResult, error)
}

type CategoryRepository interface {
	CreateCategory(ctx context.Context, category *db.Category) error
	ListCategories(ctx context.Context) ([]*db.Category, error)
	// MissingCategories returns the ids that do not exist.
	MissingCategories(ctx context.Context, ids []int64) ([]int64, error)
}

// Store bundles every repository a backend provides.
type Store interface {
	UserRepository
	PostRepository
	CategoryRepository
	Ping(ctx context.Context) error
	Close() error
}
