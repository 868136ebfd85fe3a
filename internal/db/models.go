package db

import (
	"slices"
	"time"
)

// Role names.
const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

type User struct {
	ID              int64     `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	Email           string    `json:"email" db:"email"`
	PasswordHash    string    `json:"-" db:"password_hash"` // empty for OAuth-only accounts
	Provider        string    `json:"provider,omitempty" db:"provider"`
	ProviderSubject string    `json:"-" db:"provider_subject"`
	Roles           []string  `json:"roles"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// HasUsablePassword reports whether the account can log in with a password.
func (u *User) HasUsablePassword() bool {
	return u.PasswordHash != ""
}

func (u *User) HasRole(name string) bool {
	return slices.Contains(u.Roles, name)
}

type Role struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

type PostStatus string

const (
	StatusDraft     PostStatus = "draft"
	StatusPublished PostStatus = "published"
	StatusArchived  PostStatus = "archived"
)

func (s PostStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	}
	return false
}

// Author is the public projection of a post's owner.
type Author struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Post struct {
	ID          int64             `json:"id" db:"id"`
	UserID      int64             `json:"user_id" db:"user_id"`
	Title       string            `json:"title" db:"title"`
	Slug        string            `json:"slug" db:"slug"`
	Content     string            `json:"content" db:"content"`
	Status      PostStatus        `json:"status" db:"status"`
	PublishedAt *time.Time        `json:"published_at" db:"published_at"`
	CoverImage  string            `json:"cover_image" db:"cover_image"` // blob key, empty when absent
	Tags        []string          `json:"tags" db:"tags"`
	Meta        map[string]string `json:"meta" db:"meta"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
	DeletedAt   *time.Time        `json:"deleted_at,omitempty" db:"deleted_at"`

	// Populated by store reads.
	Author     *Author    `json:"user,omitempty"`
	Categories []Category `json:"categories"`
}

// CategoryIDs returns the ids of the attached categories in order.
func (p *Post) CategoryIDs() []int64 {
	ids := make([]int64, 0, len(p.Categories))
	for _, c := range p.Categories {
		ids = append(ids, c.ID)
	}
	return ids
}

type Category struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Slug      string    `json:"slug" db:"slug"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PostFilter narrows post listings. Zero values mean "no filter".
type PostFilter struct {
	Status     PostStatus
	UserID     int64
	CategoryID int64
	Limit      int
	Offset     int
}

// SyncResult reports the pivot changes made by a category sync.
type SyncResult struct {
	Attached []int64 `json:"attached"`
	Detached []int64 `json:"detached"`
}
