package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/raakeshmj/postplane/internal/db"
	apperrors "github.com/raakeshmj/postplane/internal/errors"
	"github.com/raakeshmj/postplane/internal/notify"
	"github.com/raakeshmj/postplane/internal/repository"
	"github.com/raakeshmj/postplane/internal/slug"
	"github.com/raakeshmj/postplane/internal/storage"
)

const (
	MaxCoverSize = 2 << 20

	maxSEOTitle       = 60
	maxSEODescription = 120

	defaultPageSize = 15
	maxPageSize     = 100
)

// coverTypes maps the accepted sniffed content types to file extensions.
var coverTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Upload is a cover image as received from the client.
type Upload struct {
	Filename string
	Data     []byte
}

type PostInput struct {
	Title       string            `json:"title"`
	Slug        string            `json:"slug"`
	Content     string            `json:"content"`
	Status      db.PostStatus     `json:"status"`
	PublishedAt *time.Time        `json:"published_at"`
	Tags        []string          `json:"tags"`
	Meta        map[string]string `json:"meta"`
	CategoryIDs []int64           `json:"category_ids"`
	Cover       *Upload           `json:"-"`
}

// PostPatch changes only the fields that are set. Nil slices and maps leave
// the stored value alone; empty ones clear it.
type PostPatch struct {
	Title       *string           `json:"title"`
	Slug        *string           `json:"slug"`
	Content     *string           `json:"content"`
	Status      *db.PostStatus    `json:"status"`
	PublishedAt *time.Time        `json:"published_at"`
	Tags        []string          `json:"tags"`
	Meta        map[string]string `json:"meta"`
	CategoryIDs []int64           `json:"category_ids"`
	Cover       *Upload           `json:"-"`
}

type PostService struct {
	posts      repository.PostRepository
	categories repository.CategoryRepository
	blobs      storage.Store
	events     notify.Publisher
	now        func() time.Time
}

func NewPostService(posts repository.PostRepository, categories repository.CategoryRepository, blobs storage.Store, events notify.Publisher) *PostService {
	if events == nil {
		events = notify.Discard{}
	}
	return &PostService{
		posts:      posts,
		categories: categories,
		blobs:      blobs,
		events:     events,
		now:        time.Now,
	}
}

// CoverURL is the public address of a stored cover, or empty.
func (s *PostService) CoverURL(key string) string {
	if key == "" {
		return ""
	}
	return s.blobs.URL(key)
}

func (s *PostService) List(ctx context.Context, filter db.PostFilter) ([]*db.Post, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		var v apperrors.Validation
		v.Add("status", "must be one of draft, published, archived")
		return nil, v.Err()
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultPageSize
	case filter.Limit > maxPageSize:
		filter.Limit = maxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	posts, err := s.posts.ListPosts(ctx, filter)
	if err != nil {
		return nil, storeError(err, "posts")
	}
	if posts == nil {
		posts = []*db.Post{}
	}
	return posts, nil
}

func (s *PostService) Get(ctx context.Context, id int64) (*db.Post, error) {
	post, err := s.posts.FindPost(ctx, id, false)
	if err != nil {
		return nil, storeError(err, "post")
	}
	return post, nil
}

// Create stores the cover first and removes it again if the row cannot be
// written.
func (s *PostService) Create(ctx context.Context, author *db.User, in PostInput) (*db.Post, error) {
	post := &db.Post{
		UserID:      author.ID,
		Title:       strings.TrimSpace(in.Title),
		Slug:        strings.TrimSpace(in.Slug),
		Content:     in.Content,
		Status:      in.Status,
		PublishedAt: in.PublishedAt,
		Tags:        in.Tags,
		Meta:        in.Meta,
	}
	if post.Status == "" {
		post.Status = db.StatusDraft
	}
	if post.Slug == "" {
		post.Slug = slug.Make(post.Title)
	}
	if post.Tags == nil {
		post.Tags = []string{}
	}
	if post.Meta == nil {
		post.Meta = map[string]string{}
	}

	var v apperrors.Validation
	checkPost(&v, post)
	ext := checkCover(&v, in.Cover)
	if err := s.checkCategories(ctx, &v, in.CategoryIDs); err != nil {
		return nil, err
	}
	if err := v.Err(); err != nil {
		return nil, err
	}
	s.defaultPublishedAt(post)

	if in.Cover != nil {
		key, err := s.storeCover(ctx, in.Cover, ext)
		if err != nil {
			return nil, err
		}
		post.CoverImage = key
	}

	if err := s.posts.CreatePost(ctx, post, in.CategoryIDs); err != nil {
		s.discardCover(post.CoverImage)
		return nil, postWriteError(err)
	}

	s.events.Publish(notify.Event{Kind: notify.PostCreated, User: author, Post: post})
	return post, nil
}

// Update applies patch to a post the caller may modify. A new cover replaces
// the old one: the old file is deleted before the new one is stored.
func (s *PostService) Update(ctx context.Context, caller *db.User, id int64, patch PostPatch) (*db.Post, error) {
	post, err := s.posts.FindPost(ctx, id, false)
	if err != nil {
		return nil, storeError(err, "post")
	}
	if err := checkOwner(caller, post); err != nil {
		return nil, err
	}

	if patch.Title != nil {
		post.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Slug != nil {
		post.Slug = strings.TrimSpace(*patch.Slug)
		if post.Slug == "" {
			post.Slug = slug.Make(post.Title)
		}
	}
	if patch.Content != nil {
		post.Content = *patch.Content
	}
	if patch.Status != nil {
		post.Status = *patch.Status
	}
	if patch.PublishedAt != nil {
		post.PublishedAt = patch.PublishedAt
	}
	if patch.Tags != nil {
		post.Tags = patch.Tags
	}
	if patch.Meta != nil {
		post.Meta = patch.Meta
	}

	var v apperrors.Validation
	checkPost(&v, post)
	ext := checkCover(&v, patch.Cover)
	if err := s.checkCategories(ctx, &v, patch.CategoryIDs); err != nil {
		return nil, err
	}
	if err := v.Err(); err != nil {
		return nil, err
	}
	s.defaultPublishedAt(post)

	var stored string
	if patch.Cover != nil {
		s.discardCover(post.CoverImage)
		stored, err = s.storeCover(ctx, patch.Cover, ext)
		if err != nil {
			return nil, err
		}
		post.CoverImage = stored
	}

	if err := s.posts.UpdatePost(ctx, post, patch.CategoryIDs); err != nil {
		s.discardCover(stored)
		return nil, postWriteError(err)
	}
	return post, nil
}

// Delete soft-deletes a post the caller may modify.
func (s *PostService) Delete(ctx context.Context, caller *db.User, id int64) error {
	post, err := s.posts.FindPost(ctx, id, false)
	if err != nil {
		return storeError(err, "post")
	}
	if err := checkOwner(caller, post); err != nil {
		return err
	}
	return storeError(s.posts.SoftDeletePost(ctx, id, s.now()), "post")
}

// Restore brings back a soft-deleted post. Active or unknown ids are NotFound.
func (s *PostService) Restore(ctx context.Context, caller *db.User, id int64) (*db.Post, error) {
	post, err := s.posts.FindPost(ctx, id, true)
	if err != nil {
		return nil, storeError(err, "deleted post")
	}
	if err := checkOwner(caller, post); err != nil {
		return nil, err
	}
	if err := s.posts.RestorePost(ctx, id); err != nil {
		return nil, storeError(err, "deleted post")
	}
	return s.Get(ctx, id)
}

// checkOwner lets admins modify any post and everyone else only their own.
func checkOwner(caller *db.User, post *db.Post) error {
	if caller.HasRole(db.RoleAdmin) || post.UserID == caller.ID {
		return nil
	}
	return apperrors.New(apperrors.CodeForbidden, "you can only modify your own posts")
}

func checkPost(v *apperrors.Validation, p *db.Post) {
	requireString(v, "title", p.Title, maxStringLength)
	if strings.ContainsFunc(p.Title, unicode.IsControl) {
		v.Add("title", "may not contain control characters")
	}
	switch {
	case p.Slug == "":
		v.Add("slug", "could not be derived from the title")
	case !slug.Valid(p.Slug) || len(p.Slug) > maxStringLength:
		v.Add("slug", "may only contain lowercase letters, digits and single hyphens")
	}
	if strings.TrimSpace(p.Content) == "" {
		v.Add("content", "is required")
	}
	if !p.Status.Valid() {
		v.Add("status", "must be one of draft, published, archived")
	}
	for i, tag := range p.Tags {
		if strings.TrimSpace(tag) == "" || utf8.RuneCountInString(tag) > 50 {
			v.Add(fmt.Sprintf("tags.%d", i), "must be between 1 and 50 characters")
		}
	}
	if utf8.RuneCountInString(p.Meta["seo_title"]) > maxSEOTitle {
		v.Add("meta.seo_title", fmt.Sprintf("may not be greater than %d characters", maxSEOTitle))
	}
	if utf8.RuneCountInString(p.Meta["seo_desc"]) > maxSEODescription {
		v.Add("meta.seo_desc", fmt.Sprintf("may not be greater than %d characters", maxSEODescription))
	}
}

// checkCover validates the upload and returns the extension to store it under.
func checkCover(v *apperrors.Validation, up *Upload) string {
	if up == nil {
		return ""
	}
	if len(up.Data) == 0 {
		v.Add("cover_image", "is empty")
		return ""
	}
	if len(up.Data) > MaxCoverSize {
		v.Add("cover_image", "may not be greater than 2048 kilobytes")
		return ""
	}
	ext, ok := coverTypes[http.DetectContentType(up.Data)]
	if !ok {
		v.Add("cover_image", "must be a file of type: jpeg, png, gif, webp")
	}
	return ext
}

func (s *PostService) checkCategories(ctx context.Context, v *apperrors.Validation, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	missing, err := s.categories.MissingCategories(ctx, ids)
	if err != nil {
		return storeError(err, "categories")
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		v.Add("category_ids", fmt.Sprintf("unknown categories %v", missing))
	}
	return nil
}

func (s *PostService) defaultPublishedAt(p *db.Post) {
	if p.Status == db.StatusPublished && p.PublishedAt == nil {
		now := s.now().UTC()
		p.PublishedAt = &now
	}
}

func (s *PostService) storeCover(ctx context.Context, up *Upload, ext string) (string, error) {
	key := "posts/" + uuid.NewString() + ext
	if err := s.blobs.Put(ctx, key, bytes.NewReader(up.Data)); err != nil {
		return "", fmt.Errorf("store cover: %w", err)
	}
	return key, nil
}

// discardCover removes a blob best effort; a leftover file is only logged.
func (s *PostService) discardCover(key string) {
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.blobs.Delete(ctx, key); err != nil {
		log.Printf("posts: delete cover %s: %v", key, err)
	}
}

// postWriteError maps store failures on create and update. A category that
// vanished between the check and the write is still a validation error.
func postWriteError(err error) error {
	switch {
	case errors.Is(err, repository.ErrConflict):
		return fieldConflict("slug", "has already been taken", err)
	case errors.Is(err, repository.ErrNotFound):
		var v apperrors.Validation
		v.Add("category_ids", "contains unknown categories")
		return v.Err()
	}
	return storeError(err, "post")
}
