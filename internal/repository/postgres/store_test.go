package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/raakeshmj/postplane/internal/db"
	"github.com/raakeshmj/postplane/internal/repository"
)

// openTestStore connects to POSTGRES_TEST_URL; the tests skip without it.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("POSTGRES_TEST_URL")
	if url == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}
	ctx := context.Background()
	store, err := Open(ctx, url)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := store.DB.Exec(ctx, `TRUNCATE category_post, posts, categories, role_user, users RESTART IDENTITY`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func uniqueEmail(prefix string) string {
	return fmt.Sprintf("%s-%d@example.com", prefix, time.Now().UnixNano())
}

func TestCreateUser_ConflictAndCredentials(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	email := uniqueEmail("ada")

	u := &db.User{Name: "Ada", Email: email, PasswordHash: "hash"}
	if err := store.CreateUser(ctx, u, []string{db.RoleViewer}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := store.CreateUser(ctx, &db.User{Name: "Ada", Email: email, PasswordHash: "x"}, nil); !errors.Is(err, repository.ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}
	if err := store.CreateUser(ctx, &db.User{Name: "None", Email: uniqueEmail("none")}, nil); !errors.Is(err, repository.ErrNoCredentials) {
		t.Errorf("Expected ErrNoCredentials, got %v", err)
	}

	got, err := store.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if len(got.Roles) != 1 || got.Roles[0] != db.RoleViewer {
		t.Errorf("Expected [viewer], got %v", got.Roles)
	}
}

func TestPosts_LifecycleAndSync(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	author := &db.User{Name: "Ed", Email: uniqueEmail("ed"), PasswordHash: "hash"}
	if err := store.CreateUser(ctx, author, []string{db.RoleEditor}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	var cats []int64
	for _, name := range []string{"a", "b", "c"} {
		c := &db.Category{Name: name, Slug: fmt.Sprintf("%s-%d", name, time.Now().UnixNano())}
		if err := store.CreateCategory(ctx, c); err != nil {
			t.Fatalf("CreateCategory failed: %v", err)
		}
		cats = append(cats, c.ID)
	}

	post := &db.Post{
		UserID: author.ID, Title: "Hi", Slug: fmt.Sprintf("hi-%d", time.Now().UnixNano()),
		Status: db.StatusDraft, Tags: []string{"x"}, Meta: map[string]string{"seo_title": "Hi"},
	}
	if err := store.CreatePost(ctx, post, cats[:2]); err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}
	if len(post.Categories) != 2 || post.Meta["seo_title"] != "Hi" {
		t.Fatalf("Unexpected created post: %+v", post)
	}

	res, err := store.SyncCategories(ctx, post.ID, []int64{cats[1], cats[2]})
	if err != nil {
		t.Fatalf("SyncCategories failed: %v", err)
	}
	if len(res.Attached) != 1 || len(res.Detached) != 1 {
		t.Errorf("Unexpected sync result: %+v", res)
	}
	res, _ = store.SyncCategories(ctx, post.ID, []int64{cats[1], cats[2]})
	if len(res.Attached) != 0 || len(res.Detached) != 0 {
		t.Errorf("Expected idempotent sync, got %+v", res)
	}

	if err := store.SoftDeletePost(ctx, post.ID, time.Now()); err != nil {
		t.Fatalf("SoftDeletePost failed: %v", err)
	}
	if _, err := store.FindPost(ctx, post.ID, false); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := store.RestorePost(ctx, post.ID); err != nil {
		t.Fatalf("RestorePost failed: %v", err)
	}
	if err := store.RestorePost(ctx, post.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second restore, got %v", err)
	}
}
