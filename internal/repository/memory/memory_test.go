package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/raakeshmj/postplane/internal/db"
	"github.com/raakeshmj/postplane/internal/repository"
)

func seedUser(t *testing.T, repo *MemoryRepository, email string) *db.User {
	t.Helper()
	u := &db.User{Name: "Ada", Email: email, PasswordHash: "hash"}
	if err := repo.CreateUser(context.Background(), u, []string{db.RoleViewer}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return u
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	repo := New()
	seedUser(t, repo, "ada@example.com")

	err := repo.CreateUser(context.Background(), &db.User{Name: "Ada", Email: "ADA@example.com", PasswordHash: "x"}, nil)
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}
}

func TestCreateUser_ConcurrentDuplicates(t *testing.T) {
	repo := New()
	var wg sync.WaitGroup
	var mu sync.Mutex
	created, conflicts := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.CreateUser(context.Background(), &db.User{Name: "Bo", Email: "bo@example.com", PasswordHash: "x"}, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, repository.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if created != 1 || conflicts != 19 {
		t.Errorf("Expected 1 create and 19 conflicts, got %d and %d", created, conflicts)
	}
}

func TestCreateUser_RequiresCredentials(t *testing.T) {
	repo := New()
	err := repo.CreateUser(context.Background(), &db.User{Name: "x", Email: "x@example.com"}, nil)
	if !errors.Is(err, repository.ErrNoCredentials) {
		t.Fatalf("Expected ErrNoCredentials, got %v", err)
	}
}

func TestSoftDeleteAndRestore(t *testing.T) {
	repo := New()
	ctx := context.Background()
	u := seedUser(t, repo, "ed@example.com")

	p := &db.Post{UserID: u.ID, Title: "T", Slug: "t", Content: "c", Status: db.StatusDraft}
	if err := repo.CreatePost(ctx, p, nil); err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}

	// Restore on an active post is NotFound.
	if err := repo.RestorePost(ctx, p.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound restoring active post, got %v", err)
	}

	if err := repo.SoftDeletePost(ctx, p.ID, time.Now()); err != nil {
		t.Fatalf("SoftDeletePost failed: %v", err)
	}
	if _, err := repo.FindPost(ctx, p.ID, false); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Deleted post should be hidden, got %v", err)
	}
	trashed, err := repo.FindPost(ctx, p.ID, true)
	if err != nil || trashed.DeletedAt == nil {
		t.Fatalf("Expected trashed post with deleted_at, got %v %v", trashed, err)
	}
	list, _ := repo.ListPosts(ctx, db.PostFilter{})
	if len(list) != 0 {
		t.Errorf("Expected no listed posts, got %d", len(list))
	}

	if err := repo.RestorePost(ctx, p.ID); err != nil {
		t.Fatalf("RestorePost failed: %v", err)
	}
	active, err := repo.FindPost(ctx, p.ID, false)
	if err != nil || active.DeletedAt != nil {
		t.Fatalf("Expected restored post with nil deleted_at, got %v %v", active, err)
	}
	if err := repo.RestorePost(ctx, p.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Second restore should be NotFound, got %v", err)
	}
}

func TestSyncCategories_Idempotent(t *testing.T) {
	repo := New()
	ctx := context.Background()
	u := seedUser(t, repo, "cat@example.com")

	a := &db.Category{Name: "Go", Slug: "go"}
	b := &db.Category{Name: "Web", Slug: "web"}
	for _, c := range []*db.Category{a, b} {
		if err := repo.CreateCategory(ctx, c); err != nil {
			t.Fatalf("CreateCategory failed: %v", err)
		}
	}
	p := &db.Post{UserID: u.ID, Title: "T", Slug: "t", Status: db.StatusDraft}
	if err := repo.CreatePost(ctx, p, []int64{a.ID}); err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}

	res, err := repo.SyncCategories(ctx, p.ID, []int64{a.ID, b.ID, b.ID})
	if err != nil {
		t.Fatalf("SyncCategories failed: %v", err)
	}
	if len(res.Attached) != 1 || res.Attached[0] != b.ID || len(res.Detached) != 0 {
		t.Errorf("Unexpected first sync result: %+v", res)
	}

	res, err = repo.SyncCategories(ctx, p.ID, []int64{a.ID, b.ID})
	if err != nil {
		t.Fatalf("SyncCategories 2 failed: %v", err)
	}
	if len(res.Attached) != 0 || len(res.Detached) != 0 {
		t.Errorf("Second sync should be a no-op, got %+v", res)
	}

	got, _ := repo.FindPost(ctx, p.ID, false)
	if len(got.Categories) != 2 {
		t.Fatalf("Expected 2 categories, got %d", len(got.Categories))
	}

	res, _ = repo.SyncCategories(ctx, p.ID, []int64{b.ID})
	if len(res.Detached) != 1 || res.Detached[0] != a.ID {
		t.Errorf("Expected %d detached, got %+v", a.ID, res)
	}

	if _, err := repo.SyncCategories(ctx, p.ID, []int64{999}); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Unknown category should be NotFound, got %v", err)
	}
}

func TestCreatePost_DuplicateSlug(t *testing.T) {
	repo := New()
	ctx := context.Background()
	u := seedUser(t, repo, "slug@example.com")

	if err := repo.CreatePost(ctx, &db.Post{UserID: u.ID, Title: "A", Slug: "same"}, nil); err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}
	err := repo.CreatePost(ctx, &db.Post{UserID: u.ID, Title: "B", Slug: "same"}, nil)
	if !errors.Is(err, repository.ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}
}
