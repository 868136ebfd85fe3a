package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/raakeshmj/postplane/internal/db"
	"github.com/raakeshmj/postplane/internal/repository"
)

type pivot struct {
	postID     int64
	categoryID int64
}

// MemoryRepository is a process-local store used by tests and the
// "memory" store driver. Records are copied on the way in and out.
type MemoryRepository struct {
	users      map[int64]*db.User
	emails     map[string]int64
	posts      map[int64]*db.Post
	slugs      map[string]int64
	categories map[int64]*db.Category
	pivots     map[pivot]time.Time
	nextID     int64
	now        func() time.Time
	mu         sync.RWMutex
}

func New() *MemoryRepository {
	return &MemoryRepository{
		users:      make(map[int64]*db.User),
		emails:     make(map[string]int64),
		posts:      make(map[int64]*db.Post),
		slugs:      make(map[string]int64),
		categories: make(map[int64]*db.Category),
		pivots:     make(map[pivot]time.Time),
		now:        time.Now,
	}
}

func (r *MemoryRepository) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *MemoryRepository) Ping(ctx context.Context) error { return nil }
func (r *MemoryRepository) Close() error                   { return nil }

// User Repo Implementation
func (r *MemoryRepository) CreateUser(ctx context.Context, user *db.User, roles []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, ok := r.emails[email]; ok {
		return repository.ErrConflict
	}
	if user.PasswordHash == "" && user.Provider == "" {
		return repository.ErrNoCredentials
	}

	now := r.now().UTC()
	user.ID = r.id()
	user.Email = email
	user.Roles = slices.Clone(roles)
	user.CreatedAt, user.UpdatedAt = now, now

	r.users[user.ID] = cloneUser(user)
	r.emails[email] = user.ID
	return nil
}

func (r *MemoryRepository) GetUser(ctx context.Context, id int64) (*db.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[id]; ok {
		return cloneUser(u), nil
	}
	return nil, repository.ErrNotFound
}

func (r *MemoryRepository) GetUserByEmail(ctx context.Context, email string) (*db.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.emails[strings.ToLower(email)]; ok {
		return cloneUser(r.users[id]), nil
	}
	return nil, repository.ErrNotFound
}

func (r *MemoryRepository) LinkProvider(ctx context.Context, id int64, provider, subject string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Provider = provider
	u.ProviderSubject = subject
	u.UpdatedAt = r.now().UTC()
	return nil
}

// Post Repo Implementation
func (r *MemoryRepository) CreatePost(ctx context.Context, post *db.Post, categoryIDs []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.slugs[post.Slug]; ok {
		return repository.ErrConflict
	}
	if _, ok := r.users[post.UserID]; !ok {
		return repository.ErrNotFound
	}
	ids := repository.UniqueIDs(categoryIDs)
	for _, id := range ids {
		if _, ok := r.categories[id]; !ok {
			return repository.ErrNotFound
		}
	}

	now := r.now().UTC()
	post.ID = r.id()
	post.CreatedAt, post.UpdatedAt = now, now
	post.DeletedAt = nil
	r.posts[post.ID] = clonePost(post)
	r.slugs[post.Slug] = post.ID
	for _, id := range ids {
		r.pivots[pivot{post.ID, id}] = now
	}
	r.hydrate(post)
	return nil
}

func (r *MemoryRepository) FindPost(ctx context.Context, id int64, trashed bool) (*db.Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.posts[id]
	if !ok || (p.DeletedAt != nil) != trashed {
		return nil, repository.ErrNotFound
	}
	out := clonePost(p)
	r.hydrate(out)
	return out, nil
}

func (r *MemoryRepository) ListPosts(ctx context.Context, filter db.PostFilter) ([]*db.Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var list []*db.Post
	for _, p := range r.posts {
		if p.DeletedAt != nil {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.UserID != 0 && p.UserID != filter.UserID {
			continue
		}
		if filter.CategoryID != 0 {
			if _, ok := r.pivots[pivot{p.ID, filter.CategoryID}]; !ok {
				continue
			}
		}
		out := clonePost(p)
		r.hydrate(out)
		list = append(list, out)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	if filter.Offset > 0 {
		if filter.Offset >= len(list) {
			return nil, nil
		}
		list = list[filter.Offset:]
	}
	if filter.Limit > 0 && len(list) > filter.Limit {
		list = list[:filter.Limit]
	}
	return list, nil
}

func (r *MemoryRepository) UpdatePost(ctx context.Context, post *db.Post, categoryIDs []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.posts[post.ID]
	if !ok || existing.DeletedAt != nil {
		return repository.ErrNotFound
	}
	if owner, taken := r.slugs[post.Slug]; taken && owner != post.ID {
		return repository.ErrConflict
	}
	if categoryIDs != nil {
		for _, id := range categoryIDs {
			if _, ok := r.categories[id]; !ok {
				return repository.ErrNotFound
			}
		}
	}

	delete(r.slugs, existing.Slug)
	r.slugs[post.Slug] = post.ID

	post.CreatedAt = existing.CreatedAt
	post.UpdatedAt = r.now().UTC()
	r.posts[post.ID] = clonePost(post)
	if categoryIDs != nil {
		r.syncLocked(post.ID, categoryIDs)
	}
	r.hydrate(post)
	return nil
}

func (r *MemoryRepository) SoftDeletePost(ctx context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok || p.DeletedAt != nil {
		return repository.ErrNotFound
	}
	at = at.UTC()
	p.DeletedAt = &at
	return nil
}

func (r *MemoryRepository) RestorePost(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok || p.DeletedAt == nil {
		return repository.ErrNotFound
	}
	p.DeletedAt = nil
	p.UpdatedAt = r.now().UTC()
	return nil
}

func (r *MemoryRepository) SyncCategories(ctx context.Context, postID int64, categoryIDs []int64) (db.SyncResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.posts[postID]; !ok {
		return db.SyncResult{}, repository.ErrNotFound
	}
	for _, id := range categoryIDs {
		if _, ok := r.categories[id]; !ok {
			return db.SyncResult{}, repository.ErrNotFound
		}
	}
	return r.syncLocked(postID, categoryIDs), nil
}

func (r *MemoryRepository) syncLocked(postID int64, categoryIDs []int64) db.SyncResult {
	attach, detach := repository.DiffCategories(r.categoryIDsLocked(postID), categoryIDs)
	now := r.now().UTC()
	for _, id := range detach {
		delete(r.pivots, pivot{postID, id})
	}
	for _, id := range attach {
		r.pivots[pivot{postID, id}] = now
	}
	return db.SyncResult{Attached: attach, Detached: detach}
}

func (r *MemoryRepository) categoryIDsLocked(postID int64) []int64 {
	var ids []int64
	for pv := range r.pivots {
		if pv.postID == postID {
			ids = append(ids, pv.categoryID)
		}
	}
	slices.Sort(ids)
	return ids
}

// hydrate fills the author and category projections. Caller holds mu.
func (r *MemoryRepository) hydrate(p *db.Post) {
	if u, ok := r.users[p.UserID]; ok {
		p.Author = &db.Author{ID: u.ID, Name: u.Name, Email: u.Email}
	}
	p.Categories = []db.Category{}
	for _, id := range r.categoryIDsLocked(p.ID) {
		p.Categories = append(p.Categories, *r.categories[id])
	}
}

// Category Repo Implementation
func (r *MemoryRepository) CreateCategory(ctx context.Context, category *db.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.categories {
		if c.Slug == category.Slug {
			return repository.ErrConflict
		}
	}
	category.ID = r.id()
	category.CreatedAt = r.now().UTC()
	c := *category
	r.categories[c.ID] = &c
	return nil
}

func (r *MemoryRepository) ListCategories(ctx context.Context) ([]*db.Category, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*db.Category, 0, len(r.categories))
	for _, c := range r.categories {
		cp := *c
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

func (r *MemoryRepository) MissingCategories(ctx context.Context, ids []int64) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []int64
	for _, id := range repository.UniqueIDs(ids) {
		if _, ok := r.categories[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func cloneUser(u *db.User) *db.User {
	c := *u
	c.Roles = slices.Clone(u.Roles)
	return &c
}

func clonePost(p *db.Post) *db.Post {
	c := *p
	c.Tags = slices.Clone(p.Tags)
	if p.Meta != nil {
		c.Meta = make(map[string]string, len(p.Meta))
		for k, v := range p.Meta {
			c.Meta[k] = v
		}
	}
	if p.PublishedAt != nil {
		t := *p.PublishedAt
		c.PublishedAt = &t
	}
	if p.DeletedAt != nil {
		t := *p.DeletedAt
		c.DeletedAt = &t
	}
	c.Author = nil
	c.Categories = nil
	return &c
}

// Interface check
var _ repository.Store = (*MemoryRepository)(nil)
