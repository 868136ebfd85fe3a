package service

import (
	"context"
	"errors"
	"strings"

	"github.com/raakeshmj/postplane/internal/db"
	apperrors "github.com/raakeshmj/postplane/internal/errors"
	"github.com/raakeshmj/postplane/internal/repository"
	"github.com/raakeshmj/postplane/internal/slug"
)

type CategoryService struct {
	categories repository.CategoryRepository
}

func NewCategoryService(categories repository.CategoryRepository) *CategoryService {
	return &CategoryService{categories: categories}
}

type CategoryInput struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

func (s *CategoryService) List(ctx context.Context) ([]*db.Category, error) {
	list, err := s.categories.ListCategories(ctx)
	if err != nil {
		return nil, storeError(err, "categories")
	}
	return list, nil
}

func (s *CategoryService) Create(ctx context.Context, in CategoryInput) (*db.Category, error) {
	c := &db.Category{Name: strings.TrimSpace(in.Name), Slug: strings.TrimSpace(in.Slug)}
	if c.Slug == "" {
		c.Slug = slug.Make(c.Name)
	}

	var v apperrors.Validation
	requireString(&v, "name", c.Name, maxStringLength)
	if c.Name != "" && !slug.Valid(c.Slug) {
		v.Add("slug", "may only contain lowercase letters, digits and single hyphens")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	if err := s.categories.CreateCategory(ctx, c); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fieldConflict("slug", "has already been taken", err)
		}
		return nil, storeError(err, "category")
	}
	return c, nil
}
