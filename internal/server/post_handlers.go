package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/raakeshmj/postplane/internal/db"
	apperrors "github.com/raakeshmj/postplane/internal/errors"
	"github.com/raakeshmj/postplane/internal/response"
	"github.com/raakeshmj/postplane/internal/service"
)

// postView adds the public cover URL to a post.
type postView struct {
	*db.Post
	CoverURL string `json:"cover_image_url,omitempty"`
}

func (s *Server) view(p *db.Post) postView {
	return postView{Post: p, CoverURL: s.deps.Posts.CoverURL(p.CoverImage)}
}

func (s *Server) listPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var v apperrors.Validation
	filter := db.PostFilter{Status: db.PostStatus(q.Get("status"))}
	filter.UserID = queryInt(&v, q.Get("user_id"), "user_id")
	filter.CategoryID = queryInt(&v, q.Get("category_id"), "category_id")
	filter.Limit = int(queryInt(&v, q.Get("limit"), "limit"))
	filter.Offset = int(queryInt(&v, q.Get("offset"), "offset"))
	if err := v.Err(); err != nil {
		response.Error(w, err)
		return
	}

	posts, err := s.deps.Posts.List(r.Context(), filter)
	if err != nil {
		response.Error(w, err)
		return
	}
	views := make([]postView, 0, len(posts))
	for _, p := range posts {
		views = append(views, s.view(p))
	}
	response.Success(w, http.StatusOK, "", views)
}

func queryInt(v *apperrors.Validation, raw, field string) int64 {
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		v.Add(field, "must be a non-negative integer")
		return 0
	}
	return n
}

func (s *Server) showPost(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	post, err := s.deps.Posts.Get(r.Context(), id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Success(w, http.StatusOK, "", s.view(post))
}

func (s *Server) createPost(w http.ResponseWriter, r *http.Request) {
	user, err := caller(r)
	if err != nil {
		response.Error(w, err)
		return
	}

	var in service.PostInput
	if isMultipart(r) {
		form, err := readPostForm(w, r)
		if err != nil {
			response.Error(w, err)
			return
		}
		in = form.input()
	} else if err := decodeJSON(w, r, &in); err != nil {
		response.Error(w, err)
		return
	}

	post, err := s.deps.Posts.Create(r.Context(), user, in)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Success(w, http.StatusCreated, "post created", s.view(post))
}

func (s *Server) updatePost(w http.ResponseWriter, r *http.Request) {
	user, err := caller(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		response.Error(w, err)
		return
	}

	var patch service.PostPatch
	if isMultipart(r) {
		form, err := readPostForm(w, r)
		if err != nil {
			response.Error(w, err)
			return
		}
		patch = form.patch()
	} else if err := decodeJSON(w, r, &patch); err != nil {
		response.Error(w, err)
		return
	}

	post, err := s.deps.Posts.Update(r.Context(), user, id, patch)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Success(w, http.StatusOK, "post updated", s.view(post))
}

func (s *Server) deletePost(w http.ResponseWriter, r *http.Request) {
	user, err := caller(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	if err := s.deps.Posts.Delete(r.Context(), user, id); err != nil {
		response.Error(w, err)
		return
	}
	response.NoContent(w)
}

func (s *Server) restorePost(w http.ResponseWriter, r *http.Request) {
	user, err := caller(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	post, err := s.deps.Posts.Restore(r.Context(), user, id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Success(w, http.StatusOK, "post restored", s.view(post))
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

// postForm is a parsed multipart post body. Only fields present in the form
// are set, so the same form serves create and partial update.
type postForm struct {
	values     map[string][]string
	cover      *service.Upload
	categories []int64
	tags       []string
	meta       map[string]string
	published  *time.Time
}

func readPostForm(w http.ResponseWriter, r *http.Request) (*postForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, service.MaxCoverSize+maxJSONBody)
	if err := r.ParseMultipartForm(service.MaxCoverSize + maxJSONBody); err != nil {
		var v apperrors.Validation
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			v.Add("cover_image", "may not be greater than 2048 kilobytes")
		} else {
			v.Add("body", "must be valid multipart form data")
		}
		return nil, v.Err()
	}

	f := &postForm{values: r.MultipartForm.Value}
	var v apperrors.Validation

	file, header, err := r.FormFile("cover_image")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		return nil, fmt.Errorf("read cover upload: %w", err)
	default:
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, service.MaxCoverSize+1))
		if err != nil {
			return nil, fmt.Errorf("read cover upload: %w", err)
		}
		f.cover = &service.Upload{Filename: header.Filename, Data: data}
	}

	if ids, ok := f.list("category_ids"); ok {
		f.categories = []int64{}
		for _, raw := range ids {
			if raw == "" {
				continue
			}
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				v.Add("category_ids", fmt.Sprintf("%q is not an id", raw))
				continue
			}
			f.categories = append(f.categories, id)
		}
	}
	if tags, ok := f.list("tags"); ok {
		f.tags = []string{}
		for _, t := range tags {
			if t != "" {
				f.tags = append(f.tags, t)
			}
		}
	}
	for key, vals := range f.values {
		name, ok := strings.CutPrefix(key, "meta[")
		if !ok || !strings.HasSuffix(name, "]") || len(vals) == 0 {
			continue
		}
		if f.meta == nil {
			f.meta = map[string]string{}
		}
		f.meta[strings.TrimSuffix(name, "]")] = vals[0]
	}
	if raw, ok := f.value("published_at"); ok && raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			v.Add("published_at", "must be an RFC 3339 timestamp")
		} else {
			f.published = &t
		}
	}
	if err := v.Err(); err != nil {
		return nil, err
	}
	return f, nil
}

// list accepts both "name" and "name[]" keys.
func (f *postForm) list(name string) ([]string, bool) {
	if vals, ok := f.values[name+"[]"]; ok {
		return vals, true
	}
	vals, ok := f.values[name]
	return vals, ok
}

func (f *postForm) value(name string) (string, bool) {
	vals, ok := f.values[name]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

func (f *postForm) ptr(name string) *string {
	if v, ok := f.value(name); ok {
		return &v
	}
	return nil
}

func (f *postForm) input() service.PostInput {
	in := service.PostInput{
		Tags:        f.tags,
		Meta:        f.meta,
		CategoryIDs: f.categories,
		PublishedAt: f.published,
		Cover:       f.cover,
	}
	in.Title, _ = f.value("title")
	in.Slug, _ = f.value("slug")
	in.Content, _ = f.value("content")
	status, _ := f.value("status")
	in.Status = db.PostStatus(status)
	return in
}

func (f *postForm) patch() service.PostPatch {
	p := service.PostPatch{
		Title:       f.ptr("title"),
		Slug:        f.ptr("slug"),
		Content:     f.ptr("content"),
		PublishedAt: f.published,
		Tags:        f.tags,
		Meta:        f.meta,
		CategoryIDs: f.categories,
		Cover:       f.cover,
	}
	if status, ok := f.value("status"); ok {
		st := db.PostStatus(status)
		p.Status = &st
	}
	return p
}
