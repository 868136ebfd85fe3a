package server

import (
	"net/http"

	"github.com/raakeshmj/postplane/internal/response"
	"github.com/raakeshmj/postplane/internal/service"
)

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Categories.List(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Success(w, http.StatusOK, "", list)
}

func (s *Server) createCategory(w http.ResponseWriter, r *http.Request) {
	var in service.CategoryInput
	if err := decodeJSON(w, r, &in); err != nil {
		response.Error(w, err)
		return
	}
	c, err := s.deps.Categories.Create(r.Context(), in)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Success(w, http.StatusCreated, "category created", c)
}
