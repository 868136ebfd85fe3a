package server

import (
	"net/http"

	apperrors "github.com/raakeshmj/postplane/internal/errors"
	"github.com/raakeshmj/postplane/internal/middleware"
	"github.com/raakeshmj/postplane/internal/response"
	"github.com/raakeshmj/postplane/internal/service"
)

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var in service.SignupInput
	if err := decodeJSON(w, r, &in); err != nil {
		response.Error(w, err)
		return
	}
	session, err := s.deps.Auth.Signup(r.Context(), in)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Success(w, http.StatusCreated, "registered", session)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var in service.LoginInput
	if err := decodeJSON(w, r, &in); err != nil {
		response.Error(w, err)
		return
	}
	session, err := s.deps.Auth.Login(r.Context(), in)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Success(w, http.StatusOK, "logged in", session)
}

func (s *Server) oauth(w http.ResponseWriter, r *http.Request) {
	var in struct {
		AccessToken string   `json:"access_token"`
		Scopes      []string `json:"scopes"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		response.Error(w, err)
		return
	}
	session, created, err := s.deps.Auth.LoginWithProvider(r.Context(), in.AccessToken, in.Scopes)
	if err != nil {
		response.Error(w, err)
		return
	}
	if created {
		response.Success(w, http.StatusCreated, "registered", session)
		return
	}
	response.Success(w, http.StatusOK, "logged in", session)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		response.Error(w, err)
		return
	}
	session, err := s.deps.Auth.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Success(w, http.StatusOK, "token refreshed", session)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	user, err := caller(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		response.Error(w, apperrors.ErrMissingToken)
		return
	}
	response.Success(w, http.StatusOK, "", map[string]any{
		"user":   user,
		"scopes": claims.Scopes,
		"kind":   claims.Kind,
	})
}

// logout revokes the presenting token. The body is optional and may carry
// the refresh token to revoke alongside it.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		response.Error(w, apperrors.ErrMissingToken)
		return
	}
	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &in); err != nil {
			response.Error(w, err)
			return
		}
	}
	if err := s.deps.Auth.Logout(r.Context(), claims, in.RefreshToken); err != nil {
		response.Error(w, err)
		return
	}
	response.Success(w, http.StatusOK, "logged out", nil)
}

func (s *Server) personalToken(w http.ResponseWriter, r *http.Request) {
	user, err := caller(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		response.Error(w, apperrors.ErrMissingToken)
		return
	}
	var in struct {
		Scopes []string `json:"scopes"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &in); err != nil {
			response.Error(w, err)
			return
		}
	}
	token, err := s.deps.Auth.IssuePersonalToken(r.Context(), user, claims, in.Scopes)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Success(w, http.StatusCreated, "token created", token)
}
