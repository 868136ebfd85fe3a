package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/raakeshmj/postplane/internal/db"
	apperrors "github.com/raakeshmj/postplane/internal/errors"
	"github.com/raakeshmj/postplane/internal/middleware"
	"github.com/raakeshmj/postplane/internal/response"
)

const maxJSONBody = 1 << 20

// decodeJSON reads a bounded JSON body into dst. Malformed input is a
// validation error on the body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var v apperrors.Validation
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			v.Add("body", "is too large")
		} else {
			v.Add("body", "must be valid JSON")
		}
		return v.Err()
	}
	return nil
}

// pathID parses the {id} wildcard.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.New(apperrors.CodeNotFound, "resource not found")
	}
	return id, nil
}

// caller returns the admitted user. Access guarantees one on bearer routes.
func caller(r *http.Request) (*db.User, error) {
	u, ok := middleware.UserFrom(r.Context())
	if !ok {
		return nil, apperrors.ErrMissingToken
	}
	return u, nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	response.Success(w, http.StatusOK, "ok", nil)
}

// ready checks the store and, when configured, Redis.
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"store": "ok"}
	healthy := true
	if err := s.deps.Store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		healthy = false
	}
	if s.deps.Redis != nil {
		checks["redis"] = "ok"
		if err := s.deps.Redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		}
	}

	if !healthy {
		response.WriteJSON(w, http.StatusServiceUnavailable, response.Envelope{
			Status: "error", Message: "not ready", Data: checks,
		})
		return
	}
	response.Success(w, http.StatusOK, "ready", checks)
}
