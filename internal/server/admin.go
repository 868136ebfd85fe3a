package server

import (
	"net/http"
	"time"

	"github.com/raakeshmj/postplane/internal/audit"
	"github.com/raakeshmj/postplane/internal/config"
	apperrors "github.com/raakeshmj/postplane/internal/errors"
	"github.com/raakeshmj/postplane/internal/identity"
	"github.com/raakeshmj/postplane/internal/metrics"
	"github.com/raakeshmj/postplane/internal/middleware"
	"github.com/raakeshmj/postplane/internal/response"
	"github.com/raakeshmj/postplane/internal/service"
)

type metricsView struct {
	metrics.Stats
	Breaker string `json:"identity_breaker,omitempty"`
}

// adminMetrics reports the in-process counters and, when Redis backs a
// breaker, the identity provider circuit state.
func (s *Server) adminMetrics(w http.ResponseWriter, r *http.Request) {
	var view metricsView
	if s.deps.Metrics != nil {
		view.Stats = s.deps.Metrics.GetStats()
	}
	if s.deps.Breaker != nil {
		state, err := s.deps.Breaker.State(r.Context(), identity.BreakerService)
		if err != nil {
			view.Breaker = "unknown"
		} else {
			view.Breaker = state.String()
		}
	}
	response.Success(w, http.StatusOK, "", view)
}

func (s *Server) getRateLimit(w http.ResponseWriter, r *http.Request) {
	response.Success(w, http.StatusOK, "", s.deps.ConfigManager.GetPolicy())
}

// updateRateLimit swaps the default bucket used by policies without their
// own limit.
func (s *Server) updateRateLimit(w http.ResponseWriter, r *http.Request) {
	var next config.PolicyConfig
	if err := decodeJSON(w, r, &next); err != nil {
		response.Error(w, err)
		return
	}
	if err := s.deps.ConfigManager.UpdatePolicy(next); err != nil {
		var v apperrors.Validation
		v.Add("default_rate", err.Error())
		response.Error(w, v.Err())
		return
	}

	s.logAdmin(r, "rate_limit_update", "config", map[string]interface{}{
		"rate":  next.DefaultRateLimit,
		"burst": next.DefaultBurst,
	})
	response.Success(w, http.StatusOK, "rate limit updated", s.deps.ConfigManager.GetPolicy())
}

func (s *Server) listPolicies(w http.ResponseWriter, r *http.Request) {
	response.Success(w, http.StatusOK, "", s.deps.Policies.Policies())
}

// reloadPolicies re-reads the policy file. Without one there is nothing to
// reload and the built-in table stays in force.
func (s *Server) reloadPolicies(w http.ResponseWriter, r *http.Request) {
	if s.deps.PolicyFile == "" {
		response.Error(w, apperrors.New(apperrors.CodeNotFound, "no policy file configured"))
		return
	}
	if err := s.deps.Policies.LoadFile(s.deps.PolicyFile); err != nil {
		var v apperrors.Validation
		v.Add("policy_file", err.Error())
		response.Error(w, v.Err())
		return
	}

	policies := s.deps.Policies.Policies()
	s.logAdmin(r, "policy_reload", "policies", map[string]interface{}{
		"file":  s.deps.PolicyFile,
		"count": len(policies),
	})
	response.Success(w, http.StatusOK, "policies reloaded", policies)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var in service.AdminUserInput
	if err := decodeJSON(w, r, &in); err != nil {
		response.Error(w, err)
		return
	}
	user, err := s.deps.Auth.CreateUser(r.Context(), in)
	if err != nil {
		response.Error(w, err)
		return
	}

	// Never log the password.
	s.logAdmin(r, "user_create", "users", map[string]interface{}{
		"target_user": user.ID,
		"roles":       user.Roles,
	})
	response.Success(w, http.StatusCreated, "user created", user)
}

// logAdmin records a state-changing admin action alongside the request audit.
func (s *Server) logAdmin(r *http.Request, action, resource string, meta map[string]interface{}) {
	scope := middleware.ScopeFrom(r.Context())
	s.deps.Audit.Log(audit.LogEntry{
		Timestamp: time.Now(),
		RequestID: scope.RequestID,
		ActorID:   scope.UserID,
		Action:    action,
		Resource:  resource,
		Status:    http.StatusOK,
		Metadata:  meta,
	})
}
