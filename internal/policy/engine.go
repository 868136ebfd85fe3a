// Package policy maps requests to route rules: whether a bearer token is
// required, which roles and scope admit the caller, and the rate limit.
package policy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/raakeshmj/postplane/internal/auth"
)

// Matcher defines criteria to apply a policy
type Matcher struct {
	Method string `json:"method,omitempty"` // "*" or specific
	// Path is a segment pattern: "{name}" matches one segment and
	// "{name...}" matches the rest of the path.
	Path string `json:"path"`
}

// Rules defines what to enforce
type Rules struct {
	AuthRequired bool     `json:"auth_required"`
	Roles        []string `json:"roles,omitempty"`
	Scope        string   `json:"scope,omitempty"`
	RateLimit    float64  `json:"rate_limit,omitempty"` // Requests per second, 0 uses the dynamic default
	Burst        int      `json:"burst,omitempty"`
}

// Requirement converts the rules into the access check input.
func (r Rules) Requirement() auth.Requirement {
	return auth.Requirement{
		Authenticated: r.AuthRequired,
		Roles:         r.Roles,
		Scope:         r.Scope,
	}
}

// Policy is a named set of rules
type Policy struct {
	ID      string  `json:"id"`
	Matcher Matcher `json:"matcher"`
	Rules   Rules   `json:"rules"`
}

func (p Policy) validate() error {
	if p.ID == "" {
		return fmt.Errorf("policy without id")
	}
	if !strings.HasPrefix(p.Matcher.Path, "/") {
		return fmt.Errorf("policy %s: path must start with /", p.ID)
	}
	if p.Rules.Scope != "" && !auth.KnownScope(p.Rules.Scope) {
		return fmt.Errorf("policy %s: unknown scope %q", p.ID, p.Rules.Scope)
	}
	if (len(p.Rules.Roles) > 0 || p.Rules.Scope != "") && !p.Rules.AuthRequired {
		return fmt.Errorf("policy %s: roles and scope need auth_required", p.ID)
	}
	if p.Rules.RateLimit < 0 || p.Rules.Burst < 0 {
		return fmt.Errorf("policy %s: negative rate limit", p.ID)
	}
	return nil
}

// Engine evaluates requests against policies
type Engine struct {
	mu       sync.RWMutex
	policies []Policy
}

func NewEngine() *Engine {
	return &Engine{
		policies: []Policy{},
	}
}

// LoadPolicies validates and replaces the current set.
func (e *Engine) LoadPolicies(newPolicies []Policy) error {
	for _, p := range newPolicies {
		if err := p.validate(); err != nil {
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies = append([]Policy(nil), newPolicies...)
	return nil
}

// LoadFile reads a JSON array of policies from path.
func (e *Engine) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	var policies []Policy
	if err := json.Unmarshal(data, &policies); err != nil {
		return fmt.Errorf("decode policy file: %w", err)
	}
	return e.LoadPolicies(policies)
}

// Policies returns a copy of the loaded set in evaluation order.
func (e *Engine) Policies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Policy(nil), e.policies...)
}

// Evaluate finds the first matching policy
// Conflict Resolution: First Match Wins (ordered list).
func (e *Engine) Evaluate(r *http.Request) *Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for i := range e.policies {
		p := e.policies[i]
		if match(p.Matcher, r) {
			return &p
		}
	}
	return nil
}

func match(m Matcher, r *http.Request) bool {
	if !matchMethod(m.Method, r.Method) {
		return false
	}
	return matchPath(m.Path, r.URL.Path)
}

// matchMethod lets a GET matcher also cover HEAD, since the mux serves HEAD
// through GET handlers.
func matchMethod(want, have string) bool {
	switch want {
	case "", "*", have:
		return true
	case http.MethodGet:
		return have == http.MethodHead
	}
	return false
}

func matchPath(pattern, path string) bool {
	want := strings.Split(strings.Trim(pattern, "/"), "/")
	have := strings.Split(strings.Trim(path, "/"), "/")

	for i, seg := range want {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "...}") {
			return true
		}
		if i >= len(have) {
			return false
		}
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			if have[i] == "" {
				return false
			}
			continue
		}
		if seg != have[i] {
			return false
		}
	}
	return len(want) == len(have)
}
