// Package auth trusts identity headers that an upstream gateway sets after
// verifying the caller's JWT.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
)

type contextKey string

const (
	subjectKey contextKey = "subject"
	scopesKey  contextKey = "scopes"
)

// ScopeAdmin allows changing engine-wide settings such as the policy.
const ScopeAdmin = "adaptive:admin"

// Config names the gateway headers. With Enabled false every request passes
// through unauthenticated.
type Config struct {
	Enabled         bool   `yaml:"enabled"`
	RequireVerified bool   `yaml:"require_verified"`
	SubjectHeader   string `yaml:"subject_header"`
	ScopesHeader    string `yaml:"scopes_header"`
	VerifiedHeader  string `yaml:"verified_header"`
}

// DefaultConfig returns the header names Envoy and NGINX setups use here.
func DefaultConfig() Config {
	return Config{
		RequireVerified: true,
		SubjectHeader:   "X-User-ID",
		ScopesHeader:    "X-Scopes",
		VerifiedHeader:  "X-Auth-Verified",
	}
}

// Middleware binds the gateway-verified subject and scopes to the request
// context. /health and /metrics are never checked.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			if cfg.RequireVerified && r.Header.Get(cfg.VerifiedHeader) != "true" {
				sendError(w, http.StatusUnauthorized, "unauthorized: gateway verification required")
				return
			}
			subject := r.Header.Get(cfg.SubjectHeader)
			if subject == "" {
				sendError(w, http.StatusUnauthorized, "unauthorized: missing subject")
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey, subject)
			if scopes := parseScopes(r.Header.Get(cfg.ScopesHeader)); len(scopes) > 0 {
				ctx = context.WithValue(ctx, scopesKey, scopes)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// parseScopes accepts a JSON array or a comma-separated list.
func parseScopes(raw string) []string {
	if raw == "" {
		return nil
	}
	var scopes []string
	if err := json.Unmarshal([]byte(raw), &scopes); err == nil {
		return scopes
	}
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

// Subject returns the authenticated caller, if any.
func Subject(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(subjectKey).(string)
	return s, ok
}

// HasScope reports whether the caller was granted scope.
func HasScope(ctx context.Context, scope string) bool {
	scopes, _ := ctx.Value(scopesKey).([]string)
	return slices.Contains(scopes, scope)
}

func sendError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
