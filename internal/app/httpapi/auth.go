package httpapi

import (
	"net/http"
	"strings"
)

// WrapWithAuth guards the API behind static bearer tokens and records every
// request in the audit log. An empty token list disables authentication
// (local development only).
func WrapWithAuth(next http.Handler, tokens []string, audit *AuditLog) http.Handler {
	allowed := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			allowed[t] = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(allowed) > 0 {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !allowed[token] {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}

		if audit == nil {
			next.ServeHTTP(w, r)
			return
		}
		rec := &auditRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		audit.Add(AuditEntry{
			Actor:      actorFrom(r),
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     rec.status,
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
	})
}

// actorFrom identifies the caller for audit purposes.
func actorFrom(r *http.Request) string {
	if actor := strings.TrimSpace(r.Header.Get("X-Actor")); actor != "" {
		return actor
	}
	return "anonymous"
}

type auditRecorder struct {
	http.ResponseWriter
	status int
}

func (r *auditRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
