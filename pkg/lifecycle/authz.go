package lifecycle

import "net/http"

// Authorizer is the delegation point for the external permission/tier
// engine: a plain yes/no per request and action. The lifecycle manager
// does not itself enforce tier limits. A nil Authorizer allows everything.
type Authorizer interface {
	Allow(r *http.Request, action string) bool
}

// requireAuthorization wraps a handler with an authorization check.
func requireAuthorization(authorizer Authorizer, action string, next http.HandlerFunc) http.HandlerFunc {
	if authorizer == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !authorizer.Allow(r, action) {
			writeError(w, http.StatusForbidden, "operation not permitted")
			return
		}
		next(w, r)
	}
}
