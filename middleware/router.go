package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/civicsetu/civicauth"
)

// SessionCookieName is the cookie carrying the opaque session token.
const SessionCookieName = "civicauth_session"

// LoginPath is where unauthenticated requests are redirected.
const LoginPath = "/login"

// Outcome is the result of a routing decision.
type Outcome uint8

const (
	// Allow renders the requested destination.
	Allow Outcome = iota
	// RedirectLogin sends the request to the login page.
	RedirectLogin
	// RedirectHome sends the request to the current role's own dashboard.
	RedirectHome
)

// Decision pairs an outcome with its redirect target.
type Decision struct {
	Outcome Outcome
	Target  string
}

// Decide is the role-routing rule, free of HTTP concerns: an anonymous
// request goes to the login page; an authenticated request with the
// wrong role goes to its own role's home, never back to login; a
// matching role passes.
func Decide(authenticated bool, current, required civicauth.Role) Decision {
	if !authenticated {
		return Decision{Outcome: RedirectLogin, Target: LoginPath}
	}
	if current != required {
		return Decision{Outcome: RedirectHome, Target: current.HomePath()}
	}
	return Decision{Outcome: Allow}
}

type authResultContextKey struct{}

// AuthResultFromContext returns the identity injected by a guard.
func AuthResultFromContext(ctx context.Context) (*civicauth.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*civicauth.AuthResult)
	return res, ok
}

// RequireRole guards a browser destination for one role. It resolves the
// session cookie against live session state on every request and applies
// [Decide]; nothing is cached, so a logout elsewhere takes effect on the
// next navigation.
func RequireRole(engine *civicauth.Engine, required civicauth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := resolveSession(engine, r)

			var current civicauth.Role
			authenticated := res != nil
			if authenticated {
				current = res.Role
			}

			switch d := Decide(authenticated, current, required); d.Outcome {
			case Allow:
				ctx := context.WithValue(r.Context(), authResultContextKey{}, res)
				next.ServeHTTP(w, r.WithContext(ctx))
			default:
				http.Redirect(w, r, d.Target, http.StatusFound)
			}
		})
	}
}

// GuardAPI guards a JSON endpoint: bearer access token first, session
// cookie as fallback, 401 otherwise.
func GuardAPI(engine *civicauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			var res *civicauth.AuthResult
			if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
				if parsed, err := engine.ValidateAccess(token); err == nil {
					res = parsed
				}
			}
			if res == nil {
				res = resolveSession(engine, r)
			}
			if res == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveSession(engine *civicauth.Engine, r *http.Request) *civicauth.AuthResult {
	if engine == nil {
		return nil
	}
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	res, err := engine.ValidateSession(r.Context(), cookie.Value)
	if err != nil {
		return nil
	}
	return res
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
