package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/atlas-grants/atlas-grants/internal/shared"
	"github.com/atlas-grants/atlas-grants/internal/users"
)

// Directory resolves the authenticated user for role checks.
type Directory interface {
	Get(ctx context.Context, id int64) (users.User, error)
}

// Middleware wires role-based authorization helpers for HTTP handlers.
type Middleware struct {
	Directory Directory
	Logger    *slog.Logger
}

// RequireRole ensures the current user holds one of the given roles. The
// resolved identity is stored in the request context for handlers.
func (m Middleware) RequireRole(roles ...users.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := m.currentUser(r)
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r.WithContext(contextWithUser(r.Context(), user)))
					return
				}
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

// RequireAuthenticated ensures a logged-in user without any role constraint.
func (m Middleware) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := m.currentUser(r)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithUser(r.Context(), user)))
	})
}

func contextWithUser(ctx context.Context, user users.User) context.Context {
	return shared.ContextWithIdentity(ctx, shared.Identity{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.Name,
		Role:  string(user.Role),
	})
}

func (m Middleware) currentUser(r *http.Request) (users.User, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return users.User{}, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return users.User{}, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("rbac parse user id", slog.String("value", raw))
		}
		return users.User{}, false
	}
	user, err := m.Directory.Get(r.Context(), id)
	if err != nil || !user.IsActive {
		return users.User{}, false
	}
	return user, true
}
