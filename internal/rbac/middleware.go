package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/backresidences/billing/internal/platform/httpx"
	"github.com/backresidences/billing/internal/shared"
)

// DefaultIdentityHeader carries the user id set by the upstream auth proxy.
const DefaultIdentityHeader = "X-User-ID"

// PermissionChecker resolves the permissions of a user.
type PermissionChecker interface {
	EffectivePermissions(ctx context.Context, userID int64) ([]string, error)
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Service PermissionChecker
	Logger  *slog.Logger
}

// Identify stores the caller named by header (and X-User-Name) in the
// request context. Requests without a valid id pass through anonymous.
func Identify(header string, logger *slog.Logger) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultIdentityHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(header))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				if logger != nil {
					logger.Warn("rbac parse user id", slog.String("value", raw))
				}
				next.ServeHTTP(w, r)
				return
			}
			caller := shared.Caller{UserID: id, Name: strings.TrimSpace(r.Header.Get("X-User-Name"))}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithCaller(r.Context(), caller)))
		})
	}
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require("rbac require any", hasAnyPermission, perms)
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require("rbac require all", hasAllPermissions, perms)
}

func (m Middleware) require(op string, match func(granted, required []string) bool, perms []string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			caller, ok := shared.CallerFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			granted, err := m.Service.EffectivePermissions(r.Context(), caller.UserID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error(op, slog.Int64("user_id", caller.UserID), slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			if !match(granted, normalized) {
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasAnyPermission(granted []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(p)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

func hasAllPermissions(granted []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(p)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
