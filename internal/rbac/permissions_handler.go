package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/backresidences/billing/internal/platform/httpx"
	"github.com/backresidences/billing/internal/shared"
)

// PermissionsHandler exposes permission lookups.
type PermissionsHandler struct {
	logger  *slog.Logger
	service *Service
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, service: service}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/permissions", h.listPermissions)
	r.Get("/me/permissions", h.myPermissions)
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	httpx.OK(w, http.StatusOK, "", h.service.KnownPermissions())
}

func (h *PermissionsHandler) myPermissions(w http.ResponseWriter, r *http.Request) {
	caller, ok := shared.CallerFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	perms, err := h.service.EffectivePermissions(r.Context(), caller.UserID)
	if err != nil {
		h.logger.Error("list caller permissions", slog.Int64("user_id", caller.UserID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", map[string]any{"user_id": caller.UserID, "permissions": perms})
}
