package rbac

import (
	"context"
	"time"
)

// Grant ties a permission to a user.
type Grant struct {
	UserID     int64     `json:"user_id"`
	Permission string    `json:"permission"`
	GrantedAt  time.Time `json:"granted_at,omitempty"`
}

// PermissionSource loads and stores direct user grants.
type PermissionSource interface {
	UserPermissions(ctx context.Context, userID int64) ([]string, error)
	Grant(ctx context.Context, userID int64, perms []string) error
	Revoke(ctx context.Context, userID int64, perms []string) error
}
