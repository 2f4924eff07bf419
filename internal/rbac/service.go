package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/backresidences/billing/internal/shared"
)

// ErrUnknownPermission indicates a permission outside the known catalog.
var ErrUnknownPermission = errors.New("rbac: unknown permission")

// Service resolves and manages user permissions.
type Service struct {
	source PermissionSource
	known  map[string]struct{}
}

// NewService constructs a Service. The billing permissions are always known.
func NewService(source PermissionSource) *Service {
	known := make(map[string]struct{})
	for _, p := range shared.BillingPermissions() {
		known[p] = struct{}{}
	}
	return &Service{source: source, known: known}
}

// KnownPermissions returns the catalog sorted by name.
func (s *Service) KnownPermissions() []string {
	out := make([]string, 0, len(s.known))
	for p := range s.known {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// EffectivePermissions returns deduplicated permission names for a user.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.source.UserPermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return normalizePermissions(rows), nil
}

// Grant gives userID the listed permissions.
func (s *Service) Grant(ctx context.Context, userID int64, perms ...string) error {
	normalized, err := s.checkKnown(userID, perms)
	if err != nil {
		return err
	}
	return s.source.Grant(ctx, userID, normalized)
}

// Revoke removes the listed permissions from userID.
func (s *Service) Revoke(ctx context.Context, userID int64, perms ...string) error {
	normalized, err := s.checkKnown(userID, perms)
	if err != nil {
		return err
	}
	return s.source.Revoke(ctx, userID, normalized)
}

func (s *Service) checkKnown(userID int64, perms []string) ([]string, error) {
	if userID <= 0 {
		return nil, errors.New("rbac: user id required")
	}
	normalized := normalizePermissions(perms)
	if len(normalized) == 0 {
		return nil, errors.New("rbac: at least one permission required")
	}
	for _, p := range normalized {
		if _, ok := s.known[p]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPermission, p)
		}
	}
	return normalized, nil
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		unique[p] = struct{}{}
	}
	normalized := make([]string, 0, len(unique))
	for p := range unique {
		normalized = append(normalized, p)
	}
	sort.Strings(normalized)
	return normalized
}
