package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/vyrodovalexey/gatekeeper/internal/model"
	"github.com/vyrodovalexey/gatekeeper/internal/store"
)

// PermissionSource resolves permission grants. It is implemented by the
// storage layer.
type PermissionSource interface {
	PermissionByClientAndRoute(ctx context.Context, clientID, routeID string) (*model.Permission, error)
}

// PermissionChecker decides whether a client may invoke a method on a
// route based on its stored grant.
type PermissionChecker struct {
	permissions PermissionSource
}

// NewPermissionChecker creates a permission checker.
func NewPermissionChecker(permissions PermissionSource) *PermissionChecker {
	return &PermissionChecker{permissions: permissions}
}

// Check looks up the unique grant for the (client, route) pair. A missing
// grant denies with ReasonNoPermission; a grant that does not cover the
// method denies with ReasonMethodNotAllowed. The error return is non-nil
// only for collaborator failures.
func (c *PermissionChecker) Check(ctx context.Context, clientID, routeID string, method model.HTTPMethod) (bool, string, error) {
	permission, err := c.permissions.PermissionByClientAndRoute(ctx, clientID, routeID)
	if errors.Is(err, store.ErrNotFound) {
		return false, ReasonNoPermission, nil
	}
	if err != nil {
		return false, "", fmt.Errorf("permission lookup: %w", err)
	}
	if !permission.AllowsMethod(method) {
		return false, ReasonMethodNotAllowed, nil
	}
	return true, "", nil
}
