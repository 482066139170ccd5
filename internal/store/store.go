// Package store provides persistent storage for routes, clients,
// permissions and rate limit configuration.
package store

import (
	"context"
	"errors"

	"github.com/vyrodovalexey/gatekeeper/internal/model"
)

// Common store errors.
var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidRecord indicates that the record failed validation.
	ErrInvalidRecord = errors.New("invalid record")
)

// Store is the storage contract consumed by the authorization engine and
// the admin surface. All lookups are by exact key. Lookups return
// ErrNotFound when no record exists; any other error indicates a
// collaborator failure and must be treated as an internal error by
// callers.
type Store interface {
	// Route operations.
	RouteByID(ctx context.Context, routeID string) (*model.Route, error)
	RouteByPattern(ctx context.Context, pattern string) (*model.Route, error)
	RoutesByService(ctx context.Context, serviceName string) ([]*model.Route, error)
	AllRoutes(ctx context.Context) ([]*model.Route, error)
	// SaveRoute inserts or fully replaces a route. An empty ID means
	// insert; the assigned ID is returned and written back to the route.
	SaveRoute(ctx context.Context, route *model.Route) (string, error)
	// DeleteRoute removes a route and cascades to dependent permissions.
	DeleteRoute(ctx context.Context, routeID string) (bool, error)

	// Client operations.
	ClientByID(ctx context.Context, clientID string) (*model.Client, error)
	ClientByAPIKey(ctx context.Context, apiKey string) (*model.Client, error)
	ClientBySharedSecret(ctx context.Context, sharedSecret string) (*model.Client, error)
	AllClients(ctx context.Context) ([]*model.Client, error)
	SaveClient(ctx context.Context, client *model.Client) (string, error)
	// DeleteClient removes a client and cascades to dependent permissions
	// and rate limit configuration.
	DeleteClient(ctx context.Context, clientID string) (bool, error)

	// Permission operations.
	PermissionByID(ctx context.Context, permissionID string) (*model.Permission, error)
	PermissionsByClient(ctx context.Context, clientID string) ([]*model.Permission, error)
	PermissionsByRoute(ctx context.Context, routeID string) ([]*model.Permission, error)
	PermissionByClientAndRoute(ctx context.Context, clientID, routeID string) (*model.Permission, error)
	// SavePermission upserts on the (client, route) pair: re-granting
	// replaces the allowed method set instead of creating a duplicate.
	SavePermission(ctx context.Context, permission *model.Permission) (string, error)
	DeletePermission(ctx context.Context, permissionID string) (bool, error)
	DeletePermissionByClientAndRoute(ctx context.Context, clientID, routeID string) (bool, error)

	// Rate limit operations. One record per client, upsert semantics.
	RateLimitByClient(ctx context.Context, clientID string) (*model.RateLimit, error)
	SaveRateLimit(ctx context.Context, limit *model.RateLimit) error
	DeleteRateLimit(ctx context.Context, clientID string) (bool, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close()
}
