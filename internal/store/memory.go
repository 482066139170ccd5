package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/gatekeeper/internal/model"
)

// MemoryStore implements Store with in-process maps. It is intended for
// tests and single-instance development deployments; production runs use
// PostgresStore.
type MemoryStore struct {
	mu          sync.RWMutex
	routes      map[string]*model.Route
	clients     map[string]*model.Client
	permissions map[string]*model.Permission
	rateLimits  map[string]*model.RateLimit
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		routes:      make(map[string]*model.Route),
		clients:     make(map[string]*model.Client),
		permissions: make(map[string]*model.Permission),
		rateLimits:  make(map[string]*model.RateLimit),
	}
}

func copyRoute(r *model.Route) *model.Route {
	cp := *r
	cp.Methods = make(map[model.HTTPMethod]model.MethodPolicy, len(r.Methods))
	for m, p := range r.Methods {
		cp.Methods[m] = p
	}
	return &cp
}

func copyClient(c *model.Client) *model.Client {
	cp := *c
	return &cp
}

func copyPermission(p *model.Permission) *model.Permission {
	cp := *p
	cp.AllowedMethods = append([]model.HTTPMethod(nil), p.AllowedMethods...)
	return &cp
}

// RouteByID loads a route by its ID.
func (s *MemoryStore) RouteByID(_ context.Context, routeID string) (*model.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	route, ok := s.routes[routeID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRoute(route), nil
}

// RouteByPattern loads a route by its exact path pattern.
func (s *MemoryStore) RouteByPattern(_ context.Context, pattern string) (*model.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, route := range s.routes {
		if route.PathPattern == pattern {
			return copyRoute(route), nil
		}
	}
	return nil, ErrNotFound
}

// RoutesByService loads all routes for a service.
func (s *MemoryStore) RoutesByService(_ context.Context, serviceName string) ([]*model.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var routes []*model.Route
	for _, route := range s.routes {
		if route.ServiceName == serviceName {
			routes = append(routes, copyRoute(route))
		}
	}
	return routes, nil
}

// AllRoutes loads every configured route.
func (s *MemoryStore) AllRoutes(_ context.Context) ([]*model.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	routes := make([]*model.Route, 0, len(s.routes))
	for _, route := range s.routes {
		routes = append(routes, copyRoute(route))
	}
	return routes, nil
}

// SaveRoute inserts or fully replaces a route.
func (s *MemoryStore) SaveRoute(_ context.Context, route *model.Route) (string, error) {
	if err := route.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if route.ID == "" {
		route.ID = uuid.NewString()
	}
	s.routes[route.ID] = copyRoute(route)
	return route.ID, nil
}

// DeleteRoute removes a route, cascading to dependent permissions.
func (s *MemoryStore) DeleteRoute(_ context.Context, routeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.routes[routeID]; !ok {
		return false, nil
	}
	delete(s.routes, routeID)
	for id, p := range s.permissions {
		if p.RouteID == routeID {
			delete(s.permissions, id)
		}
	}
	return true, nil
}

// ClientByID loads a client by its ID.
func (s *MemoryStore) ClientByID(_ context.Context, clientID string) (*model.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	client, ok := s.clients[clientID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyClient(client), nil
}

// ClientByAPIKey loads a client by its API key.
func (s *MemoryStore) ClientByAPIKey(_ context.Context, apiKey string) (*model.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		if client.APIKey != "" && client.APIKey == apiKey {
			return copyClient(client), nil
		}
	}
	return nil, ErrNotFound
}

// ClientBySharedSecret loads a client by its shared secret.
func (s *MemoryStore) ClientBySharedSecret(_ context.Context, sharedSecret string) (*model.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		if client.SharedSecret != "" && client.SharedSecret == sharedSecret {
			return copyClient(client), nil
		}
	}
	return nil, ErrNotFound
}

// AllClients loads every registered client.
func (s *MemoryStore) AllClients(_ context.Context) ([]*model.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clients := make([]*model.Client, 0, len(s.clients))
	for _, client := range s.clients {
		clients = append(clients, copyClient(client))
	}
	return clients, nil
}

// SaveClient inserts or fully replaces a client.
func (s *MemoryStore) SaveClient(_ context.Context, client *model.Client) (string, error) {
	if err := client.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if client.ID == "" {
		client.ID = uuid.NewString()
	}
	s.clients[client.ID] = copyClient(client)
	return client.ID, nil
}

// DeleteClient removes a client, cascading to permissions and rate limits.
func (s *MemoryStore) DeleteClient(_ context.Context, clientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[clientID]; !ok {
		return false, nil
	}
	delete(s.clients, clientID)
	delete(s.rateLimits, clientID)
	for id, p := range s.permissions {
		if p.ClientID == clientID {
			delete(s.permissions, id)
		}
	}
	return true, nil
}

// PermissionByID loads a permission by its ID.
func (s *MemoryStore) PermissionByID(_ context.Context, permissionID string) (*model.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	permission, ok := s.permissions[permissionID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPermission(permission), nil
}

// PermissionsByClient loads all permissions granted to a client.
func (s *MemoryStore) PermissionsByClient(_ context.Context, clientID string) ([]*model.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var permissions []*model.Permission
	for _, p := range s.permissions {
		if p.ClientID == clientID {
			permissions = append(permissions, copyPermission(p))
		}
	}
	return permissions, nil
}

// PermissionsByRoute loads all permissions granted on a route.
func (s *MemoryStore) PermissionsByRoute(_ context.Context, routeID string) ([]*model.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var permissions []*model.Permission
	for _, p := range s.permissions {
		if p.RouteID == routeID {
			permissions = append(permissions, copyPermission(p))
		}
	}
	return permissions, nil
}

// PermissionByClientAndRoute loads the unique permission for a
// (client, route) pair.
func (s *MemoryStore) PermissionByClientAndRoute(_ context.Context, clientID, routeID string) (*model.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.permissions {
		if p.ClientID == clientID && p.RouteID == routeID {
			return copyPermission(p), nil
		}
	}
	return nil, ErrNotFound
}

// SavePermission upserts a permission on the (client, route) pair.
func (s *MemoryStore) SavePermission(_ context.Context, permission *model.Permission) (string, error) {
	if err := permission.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.permissions {
		if existing.ClientID == permission.ClientID && existing.RouteID == permission.RouteID {
			permission.ID = id
			updated := copyPermission(existing)
			updated.AllowedMethods = append([]model.HTTPMethod(nil), permission.AllowedMethods...)
			s.permissions[id] = updated
			return id, nil
		}
	}
	if permission.ID == "" {
		permission.ID = uuid.NewString()
	}
	s.permissions[permission.ID] = copyPermission(permission)
	return permission.ID, nil
}

// DeletePermission removes a permission by its ID.
func (s *MemoryStore) DeletePermission(_ context.Context, permissionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permissions[permissionID]; !ok {
		return false, nil
	}
	delete(s.permissions, permissionID)
	return true, nil
}

// DeletePermissionByClientAndRoute removes the permission for a
// (client, route) pair.
func (s *MemoryStore) DeletePermissionByClientAndRoute(_ context.Context, clientID, routeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.permissions {
		if p.ClientID == clientID && p.RouteID == routeID {
			delete(s.permissions, id)
			return true, nil
		}
	}
	return false, nil
}

// RateLimitByClient loads the rate limit configuration for a client.
func (s *MemoryStore) RateLimitByClient(_ context.Context, clientID string) (*model.RateLimit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit, ok := s.rateLimits[clientID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *limit
	return &cp, nil
}

// SaveRateLimit upserts the rate limit configuration for a client.
func (s *MemoryStore) SaveRateLimit(_ context.Context, limit *model.RateLimit) error {
	if err := limit.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *limit
	s.rateLimits[limit.ClientID] = &cp
	return nil
}

// DeleteRateLimit removes the rate limit configuration for a client.
func (s *MemoryStore) DeleteRateLimit(_ context.Context, clientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rateLimits[clientID]; !ok {
		return false, nil
	}
	delete(s.rateLimits, clientID)
	return true, nil
}

// Ping verifies the store is reachable.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close releases the store's resources.
func (s *MemoryStore) Close() {}
