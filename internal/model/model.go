// Package model defines the core data types for the authorization service:
// routes, clients, permissions and rate limits.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// HTTPMethod represents an HTTP method supported for route configuration.
type HTTPMethod string

// Supported HTTP methods.
const (
	MethodGet     HTTPMethod = "GET"
	MethodPost    HTTPMethod = "POST"
	MethodPut     HTTPMethod = "PUT"
	MethodDelete  HTTPMethod = "DELETE"
	MethodPatch   HTTPMethod = "PATCH"
	MethodHead    HTTPMethod = "HEAD"
	MethodOptions HTTPMethod = "OPTIONS"
)

// ParseHTTPMethod parses a method string into an HTTPMethod.
func ParseHTTPMethod(s string) (HTTPMethod, error) {
	m := HTTPMethod(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodDelete, MethodPatch, MethodHead, MethodOptions:
		return m, nil
	default:
		return "", fmt.Errorf("unsupported HTTP method: %q", s)
	}
}

// AuthType represents the authentication scheme required by a method policy.
type AuthType string

// Supported authentication types.
const (
	AuthTypeAPIKey AuthType = "api_key"
	AuthTypeHMAC   AuthType = "hmac"
)

// MethodPolicy describes the authentication requirements for a single
// HTTP method on a route.
type MethodPolicy struct {
	AuthRequired bool     `json:"auth_required" yaml:"authRequired"`
	AuthType     AuthType `json:"auth_type,omitempty" yaml:"authType,omitempty"`
}

// Validate checks the auth_required/auth_type pairing invariant.
func (p MethodPolicy) Validate() error {
	if p.AuthRequired {
		switch p.AuthType {
		case AuthTypeAPIKey, AuthTypeHMAC:
			return nil
		default:
			return fmt.Errorf("auth_type must be %q or %q when auth is required, got %q",
				AuthTypeAPIKey, AuthTypeHMAC, p.AuthType)
		}
	}
	if p.AuthType != "" {
		return errors.New("auth_type must be empty when auth is not required")
	}
	return nil
}

// Route represents a protected API route with per-method authentication policy.
type Route struct {
	ID            string                      `json:"route_id"`
	PathPattern   string                      `json:"path_pattern"`
	DomainPattern string                      `json:"domain_pattern"`
	ServiceName   string                      `json:"service_name"`
	Methods       map[HTTPMethod]MethodPolicy `json:"methods"`
	CreatedAt     time.Time                   `json:"created_at"`
	UpdatedAt     time.Time                   `json:"updated_at"`
}

// NewRoute creates a route with current timestamps. The ID is left empty
// for the store to assign.
func NewRoute(pathPattern, domainPattern, serviceName string, methods map[HTTPMethod]MethodPolicy) *Route {
	now := time.Now().UTC()
	if domainPattern == "" {
		domainPattern = "*"
	}
	return &Route{
		PathPattern:   pathPattern,
		DomainPattern: domainPattern,
		ServiceName:   serviceName,
		Methods:       methods,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Validate checks the route pattern, domain pattern and method invariants.
func (r *Route) Validate() error {
	if err := validatePathPattern(r.PathPattern); err != nil {
		return err
	}
	if err := validateDomainPattern(r.DomainPattern); err != nil {
		return err
	}
	if len(r.Methods) == 0 {
		return errors.New("at least one HTTP method must be configured")
	}
	for method, policy := range r.Methods {
		if _, err := ParseHTTPMethod(string(method)); err != nil {
			return err
		}
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("method %s: %w", method, err)
		}
	}
	return nil
}

// validatePathPattern validates a route path pattern: must start with /,
// and at most one wildcard, only as a trailing /*.
func validatePathPattern(pattern string) error {
	if !strings.HasPrefix(pattern, "/") {
		return fmt.Errorf("path pattern must start with /: %q", pattern)
	}
	if strings.Count(pattern, "*") > 1 {
		return fmt.Errorf("only one wildcard is allowed per path pattern: %q", pattern)
	}
	if strings.Contains(pattern, "*") && !strings.HasSuffix(pattern, "/*") {
		return fmt.Errorf("wildcard must only appear at the end as /*: %q", pattern)
	}
	return nil
}

// validateDomainPattern validates a domain pattern: "*", "*.suffix",
// or an exact hostname.
func validateDomainPattern(pattern string) error {
	if pattern == "" {
		return errors.New("domain pattern must not be empty (use * for any domain)")
	}
	if pattern == "*" {
		return nil
	}
	if strings.HasPrefix(pattern, "*.") {
		if len(pattern) == 2 || strings.Contains(pattern[2:], "*") {
			return fmt.Errorf("invalid wildcard domain pattern: %q", pattern)
		}
		return nil
	}
	if strings.Contains(pattern, "*") {
		return fmt.Errorf("domain wildcard must be * or a *.suffix pattern: %q", pattern)
	}
	return nil
}

// IsWildcard reports whether the route's path pattern ends in a wildcard.
func (r *Route) IsWildcard() bool {
	return strings.HasSuffix(r.PathPattern, "/*")
}

// MatchesPath reports whether a request path matches the route's path
// pattern: exact string equality, or a prefix match for /* patterns.
func (r *Route) MatchesPath(path string) bool {
	if r.IsWildcard() {
		prefix := strings.TrimSuffix(r.PathPattern, "/*")
		return strings.HasPrefix(path, prefix)
	}
	return path == r.PathPattern
}

// MatchesDomain reports whether a request domain matches the route's
// domain pattern. Matching is case-insensitive. A * pattern matches
// anything including an absent domain; a *.suffix pattern matches the
// bare suffix or any subdomain of it; an exact pattern matches only the
// identical domain. A non-* pattern never matches an absent domain.
func (r *Route) MatchesDomain(domain string) bool {
	pattern := strings.ToLower(r.DomainPattern)
	if pattern == "*" {
		return true
	}
	if domain == "" {
		return false
	}
	domain = strings.ToLower(domain)
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[2:]
		return domain == suffix || strings.HasSuffix(domain, "."+suffix)
	}
	return domain == pattern
}

// Policy returns the method policy for the given HTTP method, if configured.
func (r *Route) Policy(method HTTPMethod) (MethodPolicy, bool) {
	policy, ok := r.Methods[method]
	return policy, ok
}

// ClientStatus represents the lifecycle status of a client.
type ClientStatus string

// Client statuses.
const (
	ClientStatusActive    ClientStatus = "active"
	ClientStatusSuspended ClientStatus = "suspended"
	ClientStatusRevoked   ClientStatus = "revoked"
)

// Valid reports whether the status is one of the known values.
func (s ClientStatus) Valid() bool {
	switch s {
	case ClientStatusActive, ClientStatusSuspended, ClientStatusRevoked:
		return true
	}
	return false
}

// Client represents a registered API consumer.
type Client struct {
	ID           string       `json:"client_id"`
	Name         string       `json:"client_name"`
	APIKey       string       `json:"api_key,omitempty"`
	SharedSecret string       `json:"shared_secret,omitempty"`
	Status       ClientStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// NewClient creates an active client with current timestamps.
func NewClient(name, apiKey, sharedSecret string) *Client {
	now := time.Now().UTC()
	return &Client{
		Name:         name,
		APIKey:       apiKey,
		SharedSecret: sharedSecret,
		Status:       ClientStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Validate checks client invariants. Clients should carry at least one
// credential; this is a provisioning-time check, not enforced by the engine.
func (c *Client) Validate() error {
	if c.Name == "" {
		return errors.New("client name is required")
	}
	if !c.Status.Valid() {
		return fmt.Errorf("invalid client status: %q", c.Status)
	}
	if c.APIKey == "" && c.SharedSecret == "" {
		return errors.New("client must carry at least one credential")
	}
	return nil
}

// IsActive reports whether the client may authenticate.
func (c *Client) IsActive() bool {
	return c.Status == ClientStatusActive
}

// Permission represents a grant of HTTP methods a client may use on a route.
// Exactly one permission exists per (client, route) pair; re-granting
// replaces the allowed method set.
type Permission struct {
	ID             string       `json:"permission_id"`
	ClientID       string       `json:"client_id"`
	RouteID        string       `json:"route_id"`
	AllowedMethods []HTTPMethod `json:"allowed_methods"`
	CreatedAt      time.Time    `json:"created_at"`
}

// NewPermission creates a permission with the current timestamp.
func NewPermission(clientID, routeID string, methods []HTTPMethod) *Permission {
	return &Permission{
		ClientID:       clientID,
		RouteID:        routeID,
		AllowedMethods: methods,
		CreatedAt:      time.Now().UTC(),
	}
}

// Validate checks permission invariants.
func (p *Permission) Validate() error {
	if p.ClientID == "" {
		return errors.New("client_id is required")
	}
	if p.RouteID == "" {
		return errors.New("route_id is required")
	}
	if len(p.AllowedMethods) == 0 {
		return errors.New("allowed_methods must not be empty")
	}
	for _, m := range p.AllowedMethods {
		if _, err := ParseHTTPMethod(string(m)); err != nil {
			return err
		}
	}
	return nil
}

// AllowsMethod reports whether the permission covers the given method.
func (p *Permission) AllowsMethod(method HTTPMethod) bool {
	for _, m := range p.AllowedMethods {
		if m == method {
			return true
		}
	}
	return false
}

// RateLimit represents a per-client request cap over a rolling 24-hour
// window. Absence of a record means the client is unlimited.
type RateLimit struct {
	ClientID       string    `json:"client_id"`
	RequestsPerDay int       `json:"requests_per_day"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewRateLimit creates a rate limit with current timestamps.
func NewRateLimit(clientID string, requestsPerDay int) *RateLimit {
	now := time.Now().UTC()
	return &RateLimit{
		ClientID:       clientID,
		RequestsPerDay: requestsPerDay,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Validate checks rate limit invariants.
func (r *RateLimit) Validate() error {
	if r.ClientID == "" {
		return errors.New("client_id is required")
	}
	if r.RequestsPerDay <= 0 {
		return errors.New("requests_per_day must be positive")
	}
	return nil
}
